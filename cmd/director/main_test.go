package main

import (
	"testing"

	"github.com/cuemby/postoffice/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerHostArgsOmitsBrokerSocketWhenDisabled(t *testing.T) {
	cfg := config.Default()
	args := workerHostArgs("/tmp/region.shm", cfg, "info", "/tmp/issuer.sock.broker", "run-1", false)

	assert.NotContains(t, args, "--broker-socket")
	assert.Contains(t, args, "/tmp/region.shm")
}

func TestWorkerHostArgsIncludesBrokerSocketWhenEnabled(t *testing.T) {
	cfg := config.Default()
	args := workerHostArgs("/tmp/region.shm", cfg, "info", "/tmp/issuer.sock.broker", "run-1", true)

	require.Contains(t, args, "--broker-socket")
	idx := indexOf(args, "--broker-socket")
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx+1, len(args))
	assert.Equal(t, "/tmp/issuer.sock.broker", args[idx+1])
}

func TestWorkerHostArgsIncludesRunID(t *testing.T) {
	cfg := config.Default()
	args := workerHostArgs("/tmp/region.shm", cfg, "info", "/tmp/issuer.sock.broker", "run-42", false)

	idx := indexOf(args, "--run-id")
	require.GreaterOrEqual(t, idx, 0)
	require.Less(t, idx+1, len(args))
	assert.Equal(t, "run-42", args[idx+1])
}

func TestItoaFormatsPlainDecimal(t *testing.T) {
	assert.Equal(t, "42", itoa(42))
	assert.Equal(t, "0", itoa(0))
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}
