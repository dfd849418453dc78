package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultSocketPath derives the Ticket Issuer's listening path from the
// calling user's profile, falling back to /tmp (spec §4.4). The directory
// is created with owner-only permissions.
func DefaultSocketPath() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "postoffice")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		dir = filepath.Join(os.TempDir(), "postoffice")
		_ = os.MkdirAll(dir, 0o700)
	}
	return filepath.Join(dir, fmt.Sprintf("issuer-%d.sock", os.Getuid()))
}

// DefaultRegionPath derives the shared-memory region's backing path the
// same way, so creation can unlink a stale region from a previous
// partial-failure run before remapping it (spec §3 lifecycle, §4.1).
func DefaultRegionPath() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "postoffice")
	_ = os.MkdirAll(dir, 0o700)
	return filepath.Join(dir, fmt.Sprintf("shm-%d.region", os.Getuid()))
}
