package issuer

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/cuemby/postoffice/pkg/wireproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *shm.Region) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "region.shm")
	region, err := shm.Create(path, types.Params{
		NWorkers:        1,
		NumServiceTypes: 2,
		SimDurationDays: 1,
		TickNanos:       1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = region.Destroy() })

	s := NewServer(Config{PoolSize: 1, NumServiceTypes: 2}, region)
	return s, region
}

// TestHandleTicketReqAssignsSequentialTickets verifies two consecutive
// TICKET_REQ exchanges get distinct, increasing ticket numbers and that
// stats.tickets_issued tracks them.
func TestHandleTicketReqAssignsSequentialTickets(t *testing.T) {
	s, region := newTestServer(t)

	for i := 0; i < 2; i++ {
		client, server := net.Pipe()
		done := make(chan struct{})
		go func() {
			s.handleConn(server)
			close(done)
		}()

		req := wireproto.TicketReq{RequesterPID: 1, RequesterTID: 1, ServiceType: 0}
		_, err := client.Write(wireproto.Frame(wireproto.MsgTicketReq, req.Encode()))
		require.NoError(t, err)

		var hdrBuf [wireproto.HeaderSize]byte
		_, err = readFull(client, hdrBuf[:])
		require.NoError(t, err)
		hdr, err := wireproto.DecodeHeader(hdrBuf[:])
		require.NoError(t, err)
		assert.Equal(t, wireproto.MsgTicketResp, hdr.Type)

		payload := make([]byte, hdr.PayloadLen)
		_, err = readFull(client, payload)
		require.NoError(t, err)
		resp, err := wireproto.DecodeTicketResp(payload)
		require.NoError(t, err)
		assert.EqualValues(t, i, resp.TicketNumber)

		client.Close()
		<-done
	}

	assert.EqualValues(t, 2, region.Hdr().Stats.TicketsIssued)
	assert.EqualValues(t, 2, shm.Depth(region.Queue(0)))
}

// TestHandleConnRejectsMalformedHeader ensures a short/garbled header
// increments the protocol error counter and the connection is dropped.
func TestHandleConnRejectsMalformedHeader(t *testing.T) {
	s, region := newTestServer(t)

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.handleConn(server)
		close(done)
	}()

	_, err := client.Write([]byte{0x01, 0x02})
	require.NoError(t, err)
	client.Close()
	<-done

	assert.EqualValues(t, 1, region.Hdr().Stats.ProtocolErrors)
}

// TestHandleConnRejectsUnknownMessageType covers the "unknown message
// type" protocol-error path.
func TestHandleConnRejectsUnknownMessageType(t *testing.T) {
	s, region := newTestServer(t)

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.handleConn(server)
		close(done)
	}()

	frame := wireproto.Frame(wireproto.MsgType(0xEE), nil)
	_, err := client.Write(frame)
	require.NoError(t, err)
	client.Close()
	<-done

	assert.EqualValues(t, 1, region.Hdr().Stats.ProtocolErrors)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
