package broker

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cuemby/postoffice/pkg/types"
	"github.com/cuemby/postoffice/pkg/wireproto"
)

// Client is a worker's GET_WORK pull client against a Work Broker socket,
// dialed once and reused across a worker's entire run (spec §4.5: the
// broker's internal queues replace the shared-memory rings of §4.6 for
// participating workers).
type Client struct {
	conn net.Conn
}

// Dial connects to a Work Broker listening on socketPath.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// GetWork pulls the next ticket for serviceType. ok==false means the
// broker had no work right now, not an error (spec §4.5 GET_WORK).
func (c *Client) GetWork(workerPID int32, serviceType int) (ticket types.Ticket, isVIP bool, ok bool, err error) {
	_ = c.conn.SetDeadline(time.Now().Add(2 * time.Second))

	req := wireproto.GetWork{WorkerPID: workerPID, ServiceType: int32(serviceType)}
	if _, err = c.conn.Write(wireproto.Frame(wireproto.MsgGetWork, req.Encode())); err != nil {
		return 0, false, false, fmt.Errorf("broker: write GET_WORK: %w", err)
	}

	var hdrBuf [wireproto.HeaderSize]byte
	if _, err = io.ReadFull(c.conn, hdrBuf[:]); err != nil {
		return 0, false, false, fmt.Errorf("broker: read header: %w", err)
	}
	hdr, err := wireproto.DecodeHeader(hdrBuf[:])
	if err != nil {
		return 0, false, false, err
	}
	if hdr.Type != wireproto.MsgWorkItem {
		return 0, false, false, &wireproto.ErrProtocol{Reason: "expected WORK_ITEM"}
	}

	payload := make([]byte, hdr.PayloadLen)
	if _, err = io.ReadFull(c.conn, payload); err != nil {
		return 0, false, false, fmt.Errorf("broker: read payload: %w", err)
	}
	item, err := wireproto.DecodeWorkItem(payload)
	if err != nil {
		return 0, false, false, err
	}
	if item.TicketNumber == 0 {
		return 0, false, false, nil
	}
	return types.Ticket(item.TicketNumber), item.IsVIP, true, nil
}
