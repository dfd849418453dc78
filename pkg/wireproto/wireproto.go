// Package wireproto implements the Ticket Issuer / Work Broker's binary
// framing: a small fixed header followed by a fixed-size payload, matching
// the spec's explicit precluding of gRPC/protobuf for this local,
// same-host-only exchange.
package wireproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Version is the only wire format this build speaks.
const Version uint16 = 1

// MsgType identifies the payload that follows a Header.
type MsgType uint8

const (
	MsgTicketReq MsgType = iota + 1
	MsgTicketResp
	MsgJoinQueue
	MsgJoinAck
	MsgGetWork
	MsgWorkItem
)

func (t MsgType) String() string {
	switch t {
	case MsgTicketReq:
		return "TICKET_REQ"
	case MsgTicketResp:
		return "TICKET_RESP"
	case MsgJoinQueue:
		return "JOIN_QUEUE"
	case MsgJoinAck:
		return "JOIN_ACK"
	case MsgGetWork:
		return "GET_WORK"
	case MsgWorkItem:
		return "WORK_ITEM"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// HeaderSize is the fixed, on-wire size of Header.
const HeaderSize = 8

// Header precedes every payload: version:u16, msg_type:u8, flags:u8,
// payload_len:u32, little-endian.
type Header struct {
	Version    uint16
	Type       MsgType
	Flags      uint8
	PayloadLen uint32
}

// ErrProtocol marks a malformed header or payload-size mismatch; callers
// should drop the connection and bump a protocol-error counter.
type ErrProtocol struct{ Reason string }

func (e *ErrProtocol) Error() string { return "wireproto: protocol error: " + e.Reason }

// EncodeHeader serializes h to its 8-byte wire form.
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], h.Version)
	buf[2] = byte(h.Type)
	buf[3] = h.Flags
	binary.LittleEndian.PutUint32(buf[4:8], h.PayloadLen)
	return buf
}

// DecodeHeader parses an 8-byte wire header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, &ErrProtocol{Reason: fmt.Sprintf("header must be %d bytes, got %d", HeaderSize, len(buf))}
	}
	h := Header{
		Version:    binary.LittleEndian.Uint16(buf[0:2]),
		Type:       MsgType(buf[2]),
		Flags:      buf[3],
		PayloadLen: binary.LittleEndian.Uint32(buf[4:8]),
	}
	if h.Version != Version {
		return Header{}, &ErrProtocol{Reason: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	return h, nil
}

// ExpectedPayloadLen returns the exact byte size mandated for msgType, or
// an error for an unrecognized type. payload_len mismatches are protocol
// errors, not merely warnings (spec §4.4, §6).
func ExpectedPayloadLen(t MsgType) (uint32, error) {
	switch t {
	case MsgTicketReq:
		return TicketReqSize, nil
	case MsgTicketResp:
		return TicketRespSize, nil
	case MsgJoinQueue:
		return JoinQueueSize, nil
	case MsgJoinAck:
		return JoinAckSize, nil
	case MsgGetWork:
		return GetWorkSize, nil
	case MsgWorkItem:
		return WorkItemSize, nil
	default:
		return 0, &ErrProtocol{Reason: fmt.Sprintf("unknown message type %d", uint8(t))}
	}
}

const (
	TicketReqSize  = 12
	TicketRespSize = 8
	JoinQueueSize  = 12
	JoinAckSize    = 8
	GetWorkSize    = 8
	WorkItemSize   = 8
)

// TicketReq is the Ticket Issuer's request payload (spec §4.4).
type TicketReq struct {
	RequesterPID int32
	RequesterTID int32
	ServiceType  int32
}

func (r TicketReq) Encode() []byte {
	buf := make([]byte, TicketReqSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.RequesterPID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.RequesterTID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.ServiceType))
	return buf
}

func DecodeTicketReq(buf []byte) (TicketReq, error) {
	if len(buf) != TicketReqSize {
		return TicketReq{}, &ErrProtocol{Reason: "TICKET_REQ payload size mismatch"}
	}
	return TicketReq{
		RequesterPID: int32(binary.LittleEndian.Uint32(buf[0:4])),
		RequesterTID: int32(binary.LittleEndian.Uint32(buf[4:8])),
		ServiceType:  int32(binary.LittleEndian.Uint32(buf[8:12])),
	}, nil
}

// TicketResp is the Ticket Issuer's response payload (spec §4.4).
type TicketResp struct {
	TicketNumber    uint32
	AssignedService int32
}

func (r TicketResp) Encode() []byte {
	buf := make([]byte, TicketRespSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.TicketNumber)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.AssignedService))
	return buf
}

func DecodeTicketResp(buf []byte) (TicketResp, error) {
	if len(buf) != TicketRespSize {
		return TicketResp{}, &ErrProtocol{Reason: "TICKET_RESP payload size mismatch"}
	}
	return TicketResp{
		TicketNumber:    binary.LittleEndian.Uint32(buf[0:4]),
		AssignedService: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// JoinQueue is the Work Broker's enqueue request (spec §4.5).
type JoinQueue struct {
	RequesterPID int32
	ServiceType  int32
	IsVIP        bool
}

func (r JoinQueue) Encode() []byte {
	buf := make([]byte, JoinQueueSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.RequesterPID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.ServiceType))
	if r.IsVIP {
		buf[8] = 1
	}
	return buf
}

func DecodeJoinQueue(buf []byte) (JoinQueue, error) {
	if len(buf) != JoinQueueSize {
		return JoinQueue{}, &ErrProtocol{Reason: "JOIN_QUEUE payload size mismatch"}
	}
	return JoinQueue{
		RequesterPID: int32(binary.LittleEndian.Uint32(buf[0:4])),
		ServiceType:  int32(binary.LittleEndian.Uint32(buf[4:8])),
		IsVIP:        buf[8] != 0,
	}, nil
}

// JoinAck is the Work Broker's enqueue acknowledgment (spec §4.5).
type JoinAck struct {
	TicketNumber    uint32
	EstimatedWaitMs uint32
}

func (r JoinAck) Encode() []byte {
	buf := make([]byte, JoinAckSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.TicketNumber)
	binary.LittleEndian.PutUint32(buf[4:8], r.EstimatedWaitMs)
	return buf
}

func DecodeJoinAck(buf []byte) (JoinAck, error) {
	if len(buf) != JoinAckSize {
		return JoinAck{}, &ErrProtocol{Reason: "JOIN_ACK payload size mismatch"}
	}
	return JoinAck{
		TicketNumber:    binary.LittleEndian.Uint32(buf[0:4]),
		EstimatedWaitMs: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// GetWork is a worker's pull request against the Work Broker (spec §4.5).
type GetWork struct {
	WorkerPID   int32
	ServiceType int32
}

func (r GetWork) Encode() []byte {
	buf := make([]byte, GetWorkSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.WorkerPID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.ServiceType))
	return buf
}

func DecodeGetWork(buf []byte) (GetWork, error) {
	if len(buf) != GetWorkSize {
		return GetWork{}, &ErrProtocol{Reason: "GET_WORK payload size mismatch"}
	}
	return GetWork{
		WorkerPID:   int32(binary.LittleEndian.Uint32(buf[0:4])),
		ServiceType: int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// WorkItem is the Work Broker's dispatch response; TicketNumber==0 means
// "no work right now" (spec §4.5).
type WorkItem struct {
	TicketNumber uint32
	IsVIP        bool
}

func (r WorkItem) Encode() []byte {
	buf := make([]byte, WorkItemSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.TicketNumber)
	if r.IsVIP {
		buf[4] = 1
	}
	return buf
}

func DecodeWorkItem(buf []byte) (WorkItem, error) {
	if len(buf) != WorkItemSize {
		return WorkItem{}, &ErrProtocol{Reason: "WORK_ITEM payload size mismatch"}
	}
	return WorkItem{
		TicketNumber: binary.LittleEndian.Uint32(buf[0:4]),
		IsVIP:        buf[4] != 0,
	}, nil
}

// Frame concatenates a header (with PayloadLen set from len(payload)) and
// the payload bytes into one buffer ready to write to a connection.
func Frame(t MsgType, payload []byte) []byte {
	h := Header{Version: Version, Type: t, PayloadLen: uint32(len(payload))}
	hb := EncodeHeader(h)
	var out bytes.Buffer
	out.Grow(HeaderSize + len(payload))
	out.Write(hb[:])
	out.Write(payload)
	return out.Bytes()
}
