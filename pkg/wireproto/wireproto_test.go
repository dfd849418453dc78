package wireproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeaderRoundTrip covers encode/decode symmetry for every field.
func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version, Type: MsgTicketReq, Flags: 0x05, PayloadLen: 12}
	buf := EncodeHeader(h)

	got, err := DecodeHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

// TestDecodeHeaderRejectsWrongSize ensures truncated/oversized buffers are
// reported as protocol errors rather than panicking.
func TestDecodeHeaderRejectsWrongSize(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 4))
	assert.Error(t, err)
	var protoErr *ErrProtocol
	assert.ErrorAs(t, err, &protoErr)
}

// TestDecodeHeaderRejectsUnknownVersion ensures the version field is
// validated, not merely parsed.
func TestDecodeHeaderRejectsUnknownVersion(t *testing.T) {
	h := Header{Version: 99, Type: MsgTicketReq, PayloadLen: 0}
	buf := EncodeHeader(h)
	_, err := DecodeHeader(buf[:])
	assert.Error(t, err)
}

// TestExpectedPayloadLenKnownTypes checks every message type resolves to
// its documented fixed size.
func TestExpectedPayloadLenKnownTypes(t *testing.T) {
	tests := []struct {
		msgType MsgType
		size    uint32
	}{
		{MsgTicketReq, TicketReqSize},
		{MsgTicketResp, TicketRespSize},
		{MsgJoinQueue, JoinQueueSize},
		{MsgJoinAck, JoinAckSize},
		{MsgGetWork, GetWorkSize},
		{MsgWorkItem, WorkItemSize},
	}
	for _, tt := range tests {
		t.Run(tt.msgType.String(), func(t *testing.T) {
			got, err := ExpectedPayloadLen(tt.msgType)
			require.NoError(t, err)
			assert.Equal(t, tt.size, got)
		})
	}
}

// TestExpectedPayloadLenUnknownType ensures an unrecognized type is a
// protocol error, matching the spec's "unknown message type" case.
func TestExpectedPayloadLenUnknownType(t *testing.T) {
	_, err := ExpectedPayloadLen(MsgType(0xFF))
	assert.Error(t, err)
}

// TestTicketReqRoundTrip and friends verify each payload's encode/decode
// symmetry and its rejection of mis-sized buffers.
func TestTicketReqRoundTrip(t *testing.T) {
	r := TicketReq{RequesterPID: 123, RequesterTID: 456, ServiceType: 2}
	got, err := DecodeTicketReq(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = DecodeTicketReq([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTicketRespRoundTrip(t *testing.T) {
	r := TicketResp{TicketNumber: 42, AssignedService: 1}
	got, err := DecodeTicketResp(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestJoinQueueRoundTrip(t *testing.T) {
	for _, vip := range []bool{true, false} {
		r := JoinQueue{RequesterPID: 7, ServiceType: 3, IsVIP: vip}
		got, err := DecodeJoinQueue(r.Encode())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestJoinAckRoundTrip(t *testing.T) {
	r := JoinAck{TicketNumber: 5, EstimatedWaitMs: 1500}
	got, err := DecodeJoinAck(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestGetWorkRoundTrip(t *testing.T) {
	r := GetWork{WorkerPID: 99, ServiceType: 0}
	got, err := DecodeGetWork(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestWorkItemRoundTrip(t *testing.T) {
	r := WorkItem{TicketNumber: 0, IsVIP: false}
	got, err := DecodeWorkItem(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

// TestFrameProducesDecodableHeader verifies Frame's header correctly
// reports the payload length that follows it.
func TestFrameProducesDecodableHeader(t *testing.T) {
	payload := TicketReq{RequesterPID: 1, RequesterTID: 2, ServiceType: 3}.Encode()
	frame := Frame(MsgTicketReq, payload)

	h, err := DecodeHeader(frame[:HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, MsgTicketReq, h.Type)
	assert.EqualValues(t, len(payload), h.PayloadLen)
	assert.Equal(t, payload, frame[HeaderSize:])
}
