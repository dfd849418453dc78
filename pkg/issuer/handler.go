package issuer

import (
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/metrics"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/cuemby/postoffice/pkg/wireproto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// readDeadline bounds each read so a slow or dead client cannot pin a
// worker pool slot forever; a short re-poll window per spec §4.4
// ("re-poll with a short timeout and bounded retry").
const readDeadline = 2 * time.Second

// handleConn implements one request/response exchange: read the fixed
// header, validate it, read the exact payload it promises, dispatch by
// message type, write the response, then close (spec §4.4: "one request
// → one response ... connection is closed after one exchange").
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	traceID := uuid.NewString()
	logCtx := log.WithRole("issuer").With().Str("trace_id", traceID)
	if s.cfg.RunID != "" {
		logCtx = logCtx.Str("run_id", s.cfg.RunID)
	}
	logger := logCtx.Logger()

	_ = conn.SetDeadline(time.Now().Add(readDeadline))

	var hdrBuf [wireproto.HeaderSize]byte
	if _, err := io.ReadFull(conn, hdrBuf[:]); err != nil {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		return
	}

	hdr, err := wireproto.DecodeHeader(hdrBuf[:])
	if err != nil {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		logger.Debug().Err(err).Msg("malformed header")
		return
	}

	expected, err := wireproto.ExpectedPayloadLen(hdr.Type)
	if err != nil || hdr.PayloadLen != expected {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		logger.Debug().Str("msg_type", hdr.Type.String()).Uint32("payload_len", hdr.PayloadLen).Msg("unexpected payload length")
		return
	}

	payload := make([]byte, hdr.PayloadLen)
	if _, err := io.ReadFull(conn, payload); err != nil {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		return
	}

	switch hdr.Type {
	case wireproto.MsgTicketReq:
		s.handleTicketReq(conn, payload, logger)
	default:
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		logger.Debug().Str("msg_type", hdr.Type.String()).Msg("unexpected message type")
	}
}

// handleTicketReq never holds the ticket sequence across I/O: the
// increment happens once, in memory, before the response is serialized
// and written (spec §4.4 "must never hold the ticket sequence across
// I/O").
func (s *Server) handleTicketReq(conn net.Conn, payload []byte, logger zerolog.Logger) {
	req, err := wireproto.DecodeTicketReq(payload)
	if err != nil {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		return
	}

	ticket := atomic.AddUint64(&s.region.Hdr().TicketSeq, 1) - 1
	atomic.AddUint64(&s.region.Hdr().Stats.TicketsIssued, 1)
	metrics.TicketsIssuedTotal.Inc()

	serviceType := req.ServiceType
	if serviceType < 0 || int(serviceType) >= s.numServiceTypes {
		serviceType = 0
	}

	resp := wireproto.TicketResp{TicketNumber: uint32(ticket), AssignedService: serviceType}
	frame := wireproto.Frame(wireproto.MsgTicketResp, resp.Encode())

	if _, err := conn.Write(frame); err != nil {
		logger.Debug().Err(err).Msg("failed to write TICKET_RESP")
		return
	}

	shm.PushTicket(s.region.Queue(int(serviceType)), types.Ticket(ticket))
}
