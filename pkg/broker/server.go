package broker

import (
	"context"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/barrier"
	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/wireproto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config configures one Work Broker instance.
type Config struct {
	SocketPath      string
	NumServiceTypes int

	// RunID, if set, tags every log line this server emits so multiple
	// simulation runs on one machine stay distinguishable.
	RunID string
}

// Server is the Work Broker's connection front end: same framing as the
// Ticket Issuer, but JOIN_QUEUE/GET_WORK against the priority heaps in
// broker.go rather than the shared-memory rings.
type Server struct {
	cfg         Config
	broker      *Broker
	region      *shm.Region
	participant *barrier.Participant
}

// NewServer builds a Work Broker server bound to region.
func NewServer(cfg Config, region *shm.Region) *Server {
	return &Server{
		cfg:         cfg,
		broker:      New(cfg.NumServiceTypes),
		region:      region,
		participant: barrier.NewParticipant(region, "work-broker"),
	}
}

// Run accepts connections on cfg.SocketPath until ctx is cancelled. Unlike
// the Ticket Issuer's fixed worker pool, the Work Broker spawns one
// goroutine per connection: each exchange here is a single short
// request/response, so pool-bounding concurrency buys little and costs
// the extra channel hop.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithRole("work-broker")
	if s.cfg.RunID != "" {
		logger = logger.With().Str("run_id", s.cfg.RunID).Logger()
	}

	_ = os.Remove(s.cfg.SocketPath)
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	_ = os.Chmod(s.cfg.SocketPath, 0o600)

	logger.Info().Str("socket", s.cfg.SocketPath).Msg("work broker listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	lastBarrierCheck := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if time.Since(lastBarrierCheck) > 200*time.Millisecond {
			s.participant.MaybeJoin(func() bool {
				select {
				case <-ctx.Done():
					return true
				default:
					return false
				}
			})
			lastBarrierCheck = time.Now()
		}

		if ul, ok := ln.(*net.UnixListener); ok {
			_ = ul.SetDeadline(time.Now().Add(200 * time.Millisecond))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	traceID := uuid.NewString()
	logCtx := log.WithRole("work-broker").With().Str("trace_id", traceID)
	if s.cfg.RunID != "" {
		logCtx = logCtx.Str("run_id", s.cfg.RunID)
	}
	logger := logCtx.Logger()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	var hdrBuf [wireproto.HeaderSize]byte
	if _, err := io.ReadFull(conn, hdrBuf[:]); err != nil {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		return
	}
	hdr, err := wireproto.DecodeHeader(hdrBuf[:])
	if err != nil {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		return
	}

	expected, err := wireproto.ExpectedPayloadLen(hdr.Type)
	if err != nil || hdr.PayloadLen != expected {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		return
	}

	payload := make([]byte, hdr.PayloadLen)
	if _, err := io.ReadFull(conn, payload); err != nil {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		return
	}

	switch hdr.Type {
	case wireproto.MsgJoinQueue:
		s.handleJoinQueue(conn, payload, logger)
	case wireproto.MsgGetWork:
		s.handleGetWork(conn, payload, logger)
	default:
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
	}
}

func (s *Server) handleJoinQueue(conn net.Conn, payload []byte, logger zerolog.Logger) {
	req, err := wireproto.DecodeJoinQueue(payload)
	if err != nil {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		return
	}

	ticket, waitMs := s.broker.JoinQueue(int(req.ServiceType), req.IsVIP)
	atomic.AddUint64(&s.region.Hdr().Stats.TicketsIssued, 1)

	resp := wireproto.JoinAck{TicketNumber: uint32(ticket), EstimatedWaitMs: waitMs}
	if _, err := conn.Write(wireproto.Frame(wireproto.MsgJoinAck, resp.Encode())); err != nil {
		logger.Debug().Err(err).Msg("failed to write JOIN_ACK")
	}
}

func (s *Server) handleGetWork(conn net.Conn, payload []byte, logger zerolog.Logger) {
	req, err := wireproto.DecodeGetWork(payload)
	if err != nil {
		atomic.AddUint64(&s.region.Hdr().Stats.ProtocolErrors, 1)
		return
	}

	ticket, isVIP := s.broker.GetWork(int(req.ServiceType), req.WorkerPID)

	resp := wireproto.WorkItem{TicketNumber: uint32(ticket), IsVIP: isVIP}
	if _, err := conn.Write(wireproto.Frame(wireproto.MsgWorkItem, resp.Encode())); err != nil {
		logger.Debug().Err(err).Msg("failed to write WORK_ITEM")
	}
}
