// Package issuer implements the Ticket Issuer: a local socket front end
// that hands out ticket numbers and dispatches each request to a
// fixed-size handler pool, participating in the day-start barrier on its
// accept thread between poll cycles.
package issuer

import (
	"context"
	"net"
	"sync"

	"github.com/cuemby/postoffice/pkg/barrier"
	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/shm"
)

// Config configures one Ticket Issuer instance.
type Config struct {
	SocketPath      string
	PoolSize        int
	NumServiceTypes int

	// RunID, if set, tags every log line this server emits so multiple
	// simulation runs on one machine stay distinguishable.
	RunID string
}

// Server is one running Ticket Issuer. Construct with NewServer and drive
// with Run; Run blocks until ctx is cancelled or an unrecoverable listener
// error occurs.
type Server struct {
	cfg             Config
	region          *shm.Region
	participant     *barrier.Participant
	numServiceTypes int

	connCh chan net.Conn
	wg     sync.WaitGroup
}

// NewServer builds a Ticket Issuer bound to region, ready to Run.
func NewServer(cfg Config, region *shm.Region) *Server {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 8
	}
	return &Server{
		cfg:             cfg,
		region:          region,
		participant:     barrier.NewParticipant(region, "ticket-issuer"),
		numServiceTypes: cfg.NumServiceTypes,
		connCh:          make(chan net.Conn, cfg.PoolSize*4),
	}
}

// Run starts the fixed-size handler pool and the platform accept loop,
// blocking until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithRole("ticket-issuer")
	if s.cfg.RunID != "" {
		logger = logger.With().Str("run_id", s.cfg.RunID).Logger()
	}

	for i := 0; i < s.cfg.PoolSize; i++ {
		s.wg.Add(1)
		go s.handlerLoop()
	}

	logger.Info().Str("socket", s.cfg.SocketPath).Int("pool_size", s.cfg.PoolSize).Msg("ticket issuer listening")

	err := s.acceptLoop(ctx)

	close(s.connCh)
	s.wg.Wait()
	return err
}

// handlerLoop is one worker-pool slot: it drains accepted connections and
// serves one request/response exchange per connection. Bounding the
// number of these goroutines to PoolSize is what bounds concurrent
// clients; when the pool is saturated, new clients wait in connCh, which
// holds up to PoolSize*4 accepted connections. Once connCh is full the
// accept loop closes each further accepted connection at once; such
// clients are not held in the kernel accept backlog.
func (s *Server) handlerLoop() {
	defer s.wg.Done()
	for conn := range s.connCh {
		s.handleConn(conn)
	}
}

func (s *Server) shouldStop(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
