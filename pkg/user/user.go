package user

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/log"
	"github.com/cuemby/postoffice/pkg/metrics"
	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
	"github.com/cuemby/postoffice/pkg/wireproto"
	"github.com/rs/zerolog"
)

// waitGranularity bounds every timed condition-variable wait in this
// package to ~1s, so a cancellation flag or simulation shutdown is
// re-evaluated promptly (spec §5: "timed variants (typically <=1 s)").
const waitGranularity = time.Second

// Config configures one user agent.
type Config struct {
	Region           *shm.Region
	IssuerSocketPath string
	UserID           int
	ServiceType      int
	NRequests        int // 0 means "one request, then exit"

	ConnectRetries       int           // default 100
	ConnectRetryInterval time.Duration // default 20ms
}

func (c Config) withDefaults() Config {
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 100
	}
	if c.ConnectRetryInterval <= 0 {
		c.ConnectRetryInterval = 20 * time.Millisecond
	}
	if c.NRequests <= 0 {
		c.NRequests = 1
	}
	return c
}

// Agent is one user's entire request lifecycle.
type Agent struct {
	cfg       Config
	region    *shm.Region
	logger    zerolog.Logger
	cancelled atomic.Bool
}

// New builds a user agent ready to Run.
func New(cfg Config) *Agent {
	cfg = cfg.withDefaults()
	return &Agent{
		cfg:    cfg,
		region: cfg.Region,
		logger: log.WithRole("user").With().Int("user_id", cfg.UserID).Logger(),
	}
}

// Cancel cooperatively stops the agent at its next blocking-step check
// (spec §4.6 "Cancellation").
func (a *Agent) Cancel() { a.cancelled.Store(true) }

func (a *Agent) shouldStop(ctx context.Context) bool {
	if a.cancelled.Load() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (a *Agent) simInactive() bool {
	return atomic.LoadUint32(&a.region.Hdr().Clock.Active) == 0
}

// Run executes the agent's full lifecycle: up to NRequests iterations of
// connect, wait for the office to open, request a ticket, wait to be
// served, wait for completion (spec §4.6 steps 1-8).
func (a *Agent) Run(ctx context.Context) {
	atomic.AddUint64(&a.region.Hdr().Stats.UsersSpawned, 1)
	atomic.AddUint64(&a.region.Hdr().Stats.ConnectedUsers, 1)
	metrics.UsersSpawnedTotal.Inc()
	defer atomic.AddUint64(&a.region.Hdr().Stats.ConnectedUsers, ^uint64(0))

	for i := 0; i < a.cfg.NRequests; i++ {
		if a.shouldStop(ctx) || a.simInactive() {
			break
		}
		a.oneRequest(ctx)
	}
}

// oneRequest runs a single ticket-to-completion cycle. A failure at any
// step terminates only this request, never the agent's other state
// (spec §4.6 step 3).
func (a *Agent) oneRequest(ctx context.Context) {
	if err := a.probeIssuer(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to reach ticket issuer")
		return
	}

	a.waitForOpen(ctx)
	if a.shouldStop(ctx) || a.simInactive() {
		return
	}

	ticket, serviceType, err := a.requestTicket()
	if err != nil {
		a.logger.Warn().Err(err).Msg("ticket request failed")
		return
	}

	a.logger.Info().Uint32("ticket", uint32(ticket)).Int("service_type", serviceType).Msg("ticket issued")
	a.waitServed(ctx, serviceType, ticket)
	a.waitCompleted(ctx, serviceType, ticket)
}

// probeIssuer confirms the Ticket Issuer is reachable, with bounded retry
// (spec §4.6 step 1: "~100 attempts, 20ms apart").
func (a *Agent) probeIssuer() error {
	var lastErr error
	for attempt := 0; attempt < a.cfg.ConnectRetries; attempt++ {
		conn, err := net.DialTimeout("unix", a.cfg.IssuerSocketPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
		time.Sleep(a.cfg.ConnectRetryInterval)
	}
	return fmt.Errorf("user: could not reach issuer after %d attempts: %w", a.cfg.ConnectRetries, lastErr)
}

// waitForOpen blocks until the shared clock reports working hours, the
// simulation ends, or cancellation, always re-checking the clock rather
// than sleeping wall time directly (spec §4.6 step 2).
func (a *Agent) waitForOpen(ctx context.Context) {
	clk := &a.region.Hdr().Clock
	mu := shm.NewMutex(&clk.MutexWord)
	cond := shm.NewCond(&clk.CondTick)

	for {
		t := shm.DecodeClock(atomic.LoadUint64(&clk.Packed))
		if t.IsOpen() || !t.Active || a.shouldStop(ctx) {
			return
		}
		a.logger.Debug().Int("minutes_until_open", t.MinutesUntilOpen()).Msg("waiting for office to open")
		mu.Lock()
		cond.Wait(mu, waitGranularity)
		mu.Unlock()
	}
}

// requestTicket dials the issuer fresh (it closes the connection after
// one exchange) and performs the TICKET_REQ/TICKET_RESP handshake.
func (a *Agent) requestTicket() (types.Ticket, int, error) {
	conn, err := net.DialTimeout("unix", a.cfg.IssuerSocketPath, 2*time.Second)
	if err != nil {
		return 0, 0, fmt.Errorf("user: dial issuer: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	req := wireproto.TicketReq{
		RequesterPID: int32(os.Getpid()),
		RequesterTID: int32(a.cfg.UserID),
		ServiceType:  int32(a.cfg.ServiceType),
	}
	if _, err := conn.Write(wireproto.Frame(wireproto.MsgTicketReq, req.Encode())); err != nil {
		return 0, 0, fmt.Errorf("user: write TICKET_REQ: %w", err)
	}

	var hdrBuf [wireproto.HeaderSize]byte
	if _, err := io.ReadFull(conn, hdrBuf[:]); err != nil {
		return 0, 0, fmt.Errorf("user: read header: %w", err)
	}
	hdr, err := wireproto.DecodeHeader(hdrBuf[:])
	if err != nil {
		return 0, 0, err
	}
	if hdr.Type != wireproto.MsgTicketResp {
		return 0, 0, &wireproto.ErrProtocol{Reason: "expected TICKET_RESP"}
	}

	payload := make([]byte, hdr.PayloadLen)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return 0, 0, fmt.Errorf("user: read payload: %w", err)
	}
	resp, err := wireproto.DecodeTicketResp(payload)
	if err != nil {
		return 0, 0, err
	}
	return types.Ticket(resp.TicketNumber), int(resp.AssignedService), nil
}

// beingServed reports whether some worker currently advertises ticket as
// its current_ticket on serviceType (spec §4.6 step 6).
func (a *Agent) beingServed(serviceType int, ticket types.Ticket) bool {
	for i := 0; i < a.region.NWorkers(); i++ {
		w := a.region.Worker(i)
		if types.WorkerState(atomic.LoadUint32(&w.State)) != types.WorkerBusy {
			continue
		}
		if int(atomic.LoadInt32(&w.ServiceType)) != serviceType {
			continue
		}
		if types.Ticket(atomic.LoadUint32(&w.CurrentTicket)) == ticket {
			return true
		}
	}
	return false
}

// waitServed blocks until some worker starts serving ticket, the
// simulation ends, or cancellation (spec §4.6 step 6). A ticket whose
// service starts and finishes between polls never leaves a worker
// observably BUSY on it, so last_finished_ticket reaching ticket+1 (the
// value shm.MarkServed publishes on completion) also satisfies "served"
// — otherwise a service shorter than waitGranularity would strand the
// user here until the whole simulation ends.
func (a *Agent) waitServed(ctx context.Context, serviceType int, ticket types.Ticket) {
	q := a.region.Queue(serviceType)
	mu := shm.NewMutex(&q.MutexWord)
	cond := shm.NewCond(&q.CondServed)

	for {
		if a.beingServed(serviceType, ticket) ||
			atomic.LoadUint32(&q.LastFinishedTicket) == uint32(ticket)+1 ||
			a.shouldStop(ctx) || a.simInactive() {
			return
		}
		mu.Lock()
		cond.Wait(mu, waitGranularity)
		mu.Unlock()
	}
}

// waitCompleted blocks until ticket is reported served (queue's
// last_finished_ticket), the simulation ends, or cancellation (spec §4.6
// step 7). It reuses shm.WaitServed, the same primitive a worker's
// completion broadcast wakes.
func (a *Agent) waitCompleted(ctx context.Context, serviceType int, ticket types.Ticket) {
	q := a.region.Queue(serviceType)
	for {
		if shm.WaitServed(q, ticket, waitGranularity) {
			return
		}
		if a.shouldStop(ctx) || a.simInactive() {
			return
		}
	}
}
