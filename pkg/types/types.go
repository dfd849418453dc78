package types

import "fmt"

// MaxServiceTypes is the compile-time bound on distinct service queues
// (spec: SIM_MAX_SERVICE_TYPES, "small fixed K, >= 2").
const MaxServiceTypes = 4

// QueueRingCapacity is the fixed number of ticket slots in each service
// queue's ring buffer.
const QueueRingCapacity = 128

// MaxUserSlots bounds the Users Manager's slot pool.
const MaxUserSlots = 2000

// Ticket is a monotonically increasing request identifier. Ring slots and
// last_finished_ticket store ticket+1, so their zero value means "empty";
// a worker record's current_ticket holds the raw ticket number, and only
// its State tells an idle worker from one serving ticket 0.
type Ticket uint32

// WorkerState is the lifecycle state of one worker record.
type WorkerState int32

const (
	WorkerOffline WorkerState = iota
	WorkerFree
	WorkerBusy
	WorkerPaused
)

func (s WorkerState) String() string {
	switch s {
	case WorkerOffline:
		return "OFFLINE"
	case WorkerFree:
		return "FREE"
	case WorkerBusy:
		return "BUSY"
	case WorkerPaused:
		return "PAUSED"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// CompletionSentinel is the value current_ticket takes on immediately after
// a worker finishes serving, before it goes idle again (spec §4.7).
const CompletionSentinel Ticket = ^Ticket(0)

// TerminationReason identifies why the Director's clock loop stopped.
type TerminationReason string

const (
	TerminationNone     TerminationReason = ""
	TerminationDuration TerminationReason = "duration"
	TerminationOverflow TerminationReason = "overflow"
	TerminationSignal   TerminationReason = "signal"
	TerminationCrash    TerminationReason = "crash"
)

// Params are the simulation parameters, immutable once the Director has
// created the shared region (spec §3).
type Params struct {
	NWorkers         int
	NumServiceTypes  int
	SimDurationDays  int
	TickNanos        int64
	ExplodeThreshold int
	IsHeadless       bool

	// StartHour/StartMinute seed the clock loop's initial time-of-day
	// instead of always starting at 00:00, so a boundary scenario (e.g.
	// "start the clock at 07:58") is reproducible without waiting out a
	// full simulated day.
	StartHour   int
	StartMinute int
}

// Validate enforces the parameter invariants from spec §3.
func (p Params) Validate() error {
	if p.NWorkers < 1 {
		return fmt.Errorf("n_workers must be >= 1, got %d", p.NWorkers)
	}
	if p.NumServiceTypes < 1 || p.NumServiceTypes > MaxServiceTypes {
		return fmt.Errorf("num_service_types must be in [1,%d], got %d", MaxServiceTypes, p.NumServiceTypes)
	}
	if p.TickNanos < 0 {
		return fmt.Errorf("tick_nanos must be >= 0, got %d", p.TickNanos)
	}
	if p.StartHour < 0 || p.StartHour > 23 {
		return fmt.Errorf("start_hour must be in [0,23], got %d", p.StartHour)
	}
	if p.StartMinute < 0 || p.StartMinute > 59 {
		return fmt.Errorf("start_minute must be in [0,59], got %d", p.StartMinute)
	}
	return nil
}

// ClockTime is the decoded (day, hour, minute) triple. Day counts from 0,
// the first simulated day of a run; simulated hours run [0,24), minutes
// [0,60).
type ClockTime struct {
	Day    uint16
	Hour   uint8
	Minute uint8
	Active bool
}

// WorkingHourStart and WorkingHourEnd bound the office's open hours
// (spec §3: "[08:00, 17:00)").
const (
	WorkingHourStart = 8
	WorkingHourEnd   = 17
)

// IsOpen reports whether the clock falls inside working hours.
func (c ClockTime) IsOpen() bool {
	return c.Hour >= WorkingHourStart && c.Hour < WorkingHourEnd
}

// MinutesUntilOpen returns how many simulated minutes remain until the next
// 08:00, given the clock is currently outside working hours. Used by users
// waiting out a closed office (spec §4.6 step 2).
func (c ClockTime) MinutesUntilOpen() int {
	if c.IsOpen() {
		return 0
	}
	if c.Hour < WorkingHourStart {
		return (WorkingHourStart-int(c.Hour))*60 - int(c.Minute)
	}
	// Past close: wait for the rest of today plus tonight.
	return (24-int(c.Hour)+WorkingHourStart)*60 - int(c.Minute)
}

// LoadBalanceConfig is the §4.9 optional load balancer configuration.
type LoadBalanceConfig struct {
	Enabled                   bool
	CheckIntervalMinutes      int
	ImbalanceThresholdPercent int
	MinQueueDepth             int
}

// LoadBalanceStats are the running counters §4.9 asks for.
type LoadBalanceStats struct {
	ChecksPerformed     uint64
	RebalancesTriggered uint64
	WorkersReassigned   uint64
}

// UsersManagerConfig configures the slot pool and signal-driven batch
// add/remove (spec §4.8, §6 [users_manager]).
type UsersManagerConfig struct {
	InitialUsers int
	NRequests    int
	PServMin     int // service-time bounds; worker hosts read them as milliseconds
	PServMax     int
	NNewUsers    int // batch size for USR1/USR2
	PoolSize     int // worker-pool size for the spawn submit path

	// RunID, if set, tags this manager's log lines so multiple simulation
	// runs on one machine stay distinguishable.
	RunID string
}

// IssuerConfig configures the Ticket Issuer / Work Broker front end
// (spec §4.4, §6 [ticket_issuer]).
type IssuerConfig struct {
	SocketPath string
	PoolSize   int
	UseBroker  bool
}
