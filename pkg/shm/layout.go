package shm

import (
	"unsafe"

	"github.com/cuemby/postoffice/pkg/types"
)

// cacheLine is the assumed cache-line width the layout below pads to, so
// that no field written by one producer shares a line with a field written
// by another (spec §3: "no field straddles a cache line that is written by
// a different producer").
const cacheLine = 64

// ParamsBlock mirrors types.Params in a fixed, cache-line-sized layout.
// Written once by the Director before any other participant attaches;
// read-only thereafter, so it carries no synchronization of its own.
type ParamsBlock struct {
	NWorkers         int32
	NumServiceTypes  int32
	SimDurationDays  int32
	ExplodeThreshold int32
	TickNanos        int64
	IsHeadless       uint32
	_                [36]byte
}

// ClockBlock carries the packed (day, hour, minute) triple plus the active
// flag, and the mutex/cond futex words used for the day-tick broadcast
// (spec §4.2, §9 "packed bitfields ... are single-word atomically
// observable states").
type ClockBlock struct {
	Packed    uint64 // atomic; see EncodeClock/DecodeClock
	Active    uint32 // atomic 0/1
	_         [4]byte
	MutexWord uint32 // futex word for the clock mutex
	CondTick  uint32 // futex word for cond_tick
	_         [40]byte
}

// StatsBlock holds the monotonically increasing global counters (spec §3).
type StatsBlock struct {
	TicketsIssued     uint64
	ServicesCompleted uint64
	UsersSpawned      uint64
	ConnectedUsers    uint64
	ConnectedThreads  uint64
	ProtocolErrors    uint64
	_                 [16]byte
}

// BarrierBlock is the day-start barrier's shared state (spec §4.3).
type BarrierBlock struct {
	RequiredCount    int32
	ReadyCount       int32
	BarrierActive    uint32 // atomic 0/1
	_                [4]byte
	DaySeq           uint64 // atomic, monotonic
	MutexWord        uint32
	CondWorkersReady uint32
	CondDayStart     uint32
	_                [28]byte
}

// LoadBalanceStatsBlock holds the §4.9 running counters.
type LoadBalanceStatsBlock struct {
	ChecksPerformed     uint64
	RebalancesTriggered uint64
	WorkersReassigned   uint64
	_                   [40]byte
}

// QueueBlock is one per-service queue: counters and condition variables in
// their own cache line, followed by the fixed-capacity ring buffer (spec
// §3 "Per-service queue"). The ring is SP/MC at the tail (the Ticket
// Issuer pushes) and
// MC/SP at the head (workers pop); each slot is 0 when empty or ticket+1
// when filled.
type QueueBlock struct {
	WaitingCount       int64  // atomic
	TotalServed        uint64 // atomic
	Head               uint64 // atomic, fetch_add by workers
	Tail               uint64 // atomic, fetch_add by the Ticket Issuer
	LastFinishedTicket uint32 // atomic
	_                  [4]byte
	MutexWord          uint32
	CondAdded          uint32 // workers wait here for a new ticket
	CondServed         uint32 // users wait here for service/completion
	_                  [12]byte
	Ring               [types.QueueRingCapacity]uint32
}

// WorkerRecord is one worker's state, one cache line (spec §3).
type WorkerRecord struct {
	State               uint32 // atomic types.WorkerState
	CurrentTicket       uint32 // atomic types.Ticket
	ServiceType         int32  // atomic
	ReassignmentPending uint32 // atomic 0/1
	PID                 int32
	_                   [44]byte
}

// Header is the fixed-size portion of the region: everything except the
// trailing, params.NWorkers-sized WorkerRecord array (spec §4.1: "region
// must be allocated with a size that includes the trailing n_workers
// worker records").
type Header struct {
	Params      ParamsBlock
	Clock       ClockBlock
	Stats       StatsBlock
	Barrier     BarrierBlock
	LoadBalance LoadBalanceStatsBlock
	TicketSeq   uint64 // atomic fetch_add ticket sequence (spec §3)
	_           [56]byte
	Queues      [types.MaxServiceTypes]QueueBlock
}

var (
	headerSize       = unsafe.Sizeof(Header{})
	workerRecordSize = unsafe.Sizeof(WorkerRecord{})
)

// RegionSize computes the total byte size of a region hosting nWorkers
// worker records trailing the fixed header.
func RegionSize(nWorkers int) int64 {
	return int64(headerSize) + int64(nWorkers)*int64(workerRecordSize)
}

// EncodeClock packs a ClockTime into the single atomically-observable word
// stored in ClockBlock.Packed.
func EncodeClock(t types.ClockTime) uint64 {
	var active uint64
	if t.Active {
		active = 1
	}
	return uint64(t.Day)<<32 | uint64(t.Hour)<<24 | uint64(t.Minute)<<16 | active
}

// DecodeClock is the inverse of EncodeClock.
func DecodeClock(packed uint64) types.ClockTime {
	return types.ClockTime{
		Day:    uint16(packed >> 32),
		Hour:   uint8(packed >> 24),
		Minute: uint8(packed >> 16),
		Active: packed&1 == 1,
	}
}
