package director

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cuemby/postoffice/pkg/shm"
	"github.com/cuemby/postoffice/pkg/types"
)

// runClockLoop is the Director's single authoritative writer of simulated
// time (spec §4.2). It ticks until a termination predicate fires or ctx
// is cancelled, then releases every waiter before returning.
func (d *Director) runClockLoop(ctx context.Context) {
	clk := &d.region.Hdr().Clock
	mu := shm.NewMutex(&clk.MutexWord)
	tickCond := shm.NewCond(&clk.CondTick)

	atomic.StoreUint32(&clk.Active, 1)
	d.day, d.hour, d.minute = 0, d.cfg.Params.StartHour, d.cfg.Params.StartMinute
	minutesSinceCheck := 0

	for {
		mu.Lock()
		atomic.StoreUint64(&clk.Packed, shm.EncodeClock(types.ClockTime{
			Day: uint16(d.day), Hour: uint8(d.hour), Minute: uint8(d.minute), Active: true,
		}))
		mu.Unlock()
		tickCond.Broadcast()

		if d.cfg.Params.TickNanos > 0 {
			select {
			case <-time.After(time.Duration(d.cfg.Params.TickNanos)):
			case <-ctx.Done():
				d.terminate(types.TerminationSignal)
			}
		} else {
			runtime.Gosched()
		}

		d.minute++
		dayRolled := false
		if d.minute >= 60 {
			d.minute = 0
			d.hour++
			if d.hour >= 24 {
				d.hour = 0
				d.day++
				dayRolled = true
			}
		}

		if d.hour == types.WorkingHourStart && d.minute == 0 {
			d.logger.Info().Int("day", d.day).Msg("office opened")
		}
		if d.hour == types.WorkingHourEnd && d.minute == 0 {
			for i := range d.region.Hdr().Queues {
				shm.NewCond(&d.region.Hdr().Queues[i].CondServed).Broadcast()
			}
			d.logger.Info().Int("day", d.day).Msg("office closed")
		}

		if dayRolled {
			d.barrier.Run(uint64(d.day), func() bool { return d.shouldStop(ctx) })
		}

		if d.cfg.LoadBalance.Enabled && d.cfg.LoadBalance.CheckIntervalMinutes > 0 {
			minutesSinceCheck++
			if minutesSinceCheck >= d.cfg.LoadBalance.CheckIntervalMinutes {
				minutesSinceCheck = 0
				d.lb.Check()
			}
		}

		select {
		case <-ctx.Done():
			d.terminate(types.TerminationSignal)
		default:
		}

		if d.evaluateTermination() {
			break
		}
	}

	d.releaseAllWaiters()
}

func (d *Director) shouldStop(ctx context.Context) bool {
	if d.shuttingDown.Load() {
		return true
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// evaluateTermination checks the three predicates in the order the spec
// fixes: duration, overflow, operator signal.
func (d *Director) evaluateTermination() bool {
	if d.cfg.Params.SimDurationDays > 0 && d.day > d.cfg.Params.SimDurationDays {
		d.terminate(types.TerminationDuration)
		return true
	}

	var waiting int64
	for i := range d.region.Hdr().Queues {
		waiting += shm.Depth(&d.region.Hdr().Queues[i])
	}
	if d.cfg.Params.ExplodeThreshold > 0 && waiting > int64(d.cfg.Params.ExplodeThreshold) {
		d.terminate(types.TerminationOverflow)
		return true
	}

	if d.shuttingDown.Load() {
		return true
	}
	return false
}

// releaseAllWaiters wakes every condition variable at least once so no
// participant can deadlock waiting on a clock/queue state that will never
// change again (spec §4.2 step 6, §5 cancellation guarantee).
func (d *Director) releaseAllWaiters() {
	clk := &d.region.Hdr().Clock
	atomic.StoreUint32(&clk.Active, 0)
	shm.NewCond(&clk.CondTick).Broadcast()

	for i := range d.region.Hdr().Queues {
		q := &d.region.Hdr().Queues[i]
		shm.NewCond(&q.CondAdded).Broadcast()
		shm.NewCond(&q.CondServed).Broadcast()
	}

	d.barrier.Release()
}
