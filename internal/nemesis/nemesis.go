// Package nemesis schedules fault start/stop control events on a fixed
// duty cycle, concurrent with the workload. The scheduler owns only the
// timing; the fault mechanism itself lives behind the Injector interface.
package nemesis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"kvharness/internal/history"
)

// warmup is the quiet period before the first fault, guaranteeing clean
// initial conditions for analysis.
const warmup = 3 * time.Second

// cooldown is deducted from the time limit when sizing the schedule so
// the system has undisturbed time to converge before the run stops.
const cooldown = 10 * time.Second

// Injector applies and heals a fault. Implementations are backend glue
// (partition a reference service, cut an iptables rule); Noop is used for
// backends with no fault hook.
type Injector interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Noop is an Injector that does nothing. The schedule still records its
// control events, which keeps histories comparable across backends.
type Noop struct{}

func (Noop) Start(context.Context) error { return nil }
func (Noop) Stop(context.Context) error  { return nil }

// Event is one scheduled control point, at a fixed offset from run start.
type Event struct {
	Func history.Func
	At   time.Duration
}

// Schedule lays out the fault timeline for a run: a warm-up sleep, then
// N = floor((timeLimit - cooldown) / (2*window)) cycles of
// [sleep(window), start, sleep(window), stop]. N may legitimately be zero
// when the window is large relative to the time limit; that schedules no
// faults and is not an error. Cycles that would leave less than one full
// window of quiet tail before timeLimit are shed.
func Schedule(timeLimit, window time.Duration) []Event {
	if window <= 0 || timeLimit <= cooldown {
		return nil
	}
	n := int((timeLimit - cooldown) / (2 * window))
	for n > 0 && warmup+time.Duration(2*n)*window+window > timeLimit {
		n--
	}
	events := make([]Event, 0, 2*n)
	at := warmup
	for i := 0; i < n; i++ {
		at += window
		events = append(events, Event{Func: history.FuncFaultStart, At: at})
		at += window
		events = append(events, Event{Func: history.FuncFaultStop, At: at})
	}
	return events
}

// Run plays a schedule against an injector, recording each control event
// into the history under the nemesis process id. It returns when the
// schedule is exhausted or ctx is cancelled; a cancellation mid-fault
// heals the fault before returning so the backend is not left degraded.
func Run(ctx context.Context, events []Event, inj Injector, rec *history.Recorder) error {
	faultActive := false
	defer func() {
		if faultActive {
			// Best effort heal outside the cancelled context.
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = inj.Stop(stopCtx)
		}
	}()

	for _, ev := range events {
		delay := time.Duration(ev.At.Nanoseconds() - rec.Now())
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		invoke := rec.Now()
		var err error
		switch ev.Func {
		case history.FuncFaultStart:
			err = inj.Start(ctx)
			faultActive = err == nil
		case history.FuncFaultStop:
			err = inj.Stop(ctx)
			faultActive = false
		default:
			return errors.Newf("nemesis: unexpected event func %q", ev.Func)
		}

		op := history.Operation{
			Process:  history.ProcessNemesis,
			Func:     ev.Func,
			Invoke:   invoke,
			Complete: rec.Now(),
			Outcome:  history.OutcomeOk,
		}
		if err != nil {
			op.Outcome = history.OutcomeInfo
			op.Err = err.Error()
		}
		rec.Append(op)
	}
	return nil
}
