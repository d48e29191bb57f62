// Package history holds the operation/outcome data model shared by the
// workload driver and the checkers, and the recorder that turns concurrent
// invocations into a single ordered history.
package history

import (
	"sync"
	"time"
)

// Func identifies what an operation did.
type Func string

const (
	FuncRead  Func = "read"
	FuncWrite Func = "write"
	FuncCAS   Func = "cas"

	// Nemesis control events. They share the history with client
	// operations but are never fed to the consistency model.
	FuncFaultStart Func = "fault-start"
	FuncFaultStop  Func = "fault-stop"
)

// Outcome classifies how an operation ended. Info means the effect on the
// backend is unknown (timeout, connection dropped mid-flight); it is a
// first-class outcome, not an error.
type Outcome string

const (
	OutcomeOk   Outcome = "ok"
	OutcomeFail Outcome = "fail"
	OutcomeInfo Outcome = "info"
)

// ProcessNemesis is the process id recorded on fault control events.
// Client lanes use non-negative ids.
const ProcessNemesis = -1

// Operation is one completed history entry. Timestamps are nanosecond
// offsets from the start of the run. Value carries the write payload, or
// the observed value for a completed read (nil when the register was never
// written). Expected/New are set only for cas.
type Operation struct {
	Index    int     `json:"index"`
	Process  int     `json:"process"`
	Func     Func    `json:"f"`
	Key      int     `json:"key"`
	Value    *int    `json:"value,omitempty"`
	Expected *int    `json:"expected,omitempty"`
	New      *int    `json:"new,omitempty"`
	Invoke   int64   `json:"invoke"`
	Complete int64   `json:"complete"`
	Outcome  Outcome `json:"outcome"`
	Err      string  `json:"error,omitempty"`
}

// Client reports whether the operation was issued by a workload lane
// rather than the nemesis.
func (o Operation) Client() bool {
	return o.Process != ProcessNemesis
}

// Mutating reports whether the operation may have changed backend state.
func (o Operation) Mutating() bool {
	return o.Func == FuncWrite || o.Func == FuncCAS
}

// History is the completion-ordered record of a single run.
type History []Operation

// Keys returns the distinct keys touched by client operations, in first-seen
// order.
func (h History) Keys() []int {
	seen := make(map[int]bool)
	var keys []int
	for _, op := range h {
		if !op.Client() || seen[op.Key] {
			continue
		}
		seen[op.Key] = true
		keys = append(keys, op.Key)
	}
	return keys
}

// Partition returns the client operations on one key, preserving order.
func (h History) Partition(key int) History {
	var part History
	for _, op := range h {
		if op.Client() && op.Key == key {
			part = append(part, op)
		}
	}
	return part
}

// FaultWindow is a span during which the nemesis held a fault active.
// Derived from recorded control events; consumed by reporting only.
type FaultWindow struct {
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
}

// FaultWindows pairs fault-start events with the following fault-stop. A
// start with no stop (run ended mid-fault) closes at the last recorded
// completion time.
func (h History) FaultWindows() []FaultWindow {
	var windows []FaultWindow
	var last int64
	start := int64(-1)
	for _, op := range h {
		if op.Complete > last {
			last = op.Complete
		}
		switch op.Func {
		case FuncFaultStart:
			start = op.Invoke
		case FuncFaultStop:
			if start >= 0 {
				windows = append(windows, FaultWindow{
					Start:    time.Duration(start),
					Duration: time.Duration(op.Complete - start),
				})
				start = -1
			}
		}
	}
	if start >= 0 {
		windows = append(windows, FaultWindow{
			Start:    time.Duration(start),
			Duration: time.Duration(last - start),
		})
	}
	return windows
}

// Recorder is the shared append-only sink for a run. Appends from
// concurrent lanes are serialized under a mutex and indexed in completion
// order; the history is immutable once taken.
type Recorder struct {
	mu    sync.Mutex
	start time.Time
	ops   History
}

func NewRecorder() *Recorder {
	return &Recorder{start: time.Now()}
}

// Now returns the nanosecond offset from the start of the run.
func (r *Recorder) Now() int64 {
	return time.Since(r.start).Nanoseconds()
}

// Append records a completed operation, assigning its completion-order
// index. Complete is clamped to Invoke so the span invariant holds even
// for instantaneous local failures.
func (r *Recorder) Append(op Operation) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op.Complete < op.Invoke {
		op.Complete = op.Invoke
	}
	op.Index = len(r.ops)
	r.ops = append(r.ops, op)
	return op.Index
}

// History returns a copy of everything recorded so far.
func (r *Recorder) History() History {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(History, len(r.ops))
	copy(out, r.ops)
	return out
}
