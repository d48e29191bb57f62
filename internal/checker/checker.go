// Package checker analyzes recorded histories: a dispatcher selects the
// built-in linearizability checker or an external checker process, and
// always attaches the auxiliary (non-correctness) reporters.
package checker

import (
	"context"
	"log/slog"
	"time"

	"kvharness/internal/history"
)

// Verdict is ternary. Unknown means the checking mechanism itself could
// not produce a definitive answer; it is never coerced to Valid.
type Verdict string

const (
	Valid   Verdict = "true"
	Invalid Verdict = "false"
	Unknown Verdict = "unknown"
)

// Result is the outcome of one analysis, attached to the stored run.
type Result struct {
	Valid         Verdict `json:"valid" yaml:"valid"`
	Checker       string  `json:"checker" yaml:"checker"`
	Message       string  `json:"message,omitempty" yaml:"message,omitempty"`
	ElapsedMillis int64   `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// Options selects the analysis. Skip suppresses correctness checking only
// during live execution; at re-analysis time it is ignored, and External
// wins over Internal whenever a checker path is set.
type Options struct {
	Skip     bool
	External string // path to the external checker binary; empty = internal
	Live     bool   // live test execution vs stand-alone re-analysis

	ExternalTimeout time.Duration
	ModelTimeout    time.Duration // budget for the built-in model checker
}

const (
	defaultExternalTimeout = 5 * time.Minute
	defaultModelTimeout    = 30 * time.Second
)

type correctness int

const (
	checkSkip correctness = iota
	checkInternal
	checkExternal
)

func (o Options) selectCorrectness() correctness {
	if o.Live && o.Skip {
		return checkSkip
	}
	if o.External != "" {
		return checkExternal
	}
	return checkInternal
}

// Dispatcher runs the selected correctness checker over a stored run and
// writes the auxiliary reports into the run directory.
type Dispatcher struct {
	opts Options
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.ExternalTimeout <= 0 {
		opts.ExternalTimeout = defaultExternalTimeout
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = defaultModelTimeout
	}
	return &Dispatcher{opts: opts}
}

// Check analyzes the run stored in dir with history h. It returns nil when
// correctness checking is skipped. Auxiliary reports are best effort and
// never affect the verdict.
func (d *Dispatcher) Check(ctx context.Context, h history.History, dir string) *Result {
	if err := WritePerfSummary(h, dir); err != nil {
		slog.Warn("perf summary failed", "err", err)
	}
	if err := WriteTimeline(h, dir); err != nil {
		slog.Warn("timeline report failed", "err", err)
	}

	start := time.Now()
	var res Result
	switch d.opts.selectCorrectness() {
	case checkSkip:
		return nil
	case checkExternal:
		res = RunExternal(ctx, d.opts.External, dir, d.opts.ExternalTimeout)
	case checkInternal:
		res = CheckLinearizable(h, dir, d.opts.ModelTimeout)
	}
	res.ElapsedMillis = time.Since(start).Milliseconds()
	return &res
}
