// Package driver executes a run: it merges the generator lanes and the
// nemesis timeline into one history, dispatching each invocation to a
// backend adapter under a fixed timeout.
package driver

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"kvharness/internal/client"
	"kvharness/internal/generator"
	"kvharness/internal/history"
	"kvharness/internal/nemesis"
)

// DefaultInvokeTimeout bounds every single invocation.
const DefaultInvokeTimeout = 5 * time.Second

// AdapterFactory builds one adapter per lane. Each call must return a
// fresh instance; adapters are never shared across lanes.
type AdapterFactory func() client.Adapter

type Config struct {
	// TimeLimit is the global wall-clock budget. Reaching it cancels all
	// lanes and the nemesis cooperatively; in-flight invokes finish or
	// time out on their own.
	TimeLimit time.Duration
	// InvokeTimeout bounds each Invoke; zero means DefaultInvokeTimeout.
	InvokeTimeout time.Duration
}

// Run drives a full workload and returns the recorded history. Adapter
// open/setup failures are fatal and abort before any operation is issued.
func Run(
	ctx context.Context,
	gen *generator.Generator,
	sched []nemesis.Event,
	inj nemesis.Injector,
	newAdapter AdapterFactory,
	cfg Config,
) (history.History, error) {
	if cfg.TimeLimit <= 0 {
		return nil, errors.New("driver: time limit must be positive")
	}
	timeout := cfg.InvokeTimeout
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}

	lanes := gen.Lanes()
	adapters := make([]client.Adapter, len(lanes))
	for i := range lanes {
		ad := newAdapter()
		if err := ad.Open(ctx); err != nil {
			closeAdapters(ctx, adapters[:i])
			return nil, errors.Wrapf(err, "driver: open adapter for lane %d", i)
		}
		if err := ad.Setup(ctx); err != nil {
			_ = ad.Close()
			closeAdapters(ctx, adapters[:i])
			return nil, errors.Wrapf(err, "driver: setup adapter for lane %d", i)
		}
		adapters[i] = ad
	}
	defer closeAdapters(ctx, adapters)

	rec := history.NewRecorder()
	runCtx, cancel := context.WithTimeout(ctx, cfg.TimeLimit)
	defer cancel()

	g, runCtx := errgroup.WithContext(runCtx)
	for i, lane := range lanes {
		lane, ad := lane, adapters[i]
		g.Go(func() error {
			runLane(runCtx, lane, ad, rec, timeout)
			return nil
		})
	}
	g.Go(func() error {
		return nemesis.Run(runCtx, sched, inj, rec)
	})

	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "driver: workload")
	}
	h := rec.History()
	slog.Info("workload complete", "ops", len(h), "elapsed", time.Duration(rec.Now()))
	return h, nil
}

// runLane issues the lane's invocations sequentially until the run is
// cancelled; lanes never exhaust on their own, the time limit ends them.
// Each invoke gets a timeout context
// detached from the run cancellation, so hitting the time limit lets the
// operation complete or time out normally instead of truncating it.
func runLane(ctx context.Context, lane *generator.Lane, ad client.Adapter, rec *history.Recorder, timeout time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}
		inv, ok := lane.Next(ctx)
		if !ok {
			return
		}

		invokeAt := rec.Now()
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		res := ad.Invoke(ictx, inv)
		cancel()

		op := history.Operation{
			Process:  lane.Process(),
			Func:     inv.Func,
			Key:      inv.Key,
			Invoke:   invokeAt,
			Complete: rec.Now(),
			Outcome:  res.Outcome,
		}
		switch inv.Func {
		case history.FuncRead:
			if res.Outcome == history.OutcomeOk {
				op.Value = res.Value
			}
		case history.FuncWrite:
			v := inv.Value
			op.Value = &v
		case history.FuncCAS:
			e, n := inv.Expected, inv.New
			op.Expected = &e
			op.New = &n
		}
		if res.Err != nil {
			op.Err = res.Err.Error()
		}
		if op.Outcome == "" {
			// Adapter bug; classify conservatively.
			op.Outcome = history.OutcomeInfo
			if inv.Func == history.FuncRead {
				op.Outcome = history.OutcomeFail
			}
		}
		rec.Append(op)
	}
}

func closeAdapters(ctx context.Context, adapters []client.Adapter) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, ad := range adapters {
		if ad == nil {
			continue
		}
		if err := ad.Teardown(tctx); err != nil {
			slog.Warn("adapter teardown failed", "err", err)
		}
		if err := ad.Close(); err != nil {
			slog.Warn("adapter close failed", "err", err)
		}
	}
}
