package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"kvharness/internal/checker"
	"kvharness/internal/client"
	"kvharness/internal/driver"
	"kvharness/internal/generator"
	"kvharness/internal/nemesis"
	"kvharness/internal/store"
)

// minDuration is the floor for a run: the nemesis schedule reserves 10s of
// cool-down plus a 3s warm-up, so anything shorter cannot host a fault
// cycle and barely exercises the workload.
const minDuration = 15 * time.Second

type runFlags struct {
	rate            float64
	opsPerKey       int
	keyConcurrency  int
	concurrency     int
	valueRange      int
	duration        time.Duration
	faultWindow     time.Duration
	seed            int64
	nodes           []string
	storeRoot       string
	skipCheck       bool
	externalChecker string
	externalTimeout time.Duration
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <backend>",
		Short: "execute a full test against a backend (memory, http, mailbox)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.Float64Var(&f.rate, "rate", 10, "target invocation rate per lane, ops/sec")
	fl.IntVar(&f.opsPerKey, "ops-per-key", 100, "nominal operation budget per key")
	fl.IntVar(&f.keyConcurrency, "key-concurrency", 2, "concurrent lanes per key")
	fl.IntVar(&f.concurrency, "concurrency", 10, "total worker lanes across all keys")
	fl.IntVar(&f.valueRange, "value-range", 5, "written values are drawn from [0, n)")
	fl.DurationVar(&f.duration, "duration", 60*time.Second, "total run duration")
	fl.DurationVar(&f.faultWindow, "fault-window", 5*time.Second, "nemesis fault window length")
	fl.Int64Var(&f.seed, "seed", 0, "workload seed, 0 picks one from the clock")
	fl.StringSliceVar(&f.nodes, "nodes", []string{"http://127.0.0.1:8400"}, "backend node URLs (http backend)")
	fl.StringVar(&f.storeRoot, "store", "store", "run store root directory")
	fl.BoolVar(&f.skipCheck, "skip-check", false, "skip consistency analysis after the run")
	fl.StringVar(&f.externalChecker, "external-checker", "", "path to an external checker binary")
	fl.DurationVar(&f.externalTimeout, "external-timeout", 5*time.Minute, "external checker timeout")
	return cmd
}

func (f runFlags) validate() error {
	if f.rate <= 0 {
		return errors.New("--rate must be positive")
	}
	if f.opsPerKey <= 0 {
		return errors.New("--ops-per-key must be a positive integer")
	}
	if f.keyConcurrency <= 0 {
		return errors.New("--key-concurrency must be a positive integer")
	}
	if f.concurrency < f.keyConcurrency {
		return errors.Newf("--concurrency (%d) must be at least --key-concurrency (%d)",
			f.concurrency, f.keyConcurrency)
	}
	if f.valueRange <= 0 {
		return errors.New("--value-range must be a positive integer")
	}
	if f.duration < minDuration {
		return errors.Newf("--duration must be at least %s", minDuration)
	}
	if f.faultWindow <= 0 {
		return errors.New("--fault-window must be positive")
	}
	return nil
}

func runTest(cmd *cobra.Command, backend string, f runFlags) error {
	if err := f.validate(); err != nil {
		return err
	}
	seed := f.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	factory, inj, err := buildBackend(backend, f.nodes)
	if err != nil {
		return err
	}

	st, err := store.Open(f.storeRoot)
	if err != nil {
		return err
	}
	run, err := st.Create(store.Config{
		Command:        store.CommandRun,
		Backend:        backend,
		Nodes:          f.nodes,
		Started:        time.Now(),
		Rate:           f.rate,
		OpsPerKey:      f.opsPerKey,
		KeyConcurrency: f.keyConcurrency,
		Concurrency:    f.concurrency,
		ValueRange:     f.valueRange,
		Duration:       f.duration,
		FaultWindow:    f.faultWindow,
		Seed:           seed,
	})
	if err != nil {
		return err
	}
	fmt.Printf("run %s against %s backend (%s, fault window %s)\n",
		colorize(run.ID, colorCyan), backend, f.duration, f.faultWindow)

	// concurrency/key-concurrency groups work disjoint keys at once; each
	// group rolls to a fresh key whenever a budget drains, so the key
	// space is unbounded and only the duration ends the workload.
	groups := f.concurrency / f.keyConcurrency
	gen, err := generator.New(generator.Config{
		Groups:         groups,
		OpsPerKey:      f.opsPerKey,
		KeyConcurrency: f.keyConcurrency,
		Rate:           f.rate,
		ValueRange:     f.valueRange,
		Seed:           seed,
	})
	if err != nil {
		return err
	}
	sched := nemesis.Schedule(f.duration, f.faultWindow)
	if len(sched) == 0 {
		fmt.Println("fault window too large for this duration; running without faults")
	}

	h, err := driver.Run(cmd.Context(), gen, sched, inj, factory, driver.Config{
		TimeLimit: f.duration,
	})
	if err != nil {
		return err
	}
	if err := run.SaveHistory(h); err != nil {
		return err
	}
	fmt.Printf("recorded %d operations in %s\n", len(h), run.Dir)

	disp := checker.NewDispatcher(checker.Options{
		Skip:            f.skipCheck,
		External:        f.externalChecker,
		Live:            true,
		ExternalTimeout: f.externalTimeout,
	})
	res := disp.Check(cmd.Context(), h, run.Dir)
	if res == nil {
		fmt.Println("analysis skipped")
		return nil
	}
	if err := run.SaveResult(res); err != nil {
		return err
	}
	printResult(res)
	return verdictErr(res.Valid)
}

// buildBackend wires the adapter factory and the matching fault injector
// for a named backend.
func buildBackend(name string, nodes []string) (driver.AdapterFactory, nemesis.Injector, error) {
	switch name {
	case "memory":
		regs := client.NewRegisters()
		return func() client.Adapter { return client.NewMemoryAdapter(regs) },
			client.RegistersPartitioner{Registers: regs}, nil

	case "http":
		if len(nodes) == 0 {
			return nil, nil, errors.New("http backend needs at least one node URL")
		}
		next := 0
		factory := func() client.Adapter {
			ad := client.NewHTTPAdapter(nodes[next%len(nodes)])
			next++
			return ad
		}
		return factory, &client.HTTPPartitioner{Base: nodes[0]}, nil

	case "mailbox":
		mb := client.NewMemoryMailbox()
		return func() client.Adapter { return client.NewMailboxAdapter(mb) },
			client.MailboxPartitioner{Mailbox: mb}, nil
	}
	return nil, nil, errors.Newf("unknown backend %q (want memory, http, or mailbox)", name)
}
