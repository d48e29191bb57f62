// Package generator produces the concurrent workload: a mix of
// read/write/cas invocations paced to a target rate, spread over an
// unbounded key space. Lanes are organized into groups; each group works
// one key at a time against a jittered per-key budget and moves on to a
// fresh key when the budget is spent, so operations keep flowing until
// the run clock stops them. The generator emits pure data; dispatching an
// invocation against a backend is the driver's job. A generator is
// single-use — construct a fresh one per run.
package generator

import (
	"context"
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"kvharness/internal/history"
)

// Invocation is one operation to issue. Value is the write payload;
// Expected/New are the cas pair. Reads carry no payload.
type Invocation struct {
	Key      int
	Func     history.Func
	Value    int
	Expected int
	New      int
}

// Mix weights the draw between operation types.
type Mix struct {
	Read  int
	Write int
	CAS   int
}

// DefaultMix is an even split, the usual shape for a cas-register workload.
var DefaultMix = Mix{Read: 1, Write: 1, CAS: 1}

type Config struct {
	// Groups is the number of concurrently worked keys: each group of
	// KeyConcurrency lanes shares one current key.
	Groups int
	// OpsPerKey is the nominal operation budget per key. The realized
	// budget of each key is OpsPerKey scaled by a jitter factor drawn
	// uniformly from [0.9, 1.0], so keys do not all run dry at the same
	// moment. A spent budget retires the key, not the lanes: the group
	// continues on a fresh key.
	OpsPerKey int
	// KeyConcurrency is the number of lanes per group.
	KeyConcurrency int
	// Rate is the target emission rate per lane, invocations per second.
	Rate float64
	// ValueRange bounds written values to [0, ValueRange).
	ValueRange int
	Mix        Mix
	Seed       int64
}

func (c Config) validate() error {
	if c.Groups <= 0 {
		return errors.Newf("generator: groups must be positive, got %d", c.Groups)
	}
	if c.OpsPerKey <= 0 {
		return errors.Newf("generator: ops per key must be positive, got %d", c.OpsPerKey)
	}
	if c.KeyConcurrency <= 0 {
		return errors.Newf("generator: key concurrency must be positive, got %d", c.KeyConcurrency)
	}
	if c.Rate <= 0 {
		return errors.Newf("generator: rate must be positive, got %f", c.Rate)
	}
	if c.ValueRange <= 0 {
		return errors.Newf("generator: value range must be positive, got %d", c.ValueRange)
	}
	return nil
}

// keyAlloc mints keys, generator-wide, so no two groups ever work the
// same key.
type keyAlloc struct {
	mu   sync.Mutex
	next int
}

func (a *keyAlloc) take() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := a.next
	a.next++
	return k
}

// laneGroup is the shared state of one group: the current key and what
// remains of its budget. When the budget is spent the group advances to a
// fresh key with a fresh jittered budget.
type laneGroup struct {
	alloc     *keyAlloc
	opsPerKey int

	mu     sync.Mutex
	rng    *rand.Rand
	key    int
	budget int
}

func (g *laneGroup) take() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.budget <= 0 {
		g.key = g.alloc.take()
		jitter := 0.9 + 0.1*g.rng.Float64()
		g.budget = int(float64(g.opsPerKey) * jitter)
	}
	g.budget--
	return g.key
}

// Lane is one sequential stream of invocations. Lanes of the same group
// share the group's current key; each lane paces itself independently.
type Lane struct {
	process    int
	group      *laneGroup
	limiter    *rate.Limiter
	mu         sync.Mutex
	rng        *rand.Rand
	mix        Mix
	valueRange int
}

// Process returns the lane's stable process id, used as the history
// process field.
func (l *Lane) Process() int { return l.process }

// Next blocks for the lane's pacing delay and returns the next
// invocation. Only cancellation stops a lane; key budgets retire keys,
// never the lane itself.
func (l *Lane) Next(ctx context.Context) (Invocation, bool) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Invocation{}, false
	}
	return l.draw(l.group.take()), true
}

func (l *Lane) draw(key int) Invocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv := Invocation{Key: key}
	total := l.mix.Read + l.mix.Write + l.mix.CAS
	n := l.rng.Intn(total)
	switch {
	case n < l.mix.Read:
		inv.Func = history.FuncRead
	case n < l.mix.Read+l.mix.Write:
		inv.Func = history.FuncWrite
		inv.Value = l.rng.Intn(l.valueRange)
	default:
		inv.Func = history.FuncCAS
		inv.Expected = l.rng.Intn(l.valueRange)
		inv.New = l.rng.Intn(l.valueRange)
	}
	return inv
}

// Generator owns the full set of lanes for a run.
type Generator struct {
	lanes []*Lane
}

func New(cfg Config) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Mix == (Mix{}) {
		cfg.Mix = DefaultMix
	}
	seeder := rand.New(rand.NewSource(cfg.Seed))
	alloc := &keyAlloc{}

	g := &Generator{}
	process := 0
	for i := 0; i < cfg.Groups; i++ {
		group := &laneGroup{
			alloc:     alloc,
			opsPerKey: cfg.OpsPerKey,
			rng:       rand.New(rand.NewSource(seeder.Int63())),
		}
		for lane := 0; lane < cfg.KeyConcurrency; lane++ {
			g.lanes = append(g.lanes, &Lane{
				process:    process,
				group:      group,
				limiter:    rate.NewLimiter(rate.Limit(cfg.Rate), 1),
				rng:        rand.New(rand.NewSource(seeder.Int63())),
				mix:        cfg.Mix,
				valueRange: cfg.ValueRange,
			})
			process++
		}
	}
	return g, nil
}

// Lanes returns every lane. The driver runs one worker per lane.
func (g *Generator) Lanes() []*Lane { return g.lanes }
