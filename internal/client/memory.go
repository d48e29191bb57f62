package client

import (
	"context"
	"sync"

	"kvharness/internal/generator"
	"kvharness/internal/history"
)

// Registers is an in-process register service shared by memory adapters.
// It mimics the observable behavior of a remote backend under partition:
// while partitioned, reads error out, and writes apply but report an
// ambiguous commit, which is exactly the hard case for the checker.
type Registers struct {
	mu          sync.Mutex
	values      map[int]*int
	partitioned bool
}

func NewRegisters() *Registers {
	return &Registers{values: make(map[int]*int)}
}

// SetPartitioned toggles the simulated partition.
func (r *Registers) SetPartitioned(p bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partitioned = p
}

func (r *Registers) read(key int) (*int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partitioned {
		return nil, ErrUnavailable
	}
	if v := r.values[key]; v != nil {
		c := *v
		return &c, nil
	}
	return nil, nil
}

func (r *Registers) write(key, val int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = intp(val)
	if r.partitioned {
		return ErrUnavailable
	}
	return nil
}

func (r *Registers) cas(key, expected, newVal int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partitioned {
		return false, ErrUnavailable
	}
	cur := r.values[key]
	if cur == nil || *cur != expected {
		return false, nil
	}
	r.values[key] = intp(newVal)
	return true, nil
}

// RegistersPartitioner is the nemesis injector for the in-process backend.
type RegistersPartitioner struct {
	Registers *Registers
}

func (p RegistersPartitioner) Start(context.Context) error {
	p.Registers.SetPartitioned(true)
	return nil
}

func (p RegistersPartitioner) Stop(context.Context) error {
	p.Registers.SetPartitioned(false)
	return nil
}

// MemoryAdapter drives a shared Registers instance. Open and Setup are
// trivial; the instance holds no per-connection state beyond the pointer.
type MemoryAdapter struct {
	regs *Registers
}

func NewMemoryAdapter(regs *Registers) *MemoryAdapter {
	return &MemoryAdapter{regs: regs}
}

func (a *MemoryAdapter) Open(context.Context) error     { return nil }
func (a *MemoryAdapter) Setup(context.Context) error    { return nil }
func (a *MemoryAdapter) Teardown(context.Context) error { return nil }
func (a *MemoryAdapter) Close() error                   { return nil }

func (a *MemoryAdapter) Invoke(ctx context.Context, inv generator.Invocation) Result {
	if err := ctx.Err(); err != nil {
		return ambiguous(inv.Func, err)
	}
	switch inv.Func {
	case history.FuncRead:
		v, err := a.regs.read(inv.Key)
		if err != nil {
			return ambiguous(inv.Func, err)
		}
		return Result{Outcome: history.OutcomeOk, Value: v}
	case history.FuncWrite:
		if err := a.regs.write(inv.Key, inv.Value); err != nil {
			return ambiguous(inv.Func, err)
		}
		return Result{Outcome: history.OutcomeOk}
	case history.FuncCAS:
		swapped, err := a.regs.cas(inv.Key, inv.Expected, inv.New)
		if err != nil {
			return ambiguous(inv.Func, err)
		}
		if !swapped {
			return Result{Outcome: history.OutcomeFail}
		}
		return Result{Outcome: history.OutcomeOk}
	}
	return Result{Outcome: history.OutcomeFail, Err: errUnknownFunc(inv.Func)}
}
