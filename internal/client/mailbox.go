package client

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"kvharness/internal/generator"
	"kvharness/internal/history"
)

// Mailbox is the coarse primitive exposed by backends that have no direct
// CAS: a per-key durable slot holding a value and a revision. Pull returns
// the latest state; Put replaces it unconditionally; PutIf replaces it only
// if the revision is unchanged since the caller's Pull.
type Mailbox interface {
	Pull(ctx context.Context, key int) (value *int, rev uint64, err error)
	Put(ctx context.Context, key, value int) error
	PutIf(ctx context.Context, key, value int, rev uint64) (bool, error)
}

// MemoryMailbox is an in-process Mailbox with the same partition behavior
// as Registers, used by the mailbox backend and its tests.
type MemoryMailbox struct {
	mu          sync.Mutex
	values      map[int]*int
	revs        map[int]uint64
	partitioned bool
}

func NewMemoryMailbox() *MemoryMailbox {
	return &MemoryMailbox{values: make(map[int]*int), revs: make(map[int]uint64)}
}

func (m *MemoryMailbox) SetPartitioned(p bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitioned = p
}

func (m *MemoryMailbox) Pull(_ context.Context, key int) (*int, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.partitioned {
		return nil, 0, ErrUnavailable
	}
	if v := m.values[key]; v != nil {
		c := *v
		return &c, m.revs[key], nil
	}
	return nil, m.revs[key], nil
}

func (m *MemoryMailbox) Put(_ context.Context, key, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = intp(value)
	m.revs[key]++
	if m.partitioned {
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryMailbox) PutIf(_ context.Context, key, value int, rev uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.partitioned {
		return false, ErrUnavailable
	}
	if m.revs[key] != rev {
		return false, nil
	}
	m.values[key] = intp(value)
	m.revs[key]++
	return true, nil
}

// MailboxPartitioner is the nemesis injector for the mailbox backend.
type MailboxPartitioner struct {
	Mailbox *MemoryMailbox
}

func (p MailboxPartitioner) Start(context.Context) error {
	p.Mailbox.SetPartitioned(true)
	return nil
}

func (p MailboxPartitioner) Stop(context.Context) error {
	p.Mailbox.SetPartitioned(false)
	return nil
}

// pulled is the adapter's cached view of one key: the value and revision
// seen by its most recent pull.
type pulled struct {
	value *int
	rev   uint64
}

// errRevisionMoved reports a guarded push that lost the race: the slot's
// revision changed between pull and push, so the push provably did not
// apply. The winning writer may have installed the very same value, so
// the fail must carry this error: a bare cas fail claims the register
// itself mismatched, which a lost race cannot claim.
var errRevisionMoved = errors.New("mailbox revision moved between pull and push")

// MailboxAdapter composes the three-op contract from the mailbox
// primitive: cas is pull, compare locally against the pulled state, push
// only if the revision is unchanged. The composition is not atomic end to
// end, so a lost race surfaces as a cas fail carrying errRevisionMoved;
// that is a documented source of extra apparent contention, and
// acceptable because such fails are never treated as register
// observations downstream.
//
// The cache map is built at Open and owned by this instance alone; lanes
// never share an adapter, so it needs no locking.
type MailboxAdapter struct {
	mb    Mailbox
	known map[int]pulled
}

func NewMailboxAdapter(mb Mailbox) *MailboxAdapter {
	return &MailboxAdapter{mb: mb}
}

func (a *MailboxAdapter) Open(context.Context) error {
	a.known = make(map[int]pulled)
	return nil
}

// pull refreshes the cached view of key from the mailbox.
func (a *MailboxAdapter) pull(ctx context.Context, key int) (pulled, error) {
	v, rev, err := a.mb.Pull(ctx, key)
	if err != nil {
		return pulled{}, err
	}
	p := pulled{value: v, rev: rev}
	a.known[key] = p
	return p, nil
}

func (a *MailboxAdapter) Setup(context.Context) error    { return nil }
func (a *MailboxAdapter) Teardown(context.Context) error { return nil }
func (a *MailboxAdapter) Close() error                   { return nil }

func (a *MailboxAdapter) Invoke(ctx context.Context, inv generator.Invocation) Result {
	switch inv.Func {
	case history.FuncRead:
		p, err := a.pull(ctx, inv.Key)
		if err != nil {
			return ambiguous(inv.Func, err)
		}
		return Result{Outcome: history.OutcomeOk, Value: p.value}

	case history.FuncWrite:
		if err := a.mb.Put(ctx, inv.Key, inv.Value); err != nil {
			return ambiguous(inv.Func, err)
		}
		return Result{Outcome: history.OutcomeOk}

	case history.FuncCAS:
		if _, err := a.pull(ctx, inv.Key); err != nil {
			return ambiguous(inv.Func, err)
		}
		cur := a.known[inv.Key]
		if cur.value == nil || *cur.value != inv.Expected {
			return Result{Outcome: history.OutcomeFail}
		}
		swapped, err := a.mb.PutIf(ctx, inv.Key, inv.New, cur.rev)
		if err != nil {
			return ambiguous(inv.Func, err)
		}
		if !swapped {
			return Result{Outcome: history.OutcomeFail, Err: errRevisionMoved}
		}
		return Result{Outcome: history.OutcomeOk}
	}
	return Result{Outcome: history.OutcomeFail, Err: errUnknownFunc(inv.Func)}
}
