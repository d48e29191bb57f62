package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvharness/internal/generator"
	"kvharness/internal/history"
)

func read(key int) generator.Invocation {
	return generator.Invocation{Key: key, Func: history.FuncRead}
}

func write(key, val int) generator.Invocation {
	return generator.Invocation{Key: key, Func: history.FuncWrite, Value: val}
}

func cas(key, expected, newVal int) generator.Invocation {
	return generator.Invocation{Key: key, Func: history.FuncCAS, Expected: expected, New: newVal}
}

func TestMemoryAdapterRegisterSemantics(t *testing.T) {
	ctx := context.Background()
	regs := NewRegisters()
	ad := NewMemoryAdapter(regs)
	require.NoError(t, ad.Open(ctx))
	require.NoError(t, ad.Setup(ctx))

	res := ad.Invoke(ctx, read(1))
	assert.Equal(t, history.OutcomeOk, res.Outcome)
	assert.Nil(t, res.Value, "unwritten register reads nil")

	assert.Equal(t, history.OutcomeOk, ad.Invoke(ctx, write(1, 7)).Outcome)

	res = ad.Invoke(ctx, read(1))
	require.NotNil(t, res.Value)
	assert.Equal(t, 7, *res.Value)

	assert.Equal(t, history.OutcomeOk, ad.Invoke(ctx, cas(1, 7, 9)).Outcome)
	res = ad.Invoke(ctx, read(1))
	require.NotNil(t, res.Value)
	assert.Equal(t, 9, *res.Value)
}

func TestCASMismatchFailsAndLeavesValue(t *testing.T) {
	ctx := context.Background()
	regs := NewRegisters()
	ad := NewMemoryAdapter(regs)

	require.Equal(t, history.OutcomeOk, ad.Invoke(ctx, write(0, 3)).Outcome)

	res := ad.Invoke(ctx, cas(0, 5, 8))
	assert.Equal(t, history.OutcomeFail, res.Outcome)
	assert.NoError(t, res.Err, "a compare mismatch is a definite outcome, not an error")

	got := ad.Invoke(ctx, read(0))
	require.NotNil(t, got.Value)
	assert.Equal(t, 3, *got.Value, "failed cas must leave the register unchanged")
}

func TestPartitionOutcomeAsymmetry(t *testing.T) {
	ctx := context.Background()
	regs := NewRegisters()
	ad := NewMemoryAdapter(regs)
	RegistersPartitioner{Registers: regs}.Start(ctx)

	// A lost read has no side effect to reconcile: fail.
	res := ad.Invoke(ctx, read(0))
	assert.Equal(t, history.OutcomeFail, res.Outcome)

	// A write may or may not have taken effect: info, never fail.
	res = ad.Invoke(ctx, write(0, 4))
	assert.Equal(t, history.OutcomeInfo, res.Outcome)

	res = ad.Invoke(ctx, cas(0, 4, 5))
	assert.Equal(t, history.OutcomeInfo, res.Outcome)

	RegistersPartitioner{Registers: regs}.Stop(ctx)
	got := ad.Invoke(ctx, read(0))
	require.Equal(t, history.OutcomeOk, got.Outcome)
	require.NotNil(t, got.Value)
	assert.Equal(t, 4, *got.Value, "the ambiguous write did land")
}

func TestMailboxAdapterComposesCAS(t *testing.T) {
	ctx := context.Background()
	mb := NewMemoryMailbox()
	ad := NewMailboxAdapter(mb)
	require.NoError(t, ad.Open(ctx))

	assert.Equal(t, history.OutcomeOk, ad.Invoke(ctx, write(2, 1)).Outcome)
	assert.Equal(t, history.OutcomeOk, ad.Invoke(ctx, cas(2, 1, 6)).Outcome)

	res := ad.Invoke(ctx, read(2))
	require.NotNil(t, res.Value)
	assert.Equal(t, 6, *res.Value)

	// Local compare failure.
	assert.Equal(t, history.OutcomeFail, ad.Invoke(ctx, cas(2, 1, 9)).Outcome)
}

func TestMailboxCASLosesRaceSafely(t *testing.T) {
	ctx := context.Background()
	mb := NewMemoryMailbox()
	a := NewMailboxAdapter(mb)
	require.NoError(t, a.Open(ctx))
	require.Equal(t, history.OutcomeOk, a.Invoke(ctx, write(0, 1)).Outcome)

	// Another writer slips in between this adapter's pull and push by
	// rewriting the same value: the revision moves, so the push must not
	// apply even though the value still compares equal at pull time.
	_, rev, err := mb.Pull(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, mb.Put(ctx, 0, 1))
	swapped, err := mb.PutIf(ctx, 0, 5, rev)
	require.NoError(t, err)
	assert.False(t, swapped, "a stale revision must never win")
}

// racingMailbox rewrites the slot with its current value right after every
// pull, so the revision has always moved by the time the puller pushes.
type racingMailbox struct {
	*MemoryMailbox
}

func (r *racingMailbox) Pull(ctx context.Context, key int) (*int, uint64, error) {
	v, rev, err := r.MemoryMailbox.Pull(ctx, key)
	if err == nil && v != nil {
		_ = r.MemoryMailbox.Put(ctx, key, *v)
	}
	return v, rev, err
}

func TestMailboxCASLostRaceIsNotAnObservation(t *testing.T) {
	// A concurrent writer rewriting the same value moves the revision
	// while the register still compares equal; the resulting cas fail
	// proves only that the push did not apply, nothing about the value,
	// so it must carry an error rather than pose as a compare mismatch.
	ctx := context.Background()
	mb := NewMemoryMailbox()
	ad := NewMailboxAdapter(&racingMailbox{MemoryMailbox: mb})
	require.NoError(t, ad.Open(ctx))
	require.Equal(t, history.OutcomeOk, ad.Invoke(ctx, write(0, 1)).Outcome)

	res := ad.Invoke(ctx, cas(0, 1, 2))
	assert.Equal(t, history.OutcomeFail, res.Outcome)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, errRevisionMoved)

	got := ad.Invoke(ctx, read(0))
	require.NotNil(t, got.Value)
	assert.Equal(t, 1, *got.Value, "the lost push must not apply")
}

func TestMailboxPartitionMapsLikeRegisters(t *testing.T) {
	ctx := context.Background()
	mb := NewMemoryMailbox()
	ad := NewMailboxAdapter(mb)
	require.NoError(t, ad.Open(ctx))
	MailboxPartitioner{Mailbox: mb}.Start(ctx)

	assert.Equal(t, history.OutcomeFail, ad.Invoke(ctx, read(0)).Outcome)
	assert.Equal(t, history.OutcomeInfo, ad.Invoke(ctx, write(0, 2)).Outcome)
	assert.Equal(t, history.OutcomeInfo, ad.Invoke(ctx, cas(0, 2, 3)).Outcome)
}
