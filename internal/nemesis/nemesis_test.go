package nemesis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvharness/internal/history"
)

func TestScheduleDutyCycle(t *testing.T) {
	events := Schedule(60*time.Second, 5*time.Second)
	// N = floor((60-10) / (2*5)) = 5 cycles, two events each.
	require.Len(t, events, 10)

	assert.Equal(t, history.FuncFaultStart, events[0].Func)
	assert.Equal(t, 8*time.Second, events[0].At) // warmup 3 + window 5
	for i := 0; i+1 < len(events); i += 2 {
		assert.Equal(t, history.FuncFaultStart, events[i].Func)
		assert.Equal(t, history.FuncFaultStop, events[i+1].Func)
		assert.Equal(t, 5*time.Second, events[i+1].At-events[i].At)
	}
}

func TestScheduleLeavesQuietTail(t *testing.T) {
	for _, tc := range []struct {
		limit, window time.Duration
	}{
		{60 * time.Second, 5 * time.Second},
		{30 * time.Second, 5 * time.Second},
		{120 * time.Second, 7 * time.Second},
		{30 * time.Second, 10 * time.Second},
		{45 * time.Second, 12 * time.Second},
	} {
		events := Schedule(tc.limit, tc.window)
		if len(events) == 0 {
			continue
		}
		last := events[len(events)-1]
		assert.GreaterOrEqual(t, tc.limit-last.At, tc.window,
			"limit %s window %s: last event at %s", tc.limit, tc.window, last.At)
	}
}

func TestScheduleZeroCyclesIsEmptyNotError(t *testing.T) {
	// Window too large for the limit: no faults, which is fine.
	assert.Empty(t, Schedule(60*time.Second, 30*time.Second))
	assert.Empty(t, Schedule(15*time.Second, 5*time.Second))
	assert.Empty(t, Schedule(5*time.Second, time.Second))
}

type recordingInjector struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (r *recordingInjector) Start(context.Context) error { return r.record("start") }
func (r *recordingInjector) Stop(context.Context) error  { return r.record("stop") }

func (r *recordingInjector) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	if call == r.failOn {
		return assert.AnError
	}
	return nil
}

func TestRunRecordsControlEvents(t *testing.T) {
	rec := history.NewRecorder()
	inj := &recordingInjector{}
	events := []Event{
		{Func: history.FuncFaultStart, At: 5 * time.Millisecond},
		{Func: history.FuncFaultStop, At: 15 * time.Millisecond},
	}
	require.NoError(t, Run(context.Background(), events, inj, rec))

	h := rec.History()
	require.Len(t, h, 2)
	assert.Equal(t, history.FuncFaultStart, h[0].Func)
	assert.Equal(t, history.FuncFaultStop, h[1].Func)
	for _, op := range h {
		assert.Equal(t, history.ProcessNemesis, op.Process)
		assert.Equal(t, history.OutcomeOk, op.Outcome)
	}
	assert.Equal(t, []string{"start", "stop"}, inj.calls)
}

func TestRunRecordsInjectorFailureAsInfo(t *testing.T) {
	rec := history.NewRecorder()
	inj := &recordingInjector{failOn: "start"}
	events := []Event{{Func: history.FuncFaultStart, At: time.Millisecond}}
	require.NoError(t, Run(context.Background(), events, inj, rec))

	h := rec.History()
	require.Len(t, h, 1)
	assert.Equal(t, history.OutcomeInfo, h[0].Outcome)
	assert.NotEmpty(t, h[0].Err)
}

func TestRunHealsFaultOnCancellation(t *testing.T) {
	rec := history.NewRecorder()
	inj := &recordingInjector{}
	ctx, cancel := context.WithCancel(context.Background())
	events := []Event{
		{Func: history.FuncFaultStart, At: time.Millisecond},
		{Func: history.FuncFaultStop, At: 10 * time.Second},
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, Run(ctx, events, inj, rec))
	// The scheduled stop never fired, but the deferred heal did.
	assert.Equal(t, []string{"start", "stop"}, inj.calls)
}
