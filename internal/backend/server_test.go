package backend

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvharness/internal/client"
	"kvharness/internal/generator"
	"kvharness/internal/history"
)

func startServer(t *testing.T, opts Options) (*httptest.Server, *client.HTTPAdapter) {
	t.Helper()
	ts := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(ts.Close)
	ad := client.NewHTTPAdapter(ts.URL)
	require.NoError(t, ad.Open(context.Background()))
	return ts, ad
}

func inv(f history.Func, key, a, b int) generator.Invocation {
	switch f {
	case history.FuncWrite:
		return generator.Invocation{Key: key, Func: f, Value: a}
	case history.FuncCAS:
		return generator.Invocation{Key: key, Func: f, Expected: a, New: b}
	}
	return generator.Invocation{Key: key, Func: f}
}

func TestHTTPRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, ad := startServer(t, Options{})

	res := ad.Invoke(ctx, inv(history.FuncRead, 1, 0, 0))
	require.Equal(t, history.OutcomeOk, res.Outcome)
	assert.Nil(t, res.Value)

	assert.Equal(t, history.OutcomeOk, ad.Invoke(ctx, inv(history.FuncWrite, 1, 4, 0)).Outcome)

	res = ad.Invoke(ctx, inv(history.FuncRead, 1, 0, 0))
	require.Equal(t, history.OutcomeOk, res.Outcome)
	require.NotNil(t, res.Value)
	assert.Equal(t, 4, *res.Value)

	assert.Equal(t, history.OutcomeOk, ad.Invoke(ctx, inv(history.FuncCAS, 1, 4, 8)).Outcome)

	casFail := ad.Invoke(ctx, inv(history.FuncCAS, 1, 4, 9))
	assert.Equal(t, history.OutcomeFail, casFail.Outcome)
	assert.NoError(t, casFail.Err, "409 is a definite compare failure")
}

func TestHTTPPartitionMapping(t *testing.T) {
	ctx := context.Background()
	ts, ad := startServer(t, Options{})
	part := &client.HTTPPartitioner{Base: ts.URL}

	require.NoError(t, part.Start(ctx))

	assert.Equal(t, history.OutcomeFail, ad.Invoke(ctx, inv(history.FuncRead, 0, 0, 0)).Outcome)
	assert.Equal(t, history.OutcomeInfo, ad.Invoke(ctx, inv(history.FuncWrite, 0, 3, 0)).Outcome)
	assert.Equal(t, history.OutcomeInfo, ad.Invoke(ctx, inv(history.FuncCAS, 0, 3, 4)).Outcome)

	require.NoError(t, part.Stop(ctx))

	// The partitioned write applied locally: the ambiguity was real.
	res := ad.Invoke(ctx, inv(history.FuncRead, 0, 0, 0))
	require.Equal(t, history.OutcomeOk, res.Outcome)
	require.NotNil(t, res.Value)
	assert.Equal(t, 3, *res.Value)
}

func TestStaleReadsServeSnapshotDuringPartition(t *testing.T) {
	ctx := context.Background()
	ts, ad := startServer(t, Options{StaleReads: true})
	part := &client.HTTPPartitioner{Base: ts.URL}

	require.Equal(t, history.OutcomeOk, ad.Invoke(ctx, inv(history.FuncWrite, 0, 1, 0)).Outcome)
	require.NoError(t, part.Start(ctx))

	// Write lands but acks ambiguously; the stale read still sees 1.
	assert.Equal(t, history.OutcomeInfo, ad.Invoke(ctx, inv(history.FuncWrite, 0, 2, 0)).Outcome)
	res := ad.Invoke(ctx, inv(history.FuncRead, 0, 0, 0))
	require.Equal(t, history.OutcomeOk, res.Outcome)
	require.NotNil(t, res.Value)
	assert.Equal(t, 1, *res.Value)

	require.NoError(t, part.Stop(ctx))
	res = ad.Invoke(ctx, inv(history.FuncRead, 0, 0, 0))
	require.NotNil(t, res.Value)
	assert.Equal(t, 2, *res.Value)
}

func TestBadRequestsAreDefiniteFailures(t *testing.T) {
	ctx := context.Background()
	ts, _ := startServer(t, Options{})
	ad := client.NewHTTPAdapter(ts.URL)
	require.NoError(t, ad.Open(ctx))

	// Unreachable backend: open must fail, aborting the run up front.
	bad := client.NewHTTPAdapter("http://127.0.0.1:1")
	assert.Error(t, bad.Open(ctx))
}
