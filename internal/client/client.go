// Package client defines the contract every backend under test satisfies,
// plus the concrete adapters: an in-process register map, an HTTP client
// for the reference service, and a composed mailbox backend.
package client

import (
	"context"

	"github.com/cockroachdb/errors"

	"kvharness/internal/generator"
	"kvharness/internal/history"
)

// Result is the classified outcome of one invocation. Value is set for
// completed reads (nil when the register was never written). Err carries
// diagnostic detail; the Outcome alone decides how the history treats the
// operation.
type Result struct {
	Outcome history.Outcome
	Value   *int
	Err     error
}

// Adapter is the lifecycle every backend implements:
// Open → Setup → Invoke* → Teardown → Close.
//
// Invoke must classify every outcome itself and never retry: a read that
// hits a transport error is fail (no side effect to reconcile), a write or
// cas that times out or fails ambiguously is info (it may have taken
// effect), and fail on a mutating op asserts the backend proved the
// operation did not happen. A cas fail with no error additionally asserts
// the backend atomically observed the register mismatching the expected
// value; a cas that provably did not apply without observing the register
// (a lost revision race, say) must attach an error to its fail.
//
// Adapter instances own their connection and cached state exclusively; the
// driver gives each lane its own instance and never shares one.
type Adapter interface {
	Open(ctx context.Context) error
	Setup(ctx context.Context) error
	Invoke(ctx context.Context, inv generator.Invocation) Result
	Teardown(ctx context.Context) error
	Close() error
}

// ErrUnavailable marks a transport-level failure where the request may or
// may not have reached the backend.
var ErrUnavailable = errors.New("backend unavailable")

// ambiguous maps a transport error to the outcome for the given operation
// type: reads fail (a lost read did nothing), mutating ops are info (the
// effect is unknown). This asymmetry is deliberate; do not unify it.
func ambiguous(f history.Func, err error) Result {
	if f == history.FuncRead {
		return Result{Outcome: history.OutcomeFail, Err: err}
	}
	return Result{Outcome: history.OutcomeInfo, Err: err}
}

func errUnknownFunc(f history.Func) error {
	return errors.Newf("unknown operation func %q", f)
}

func intp(v int) *int { return &v }
