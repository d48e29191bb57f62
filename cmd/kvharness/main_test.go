package main

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvharness/internal/checker"
)

func TestExitCodeMapsVerdicts(t *testing.T) {
	assert.Equal(t, 0, exitCode(checker.Valid))
	assert.Equal(t, 1, exitCode(checker.Invalid))
	assert.Equal(t, 2, exitCode(checker.Unknown))
}

func TestVerdictErrReturnsThroughTheCommand(t *testing.T) {
	// A pass returns nil so the process exits 0 the normal way; other
	// verdicts surface as an exitError that main resolves after every
	// deferred cleanup has run.
	assert.NoError(t, verdictErr(checker.Valid))

	for v, want := range map[checker.Verdict]int{
		checker.Invalid: 1,
		checker.Unknown: 2,
	} {
		err := verdictErr(v)
		require.Error(t, err)
		var ee *exitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, want, ee.code)
		// The code survives wrapping on the way up the command stack.
		require.ErrorAs(t, errors.Wrap(err, "analysis"), &ee)
		assert.Equal(t, want, ee.code)
	}
}
