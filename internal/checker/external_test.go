package checker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChecker writes an executable shell script standing in for the
// external checker binary.
func fakeChecker(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script fixture")
	}
	path := filepath.Join(t.TempDir(), "checker.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestExternalExitCodeContract(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range []struct {
		name string
		body string
		want Verdict
	}{
		{"exit 0 is valid", "exit 0", Valid},
		{"exit 1 is a violation", "exit 1", Invalid},
		{"exit 2 is unknown", "exit 2", Unknown},
		{"undocumented code is unknown", "exit 42", Unknown},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bin := fakeChecker(t, tc.body)
			res := RunExternal(context.Background(), bin, dir, time.Minute)
			assert.Equal(t, tc.want, res.Valid)
			assert.Equal(t, "external", res.Checker)
		})
	}
}

func TestExternalReceivesRunDirectory(t *testing.T) {
	dir := t.TempDir()
	// The script fails unless the --test-dir flag points at the run dir.
	bin := fakeChecker(t, `[ "$1" = "--test-dir" ] && [ "$2" = "`+dir+`" ] && exit 0; exit 42`)
	res := RunExternal(context.Background(), bin, dir, time.Minute)
	assert.Equal(t, Valid, res.Valid, res.Message)
}

func TestExternalOutputIsDiagnosticOnly(t *testing.T) {
	// A checker that prints reassuring output but exits 1 is still a
	// violation: only the exit code is authoritative.
	bin := fakeChecker(t, `echo "all good"; exit 1`)
	res := RunExternal(context.Background(), bin, t.TempDir(), time.Minute)
	assert.Equal(t, Invalid, res.Valid)
	assert.Contains(t, res.Message, "all good")
}

func TestExternalTimeoutDegradesToUnknown(t *testing.T) {
	bin := fakeChecker(t, "sleep 10; exit 0")
	res := RunExternal(context.Background(), bin, t.TempDir(), 100*time.Millisecond)
	assert.Equal(t, Unknown, res.Valid)
	assert.Contains(t, res.Message, "timeout")
}

func TestDiagTailTrimsOnRuneBoundary(t *testing.T) {
	// 400 two-byte runes overflow the tail limit by an odd byte count, so
	// a byte-indexed cut would open mid-rune.
	long := "x" + strings.Repeat("é", 400)
	tail := diagTail(long, "")
	assert.True(t, utf8.ValidString(tail), "tail must not start mid-rune")
	assert.Contains(t, tail, "é")

	short := diagTail("fine", "")
	assert.Equal(t, "; output: fine", short)
}

func TestExternalMissingBinaryIsUnknown(t *testing.T) {
	res := RunExternal(context.Background(), filepath.Join(t.TempDir(), "missing"), t.TempDir(), time.Minute)
	assert.Equal(t, Unknown, res.Valid)
}
