package checker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"
)

// RunExternal hands the run's persisted directory to an external checker
// process and interprets its exit code: 0 means valid, 1 means a
// consistency violation, and anything else — an undocumented code, a
// crash, a failure to start, or overrunning its timeout — means the
// checker itself failed and the verdict is unknown. The process boundary
// is untrusted: stdout/stderr are captured purely for diagnostics and
// never parsed for the result.
func RunExternal(ctx context.Context, bin, dir string, timeout time.Duration) Result {
	res := Result{Checker: "external"}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, bin, "--test-dir", dir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := diagTail(stdout.String(), stderr.String())

	if cctx.Err() == context.DeadlineExceeded {
		res.Valid = Unknown
		res.Message = fmt.Sprintf("external checker exceeded %s timeout%s", timeout, output)
		return res
	}
	if err == nil {
		res.Valid = Valid
		res.Message = "external checker passed" + output
		return res
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		switch code := exitErr.ExitCode(); code {
		case 1:
			res.Valid = Invalid
			res.Message = "external checker found a violation" + output
		default:
			res.Valid = Unknown
			res.Message = fmt.Sprintf("external checker failed with exit code %d%s", code, output)
		}
		return res
	}
	res.Valid = Unknown
	res.Message = fmt.Sprintf("external checker could not run: %v", err)
	return res
}

// diagTail folds captured output into a short single-line suffix.
func diagTail(stdout, stderr string) string {
	const limit = 512
	combined := strings.TrimSpace(stdout)
	if s := strings.TrimSpace(stderr); s != "" {
		if combined != "" {
			combined += " | "
		}
		combined += s
	}
	if combined == "" {
		return ""
	}
	if len(combined) > limit {
		cut := len(combined) - limit
		// Never cut in the middle of a multi-byte rune.
		for cut < len(combined) && !utf8.RuneStart(combined[cut]) {
			cut++
		}
		combined = combined[cut:]
	}
	return "; output: " + combined
}
