// Command kvharness drives consistency tests against a replicated
// key-value service: it generates a concurrent cas-register workload,
// injects faults on a schedule, records the operation history, and checks
// it for linearizability.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"kvharness/internal/checker"
)

func main() {
	root := &cobra.Command{
		Use:           "kvharness",
		Short:         "consistency test harness for replicated key-value services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newCheckCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		// Commands never call os.Exit themselves; exiting here, after
		// Execute has unwound, lets their defers run.
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, colorize("Error: "+err.Error(), colorRed))
		os.Exit(1)
	}
}

// exitError asks main for a specific process exit code once the command
// has fully unwound. The verdict is already printed by the time it is
// returned, so main exits without printing it as an error.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// verdictErr converts a verdict into the command's return value: nil for
// a pass, an exitError carrying the verdict's code otherwise.
func verdictErr(v checker.Verdict) error {
	if code := exitCode(v); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// exitCode maps a verdict to the process exit code: pass, violation,
// or the checker itself could not decide.
func exitCode(v checker.Verdict) int {
	switch v {
	case checker.Valid:
		return 0
	case checker.Invalid:
		return 1
	default:
		return 2
	}
}

func printResult(res *checker.Result) {
	var line string
	switch res.Valid {
	case checker.Valid:
		line = colorize("✓ history is consistent", colorGreen)
	case checker.Invalid:
		line = colorize("✗ consistency violation found", colorRed)
	default:
		line = colorize("? verdict unknown", colorYellow)
	}
	fmt.Println(line)
	if res.Message != "" {
		fmt.Printf("  %s\n", res.Message)
	}
	fmt.Printf("  checker: %s, analysis took %dms\n", res.Checker, res.ElapsedMillis)
}
