package checker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"kvharness/internal/history"
)

// WritePerfSummary writes perf.txt: per-type outcome counts and the spread
// of operations across keys. Reporting only; it carries no verdict.
func WritePerfSummary(h history.History, dir string) error {
	s := h.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "total client ops: %d\n\n", s.Total)
	fmt.Fprintf(&b, "%-6s %8s %8s %8s %8s\n", "op", "invoked", "ok", "fail", "info")
	writeCounts := func(name string, c history.FuncCounts) {
		fmt.Fprintf(&b, "%-6s %8d %8d %8d %8d\n", name, c.Invoked, c.Ok, c.Fail, c.Info)
	}
	writeCounts("read", s.Reads)
	writeCounts("write", s.Writes)
	writeCounts("cas", s.CAS)
	if len(s.KeyOps) > 0 {
		fmt.Fprintf(&b, "\nops per key (%d keys): min %d / med %d / avg %d / max %d\n",
			len(s.KeyOps), s.KeyMin, s.KeyMed, s.KeyAvg, s.KeyMax)
	}
	return writeReport(dir, "perf.txt", b.String())
}

// WriteTimeline writes timeline.txt: the fault windows derived from the
// recorded nemesis events, with the operations that completed inside each.
func WriteTimeline(h history.History, dir string) error {
	windows := h.FaultWindows()
	var b strings.Builder
	if len(windows) == 0 {
		b.WriteString("no faults injected\n")
	}
	for i, w := range windows {
		var ok, fail, info int
		for _, op := range h {
			if !op.Client() {
				continue
			}
			at := time.Duration(op.Complete)
			if at < w.Start || at > w.Start+w.Duration {
				continue
			}
			switch op.Outcome {
			case history.OutcomeOk:
				ok++
			case history.OutcomeFail:
				fail++
			case history.OutcomeInfo:
				info++
			}
		}
		fmt.Fprintf(&b, "fault %d: start %s, duration %s, ops completed inside: %d ok / %d fail / %d info\n",
			i+1, w.Start.Round(time.Millisecond), w.Duration.Round(time.Millisecond), ok, fail, info)
	}
	return writeReport(dir, "timeline.txt", b.String())
}

func writeReport(dir, name, content string) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}
