package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"kvharness/internal/checker"
	"kvharness/internal/store"
)

type checkFlags struct {
	storeRoot       string
	skipCheck       bool
	externalChecker string
	externalTimeout time.Duration
}

func newCheckCmd() *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:   "check <run-index|run-dir>",
		Short: "re-analyze a stored run (-1 = most recent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkRun(cmd, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.storeRoot, "store", "store", "run store root directory")
	fl.BoolVar(&f.skipCheck, "skip-check", false, "ignored at re-analysis time; kept for flag parity with run")
	fl.StringVar(&f.externalChecker, "external-checker", "", "path to an external checker binary")
	fl.DurationVar(&f.externalTimeout, "external-timeout", 5*time.Minute, "external checker timeout")
	return cmd
}

func checkRun(cmd *cobra.Command, target string, f checkFlags) error {
	dir, err := resolveTarget(target, f.storeRoot)
	if err != nil {
		return err
	}

	run, err := store.Load(dir)
	if err != nil {
		return errors.Wrap(err, "load stored run")
	}
	fmt.Printf("re-analyzing run %s (%s backend, %d ops)\n",
		colorize(run.ID, colorCyan), run.Config.Backend, len(run.History))

	disp := checker.NewDispatcher(checker.Options{
		Skip:            f.skipCheck,
		External:        f.externalChecker,
		Live:            false,
		ExternalTimeout: f.externalTimeout,
	})
	res := disp.Check(cmd.Context(), run.History, run.Dir)
	if res == nil {
		// Unreachable: skip only applies to live execution.
		return errors.New("no checker selected")
	}
	if err := run.SaveResult(res); err != nil {
		return err
	}
	printResult(res)
	return verdictErr(res.Valid)
}

// resolveTarget accepts either a reverse-chronological index or an
// explicit run directory path.
func resolveTarget(target, storeRoot string) (string, error) {
	if index, err := strconv.Atoi(target); err == nil {
		st, err := store.Open(storeRoot)
		if err != nil {
			return "", err
		}
		return st.Resolve(index)
	}
	info, err := os.Stat(target)
	if err != nil {
		return "", errors.Wrapf(err, "run %q is neither an index nor a readable directory", target)
	}
	if !info.IsDir() {
		return "", errors.Newf("run path %q is not a directory", target)
	}
	return target, nil
}
