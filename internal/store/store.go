// Package store persists runs. Each run lives under its own directory
// named by a sortable identifier: config.yaml written at creation,
// history.json after the workload, result.json after analysis. Listing and
// reverse indexing touch only directory names, never histories.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"kvharness/internal/checker"
	"kvharness/internal/history"
)

const (
	configFile  = "config.yaml"
	historyFile = "history.json"
	resultFile  = "result.json"

	// CommandRun is the invocation command recorded on runs produced by
	// test execution; re-analysis refuses anything else.
	CommandRun = "run"
)

// Config is the effective configuration of a run, persisted so re-analysis
// can reconstruct the same checker setup.
type Config struct {
	Command string    `yaml:"command"`
	Backend string    `yaml:"backend"`
	Nodes   []string  `yaml:"nodes,omitempty"`
	Started time.Time `yaml:"started"`

	Rate           float64       `yaml:"rate"`
	OpsPerKey      int           `yaml:"ops_per_key"`
	KeyConcurrency int           `yaml:"key_concurrency"`
	Concurrency    int           `yaml:"concurrency"`
	ValueRange     int           `yaml:"value_range"`
	Duration       time.Duration `yaml:"duration"`
	FaultWindow    time.Duration `yaml:"fault_window"`
	Seed           int64         `yaml:"seed"`
}

// Store is a root directory holding runs.
type Store struct {
	root string
}

func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "open store %s", root)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

// newRunID builds a chronologically sortable identifier: a UTC timestamp
// prefix plus a short random suffix so concurrent runs cannot collide.
func newRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}

// Create allocates a run directory and persists its configuration.
func (s *Store) Create(cfg Config) (*Run, error) {
	id := newRunID(cfg.Started)
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create run dir %s", dir)
	}
	run := &Run{ID: id, Dir: dir, Config: cfg}
	if err := run.saveConfig(); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns run ids in chronological order. Only names are read.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, "list store %s", s.root)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Resolve maps a reverse-chronological index to a run directory: -1 is the
// most recent run, -2 the one before it, and so on.
func (s *Store) Resolve(index int) (string, error) {
	if index >= 0 {
		return "", errors.Newf("run index must be negative (-1 = most recent), got %d", index)
	}
	ids, err := s.List()
	if err != nil {
		return "", err
	}
	pos := len(ids) + index
	if pos < 0 || len(ids) == 0 {
		return "", errors.Newf("run index %d out of range, store holds %d runs", index, len(ids))
	}
	return filepath.Join(s.root, ids[pos]), nil
}

// Run is one persisted test execution.
type Run struct {
	ID      string
	Dir     string
	Config  Config
	History history.History
	Result  *checker.Result
}

func (r *Run) saveConfig() error {
	buf, err := yaml.Marshal(r.Config)
	if err != nil {
		return errors.Wrap(err, "encode run config")
	}
	if err := os.WriteFile(filepath.Join(r.Dir, configFile), buf, 0o644); err != nil {
		return errors.Wrap(err, "write run config")
	}
	return nil
}

// SaveHistory persists the recorded history. Called once, when the
// workload finishes; the history is immutable afterwards.
func (r *Run) SaveHistory(h history.History) error {
	buf, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	if err := os.WriteFile(filepath.Join(r.Dir, historyFile), buf, 0o644); err != nil {
		return errors.Wrap(err, "write history")
	}
	r.History = h
	return nil
}

// SaveResult attaches the checker result to the stored run.
func (r *Run) SaveResult(res *checker.Result) error {
	buf, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode checker result")
	}
	if err := os.WriteFile(filepath.Join(r.Dir, resultFile), buf, 0o644); err != nil {
		return errors.Wrap(err, "write checker result")
	}
	r.Result = res
	return nil
}

// Load reads a run back from its directory. A malformed or unreadable run
// is an error with no partial result. Runs not produced by the test
// execution command are rejected.
func Load(dir string) (*Run, error) {
	cfgBuf, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		return nil, errors.Wrapf(err, "read run config in %s", dir)
	}
	var cfg Config
	if err := yaml.Unmarshal(cfgBuf, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse run config in %s", dir)
	}
	if cfg.Command != CommandRun {
		return nil, errors.Newf("run in %s was produced by command %q, not a test execution", dir, cfg.Command)
	}

	histBuf, err := os.ReadFile(filepath.Join(dir, historyFile))
	if err != nil {
		return nil, errors.Wrapf(err, "read history in %s", dir)
	}
	var h history.History
	if err := json.Unmarshal(histBuf, &h); err != nil {
		return nil, errors.Wrapf(err, "parse history in %s", dir)
	}

	run := &Run{
		ID:      filepath.Base(dir),
		Dir:     dir,
		Config:  cfg,
		History: h,
	}

	// A prior result is optional; a missing file just means the run was
	// never analyzed.
	if resBuf, err := os.ReadFile(filepath.Join(dir, resultFile)); err == nil {
		var res checker.Result
		if err := json.Unmarshal(resBuf, &res); err != nil {
			return nil, errors.Wrapf(err, "parse checker result in %s", dir)
		}
		run.Result = &res
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read checker result in %s", dir)
	}
	return run, nil
}
