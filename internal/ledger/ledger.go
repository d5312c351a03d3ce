package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"qencode/internal/fileutil"
	"qencode/internal/logging"
)

// State is the on-disk ledger document.
type State struct {
	Total int            `json:"total"`
	Done  map[string]int `json:"done"`
}

// Frames returns the sum of recorded frame counts.
func (s State) Frames() int {
	sum := 0
	for _, n := range s.Done {
		sum += n
	}
	return sum
}

// Percent returns recorded progress clamped to 0..100.
func (s State) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	p := float64(s.Frames()) / float64(s.Total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Names returns the recorded chunk names, sorted.
func (s State) Names() []string {
	names := make([]string, 0, len(s.Done))
	for name := range s.Done {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResumeSet describes work already completed when a job starts.
type ResumeSet struct {
	Done map[string]int
	// Initial is the frame count already encoded.
	Initial int
}

// Ledger records verified chunk completions.
type Ledger struct {
	path    string
	lock    *flock.Flock
	mu      sync.Mutex
	logger  *slog.Logger
	resumed map[string]int
}

// Open returns a ledger backed by path. Nothing is read until LoadOrInit.
func Open(path string, logger *slog.Logger) *Ledger {
	return &Ledger{
		path:    path,
		lock:    flock.New(path + ".lock"),
		logger:  logging.NewComponentLogger(logger, "ledger"),
		resumed: map[string]int{},
	}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// LoadOrInit prepares the ledger for a job over total frames. With resume
// set and a readable ledger on disk, the recorded chunks become the resume
// set; otherwise a fresh document is written.
func (l *Ledger) LoadOrInit(total int, resume bool) (ResumeSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.lock.Lock(); err != nil {
		return ResumeSet{}, fmt.Errorf("lock ledger: %w", err)
	}
	defer l.unlock()

	if resume {
		state, err := Read(l.path)
		switch {
		case err == nil:
			l.resumed = copyDone(state.Done)
			if state.Total != total {
				l.logger.Info("ledger total differs from planned total",
					logging.Int("ledger_total", state.Total),
					logging.Int("planned_total", total),
				)
			}
			state.Total = total
			if err := write(l.path, state); err != nil {
				return ResumeSet{}, err
			}
			return ResumeSet{Done: copyDone(l.resumed), Initial: state.Frames()}, nil
		case errors.Is(err, os.ErrNotExist):
			l.logger.Info("no ledger to resume from; starting fresh", logging.String("path", l.path))
		default:
			l.logger.Info("ledger unreadable; starting fresh",
				logging.String("path", l.path),
				logging.Error(err),
			)
		}
	}

	l.resumed = map[string]int{}
	if err := write(l.path, State{Total: total, Done: map[string]int{}}); err != nil {
		return ResumeSet{}, err
	}
	return ResumeSet{Done: map[string]int{}}, nil
}

// RecordComplete marks name as encoded with frames frames. A chunk that is
// already recorded is overwritten.
func (l *Ledger) RecordComplete(name string, frames int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer l.unlock()

	state, err := Read(l.path)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	state.Done[name] = frames
	return write(l.path, state)
}

// IsResumed reports whether name was complete when the job started.
func (l *Ledger) IsResumed(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.resumed[name]
	return ok
}

// Snapshot reads the current on-disk state.
func (l *Ledger) Snapshot() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.lock.RLock(); err != nil {
		return State{}, fmt.Errorf("lock ledger: %w", err)
	}
	defer l.unlock()
	return Read(l.path)
}

func (l *Ledger) unlock() {
	if err := l.lock.Unlock(); err != nil {
		l.logger.Warn("failed to release ledger lock", logging.Error(err))
	}
}

// Read parses the ledger at path without locking.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if state.Done == nil {
		state.Done = map[string]int{}
	}
	return state, nil
}

func write(path string, state State) error {
	if state.Done == nil {
		state.Done = map[string]int{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func copyDone(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
