// Package ledger records which project files changed since the last rebuild.
//
// The ledger is owned by the daemon. The watcher feeds it through
// FileChanged at any time; the dispatcher drains it at the start of each
// dispatch and marks the rebuild once the engine returns. Reports that arrive
// within the debounce window after a rebuild are dropped so the build's own
// output writes do not trigger another rebuild.
package ledger

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrClosed is returned by FileChanged once the daemon is exiting.
var ErrClosed = errors.New("ledger closed")

// Outcome describes what FileChanged did with a report.
type Outcome string

const (
	Recorded  Outcome = "recorded"
	Debounced Outcome = "debounced"
	Duplicate Outcome = "duplicate"
)

// Ledger is safe for concurrent use.
type Ledger struct {
	root     string
	debounce time.Duration
	clock    clockwork.Clock

	mu          sync.Mutex
	lastRebuild time.Time
	paths       []string
	seen        map[string]struct{}
	closed      bool
}

// New returns an empty ledger whose last rebuild time is now.
func New(root string, debounce time.Duration, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{
		root:        filepath.Clean(root),
		debounce:    debounce,
		clock:       clock,
		lastRebuild: clock.Now(),
		seen:        make(map[string]struct{}),
	}
}

// FileChanged records path unless it falls within the debounce window or is
// already pending. Absolute paths are made relative to the project root.
func (l *Ledger) FileChanged(path string) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return "", ErrClosed
	}
	if l.clock.Since(l.lastRebuild) < l.debounce {
		return Debounced, nil
	}
	rel := Normalize(l.root, path)
	if _, ok := l.seen[rel]; ok {
		return Duplicate, nil
	}
	l.seen[rel] = struct{}{}
	l.paths = append(l.paths, rel)
	return Recorded, nil
}

// Snapshot returns the pending paths in the order they were first reported.
func (l *Ledger) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// Drain returns the pending paths and clears them. Reports arriving after
// Drain belong to the next dispatch.
func (l *Ledger) Drain() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.paths
	l.paths = nil
	l.seen = make(map[string]struct{})
	return out
}

// MarkRebuilt sets the last rebuild time to now, opening a new debounce window.
func (l *Ledger) MarkRebuilt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRebuild = l.clock.Now()
}

// LastRebuild returns the time of the most recent rebuild.
func (l *Ledger) LastRebuild() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRebuild
}

// Close rejects further reports.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// Normalize returns path relative to root. Relative paths are cleaned; paths
// outside root are kept absolute.
func Normalize(root, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Clean(path)
	}
	return rel
}
