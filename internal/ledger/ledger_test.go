package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return New("/src/proj", time.Second, clock), clock
}

func TestFileChangedDebouncesAfterRebuild(t *testing.T) {
	l, clock := newTestLedger(t)

	clock.Advance(500 * time.Millisecond)
	outcome, err := l.FileChanged("/src/proj/a.cpp")
	require.NoError(t, err)
	assert.Equal(t, Debounced, outcome)
	assert.Empty(t, l.Snapshot())

	clock.Advance(600 * time.Millisecond)
	outcome, err = l.FileChanged("/src/proj/a.cpp")
	require.NoError(t, err)
	assert.Equal(t, Recorded, outcome)
	assert.Equal(t, []string{"a.cpp"}, l.Snapshot())
}

func TestFileChangedDebounceBoundary(t *testing.T) {
	l, clock := newTestLedger(t)

	clock.Advance(999 * time.Millisecond)
	outcome, err := l.FileChanged("a.cpp")
	require.NoError(t, err)
	assert.Equal(t, Debounced, outcome)

	clock.Advance(time.Millisecond)
	outcome, err = l.FileChanged("a.cpp")
	require.NoError(t, err)
	assert.Equal(t, Recorded, outcome)
	assert.Equal(t, []string{"a.cpp"}, l.Snapshot())
}

func TestFileChangedDeduplicatesAndKeepsOrder(t *testing.T) {
	l, clock := newTestLedger(t)
	clock.Advance(2 * time.Second)

	for _, p := range []string{"/src/proj/b.cpp", "lib/a.cpp", "/src/proj/b.cpp", "./lib/a.cpp"} {
		_, err := l.FileChanged(p)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b.cpp", "lib/a.cpp"}, l.Snapshot())

	outcome, err := l.FileChanged("b.cpp")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, outcome)
}

func TestDrainAndMarkRebuilt(t *testing.T) {
	l, clock := newTestLedger(t)
	clock.Advance(2 * time.Second)

	_, _ = l.FileChanged("x.cpp")
	drained := l.Drain()
	assert.Equal(t, []string{"x.cpp"}, drained)
	assert.Empty(t, l.Snapshot())

	// A report that lands between drain and rebuild completion is kept for the next dispatch.
	outcome, err := l.FileChanged("x.cpp")
	require.NoError(t, err)
	assert.Equal(t, Recorded, outcome)

	l.MarkRebuilt()
	assert.Equal(t, clock.Now(), l.LastRebuild())
	outcome, err = l.FileChanged("y.cpp")
	require.NoError(t, err)
	assert.Equal(t, Debounced, outcome)
	assert.Equal(t, []string{"x.cpp"}, l.Snapshot())
}

func TestFileChangedAfterCloseFails(t *testing.T) {
	l, clock := newTestLedger(t)
	clock.Advance(2 * time.Second)
	l.Close()

	_, err := l.FileChanged("a.cpp")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileChangedConcurrentReports(t *testing.T) {
	l, clock := newTestLedger(t)
	clock.Advance(2 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.FileChanged("shared.h")
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"shared.h"}, l.Snapshot())
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"/src/proj/lib/a.cpp": "lib/a.cpp",
		"lib//b.cpp":          "lib/b.cpp",
		"/elsewhere/c.cpp":    "/elsewhere/c.cpp",
		"/src/proj":           ".",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize("/src/proj", in), "input %q", in)
	}
}
