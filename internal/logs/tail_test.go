package logs

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

func writeLog(t *testing.T, path, contents string, flag int) {
	t.Helper()
	f, err := os.OpenFile(path, flag|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(contents); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestTailReturnsLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	writeLog(t, path, "one\ntwo\nthree\nfour\npartial", os.O_TRUNC)

	lines, offset, err := Tail(path, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if !slices.Equal(lines, []string{"three", "four"}) {
		t.Fatalf("unexpected lines %q", lines)
	}
	if offset != int64(len("one\ntwo\nthree\nfour\n")) {
		t.Fatalf("offset should stop before the partial line, got %d", offset)
	}

	lines, _, err = Tail(path, 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if !slices.Equal(lines, []string{"one", "two", "three", "four"}) {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestTailMissingFile(t *testing.T) {
	lines, offset, err := Tail(filepath.Join(t.TempDir(), "missing.log"), 5)
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("expected empty result, got %q %d %v", lines, offset, err)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	writeLog(t, path, "old\n", os.O_TRUNC)
	_, offset, err := Tail(path, 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}

	var mu sync.Mutex
	var got []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, path, offset, 5*time.Millisecond, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	writeLog(t, path, "new 1\nnew", os.O_APPEND)
	writeLog(t, path, " 2\n", os.O_APPEND)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(got, []string{"new 1", "new 2"}) {
		t.Fatalf("unexpected followed lines %q", got)
	}
}

func TestReadFromRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	writeLog(t, path, "short\n", os.O_TRUNC)

	var got []string
	offset, err := readFrom(path, 1000, func(line string) { got = append(got, line) })
	if err != nil {
		t.Fatalf("readFrom: %v", err)
	}
	if !slices.Equal(got, []string{"short"}) || offset != int64(len("short\n")) {
		t.Fatalf("unexpected result %q offset %d", got, offset)
	}
}
