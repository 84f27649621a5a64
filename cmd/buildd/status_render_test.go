package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"buildd/internal/ipc"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestStatusLinesReportWatcherAndLastDispatch(t *testing.T) {
	status := &ipc.StatusResponse{
		State:          "idle",
		PID:            4242,
		Root:           "/src/app",
		Identity:       "app-1a2b3c4d",
		PendingChanges: []string{"src/main.cpp"},
		RememberedArgs: []string{"release"},
		WatcherDetail:  "gave up reconnecting",
		LastDispatch: &ipc.DispatchSummary{
			ID:          "d-1",
			Decision:    "refresh",
			BuildFailed: true,
			Duration:    2 * time.Second,
		},
	}
	out := strings.Join(statusLines(status, false), "\n")
	for _, want := range []string{
		"Running (pid 4242)",
		"[INFO] Idle",
		"[WARN] gave up reconnecting",
		"Pending changes:",
		"src/main.cpp",
		"[INFO] Refresh",
		"[ERROR] Build failed",
		"Finished:",
		"never",
	} {
		requireContains(t, out, want)
	}
}

func TestStatusLinesWithoutDispatch(t *testing.T) {
	out := strings.Join(statusLines(&ipc.StatusResponse{State: "starting", WatcherActive: true}, false), "\n")
	requireContains(t, out, "[OK] Active")
	requireContains(t, out, "None yet")
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"ID", "Result"}, [][]string{{"abc"}}, []columnAlignment{alignLeft, alignRight})
	requireContains(t, out, "ID")
	requireContains(t, out, "abc")
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty table without headers")
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
