package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"buildd/internal/engine"
	"buildd/internal/ledger"
)

type call struct {
	op   string
	dirs []string
	tgts []string
	args []string
}

type fakeEngine struct {
	calls []call
	err   error
	say   string
}

func (f *fakeEngine) ReconfigureAndBuild(_ context.Context, req engine.ReconfigureRequest, out io.Writer) error {
	f.calls = append(f.calls, call{op: "reconfigure", dirs: req.Dirs, args: req.Args})
	if f.say != "" {
		io.WriteString(out, f.say)
	}
	return f.err
}

func (f *fakeEngine) RefreshAndUpdate(_ context.Context, req engine.RefreshRequest, out io.Writer) error {
	f.calls = append(f.calls, call{op: "refresh", tgts: req.Targets, args: req.Args})
	if f.say != "" {
		io.WriteString(out, f.say)
	}
	return f.err
}

type fixture struct {
	eng    *fakeEngine
	ledger *ledger.Ledger
	clock  *clockwork.FakeClock
	d      *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	led := ledger.New("/src/proj", time.Second, clock)
	eng := &fakeEngine{}
	d, err := New(Options{
		Engine:           eng,
		Ledger:           led,
		DescriptionFiles: []string{"jamfile.jam", "jamroot.jam"},
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.Prime(context.Background(), []string{"--daemon", "release"}, nil)
	eng.calls = nil
	return &fixture{eng: eng, ledger: led, clock: clock, d: d}
}

func (f *fixture) change(t *testing.T, paths ...string) {
	t.Helper()
	f.clock.Advance(2 * time.Second)
	for _, p := range paths {
		if _, err := f.ledger.FileChanged(p); err != nil {
			t.Fatalf("FileChanged(%s): %v", p, err)
		}
	}
}

func TestPrimeRunsFullBuild(t *testing.T) {
	clock := clockwork.NewFakeClock()
	eng := &fakeEngine{}
	d, err := New(Options{Engine: eng, Ledger: ledger.New("/src", time.Second, clock), Clock: clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := d.Prime(context.Background(), []string{"--daemon", "toolset=gcc"}, nil)
	if res.Plan.Decision != DecisionInitial || !res.Accepted {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(eng.calls) != 1 || eng.calls[0].op != "reconfigure" || len(eng.calls[0].dirs) != 0 {
		t.Fatalf("expected whole-project reconfigure, got %+v", eng.calls)
	}
	if !slices.Equal(d.Remembered(), []string{"toolset=gcc"}) {
		t.Fatalf("unexpected remembered args %v", d.Remembered())
	}
}

func TestDispatchRefreshesOrdinaryChanges(t *testing.T) {
	f := newFixture(t)
	f.change(t, "/src/proj/src/a.cpp")

	res := f.d.Dispatch(context.Background(), []string{"--daemon", "release"}, nil)

	if res.Plan.Decision != DecisionRefresh {
		t.Fatalf("expected refresh, got %s", res.Plan.Decision)
	}
	if len(f.eng.calls) != 1 || !slices.Equal(f.eng.calls[0].tgts, []string{"src/a.cpp"}) {
		t.Fatalf("unexpected engine calls %+v", f.eng.calls)
	}
	if len(f.ledger.Snapshot()) != 0 {
		t.Fatalf("expected ledger to be cleared, got %v", f.ledger.Snapshot())
	}
	if !f.ledger.LastRebuild().Equal(f.clock.Now()) {
		t.Fatal("expected last rebuild time to advance")
	}
}

func TestDispatchReconfiguresDescriptionDirs(t *testing.T) {
	f := newFixture(t)
	f.change(t, "/src/proj/lib/Jamfile.jam", "/src/proj/lib/x.cpp", "/src/proj/lib/jamfile.jam")

	res := f.d.Dispatch(context.Background(), []string{"release"}, nil)

	if res.Plan.Decision != DecisionReconfigure {
		t.Fatalf("expected reconfigure, got %s", res.Plan.Decision)
	}
	if !slices.Equal(res.Plan.DescriptionDirs, []string{"lib"}) {
		t.Fatalf("expected description dirs [lib], got %v", res.Plan.DescriptionDirs)
	}
	if len(f.eng.calls) != 1 || f.eng.calls[0].op != "reconfigure" || !slices.Equal(f.eng.calls[0].dirs, []string{"lib"}) {
		t.Fatalf("unexpected engine calls %+v", f.eng.calls)
	}
}

func TestDispatchReconfiguresWhenArgsChange(t *testing.T) {
	f := newFixture(t)

	res := f.d.Dispatch(context.Background(), []string{"debug"}, nil)

	if res.Plan.Decision != DecisionReconfigure || !res.Plan.ArgsChanged {
		t.Fatalf("expected args-driven reconfigure, got %+v", res.Plan)
	}
	if len(f.eng.calls) != 1 || len(f.eng.calls[0].dirs) != 0 || !slices.Equal(f.eng.calls[0].args, []string{"debug"}) {
		t.Fatalf("unexpected engine calls %+v", f.eng.calls)
	}
	if !slices.Equal(f.d.Remembered(), []string{"debug"}) {
		t.Fatalf("expected remembered args to be replaced, got %v", f.d.Remembered())
	}
}

func TestDispatchNoChangesIsNoop(t *testing.T) {
	f := newFixture(t)
	before := f.ledger.LastRebuild()
	f.clock.Advance(3 * time.Second)

	var out bytes.Buffer
	res := f.d.Dispatch(context.Background(), []string{"--daemon", "release", "--daemon-second"}, &out)

	if res.Plan.Decision != DecisionNone {
		t.Fatalf("expected no-op, got %s", res.Plan.Decision)
	}
	if len(f.eng.calls) != 0 {
		t.Fatalf("engine should not run, got %+v", f.eng.calls)
	}
	if !f.ledger.LastRebuild().After(before) {
		t.Fatal("expected last rebuild time to advance even without a build")
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
}

func TestDispatchDiagnosticLine(t *testing.T) {
	f := newFixture(t)
	f.change(t, "a.cpp", "b.cpp")

	var out bytes.Buffer
	f.d.Dispatch(context.Background(), []string{"release", "--daemon-output"}, &out)
	if !strings.HasPrefix(out.String(), "Files changed since last run: [a.cpp b.cpp]\n") {
		t.Fatalf("unexpected diagnostic output %q", out.String())
	}

	out.Reset()
	f.d.Dispatch(context.Background(), []string{"release", "--daemon-output"}, &out)
	if out.String() != "Files changed since last run: []\n" {
		t.Fatalf("unexpected diagnostic output %q", out.String())
	}
}

func TestDispatchBuildFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.eng.err = errors.New("exit status 1")
	f.eng.say = "compile error\n"
	f.change(t, "a.cpp")

	var out bytes.Buffer
	res := f.d.Dispatch(context.Background(), []string{"release"}, &out)

	if !res.Accepted || !res.BuildFailed {
		t.Fatalf("expected accepted failed build, got %+v", res)
	}
	if !strings.Contains(out.String(), "compile error\n") || !strings.Contains(out.String(), "build failed: exit status 1") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if len(f.ledger.Snapshot()) != 0 {
		t.Fatal("ledger should be reset after a failed build")
	}
}

func TestDecideKeepsDirectoryOrder(t *testing.T) {
	plan := Decide([]string{"b/jamfile.jam", "jamroot.jam", "b/JAMFILE.JAM", "a/jamfile.jam", "c.cpp"}, false, []string{"jamfile.jam", "jamroot.jam"})
	if !slices.Equal(plan.DescriptionDirs, []string{"b", ".", "a"}) {
		t.Fatalf("unexpected dirs %v", plan.DescriptionDirs)
	}
	if !slices.Equal(plan.Targets, []string{"c.cpp"}) {
		t.Fatalf("unexpected targets %v", plan.Targets)
	}
	if plan.Decision != DecisionReconfigure {
		t.Fatalf("unexpected decision %s", plan.Decision)
	}
}
