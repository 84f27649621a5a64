package engine_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"buildd/internal/config"
	"buildd/internal/engine"
)

type stubExecutor struct {
	calls []engine.Invocation
	lines []string
	err   error
}

func (s *stubExecutor) Run(_ context.Context, inv engine.Invocation, onLine func(string)) error {
	s.calls = append(s.calls, inv)
	for _, line := range s.lines {
		onLine(line)
	}
	return s.err
}

func TestReconfigureAndBuildArgs(t *testing.T) {
	exec := &stubExecutor{lines: []string{"...found 12 targets..."}}
	eng, err := engine.New(config.Engine{Command: "b2", Args: []string{"-q"}, ReconfigureFlag: "--reconfigure"}, "/src/proj", engine.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var out bytes.Buffer
	err = eng.ReconfigureAndBuild(context.Background(), engine.ReconfigureRequest{Dirs: []string{"lib", "."}, Args: []string{"release"}}, &out)
	if err != nil {
		t.Fatalf("ReconfigureAndBuild: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected one engine run, got %d", len(exec.calls))
	}
	call := exec.calls[0]
	if call.Binary != "b2" || call.Dir != "/src/proj" {
		t.Fatalf("unexpected invocation %+v", call)
	}
	if want := []string{"-q", "--reconfigure", "release"}; !slices.Equal(call.Args, want) {
		t.Fatalf("args = %v, want %v", call.Args, want)
	}
	wantEnv := engine.EnvDescriptionDirs + "=lib" + string(os.PathListSeparator) + "."
	if !slices.Contains(call.Env, wantEnv) {
		t.Fatalf("expected %q in env, got %v", wantEnv, call.Env)
	}
	if out.String() != "...found 12 targets...\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestReconfigureWithoutDirsCoversWholeProject(t *testing.T) {
	exec := &stubExecutor{}
	eng, err := engine.New(config.Engine{Command: "b2"}, "/src/proj", engine.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.ReconfigureAndBuild(context.Background(), engine.ReconfigureRequest{}, nil); err != nil {
		t.Fatalf("ReconfigureAndBuild: %v", err)
	}
	if want := []string{engine.EnvDescriptionDirs + "="}; !slices.Equal(exec.calls[0].Env, want) {
		t.Fatalf("env = %v, want %v", exec.calls[0].Env, want)
	}
	if len(exec.calls[0].Args) != 0 {
		t.Fatalf("unexpected args %v", exec.calls[0].Args)
	}
}

func TestRefreshAndUpdateArgs(t *testing.T) {
	exec := &stubExecutor{}
	eng, err := engine.New(config.Engine{Command: "b2", RefreshFlag: "--refresh"}, "/src/proj", engine.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.RefreshAndUpdate(context.Background(), engine.RefreshRequest{Targets: []string{"a.cpp", "b.h"}, Args: []string{"-j2"}}, nil); err != nil {
		t.Fatalf("RefreshAndUpdate: %v", err)
	}
	if want := []string{"--refresh", "a.cpp", "--refresh", "b.h", "-j2"}; !slices.Equal(exec.calls[0].Args, want) {
		t.Fatalf("args = %v, want %v", exec.calls[0].Args, want)
	}
}

func TestEngineFailureIsWrapped(t *testing.T) {
	boom := errors.New("exit status 1")
	eng, _ := engine.New(config.Engine{Command: "b2"}, "/src/proj", engine.WithExecutor(&stubExecutor{err: boom}))
	err := eng.RefreshAndUpdate(context.Background(), engine.RefreshRequest{}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped executor error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "refresh:") {
		t.Fatalf("expected operation prefix, got %q", err.Error())
	}
}

func TestNewRequiresCommand(t *testing.T) {
	if _, err := engine.New(config.Engine{Command: " "}, "/src"); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestCommandExecutorStreamsOutput(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-b2")
	body := "#!/bin/sh\necho \"out $*\"\necho \"err $" + engine.EnvRefreshTargets + "\" 1>&2\nexit 0\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	eng, err := engine.New(config.Engine{Command: script}, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var out bytes.Buffer
	if err := eng.RefreshAndUpdate(context.Background(), engine.RefreshRequest{Targets: []string{"x.cpp"}, Args: []string{"all"}}, &out); err != nil {
		t.Fatalf("RefreshAndUpdate: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "out all\n") || !strings.Contains(got, "err x.cpp\n") {
		t.Fatalf("unexpected output %q", got)
	}

	failing := filepath.Join(dir, "failing-b2")
	if err := os.WriteFile(failing, []byte("#!/bin/sh\necho broken\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	eng, _ = engine.New(config.Engine{Command: failing}, dir)
	out.Reset()
	if err := eng.ReconfigureAndBuild(context.Background(), engine.ReconfigureRequest{}, &out); err == nil {
		t.Fatal("expected failure from non-zero exit")
	}
	if out.String() != "broken\n" {
		t.Fatalf("expected output before failure, got %q", out.String())
	}
}
