package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"buildd/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	result := CheckDirectoryAccess("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if CheckDirectoryAccess("test", f).Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckEngine(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedEngine("b2", 0))
	if result := CheckEngine(cfg.Engine.Command); !result.Passed || result.Detail != cfg.Engine.Command {
		t.Fatalf("expected stub engine to resolve, got %+v", result)
	}
	if CheckEngine("clearly-not-present-binary").Passed {
		t.Fatal("expected missing binary to fail")
	}
	if result := CheckEngine("  "); result.Passed || result.Detail != "command not configured" {
		t.Fatalf("unexpected result for empty command: %+v", result)
	}
}

func TestRunAllReportsFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedEngine("b2", 0))
	results := RunAll(cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected all checks to pass, got %+v", failed)
	}

	cfg.Engine.Command = "clearly-not-present-binary"
	cfg.Paths.StateDir = filepath.Join(t.TempDir(), "missing")
	failed := Failed(RunAll(cfg))
	if len(failed) != 2 || failed[0].Name != "Build engine" || failed[1].Name != "State directory" {
		t.Fatalf("unexpected failures %+v", failed)
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if RunAll(nil) != nil {
		t.Fatal("expected nil results for nil config")
	}
}
