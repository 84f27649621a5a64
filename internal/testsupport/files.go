package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes contents to root/rel, creating parent directories.
func WriteFile(t testing.TB, root, rel, contents string) string {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
