// Package engine adapts the external build engine behind the two operations
// the daemon needs: re-reading build descriptions before a build, and
// refreshing specific targets before an incremental update.
package engine

import (
	"context"
	"io"
)

// ReconfigureRequest asks the engine to re-read the build descriptions in Dirs
// and build. Dirs are relative to the project root, so "." is the root
// directory's own description file and nothing below it. An empty Dirs means
// every description in the project.
type ReconfigureRequest struct {
	Dirs []string
	Args []string
}

// RefreshRequest asks the engine to mark Targets stale and run an
// incremental update of everything.
type RefreshRequest struct {
	Targets []string
	Args    []string
}

// Engine is the build engine as seen by the dispatcher. All console output of
// an operation goes to out. A non-nil error means the build failed.
type Engine interface {
	ReconfigureAndBuild(ctx context.Context, req ReconfigureRequest, out io.Writer) error
	RefreshAndUpdate(ctx context.Context, req RefreshRequest, out io.Writer) error
}
