package dispatch

import (
	"path/filepath"
	"strings"
)

// Decision is the rebuild strategy chosen for a dispatch.
type Decision string

const (
	// DecisionInitial is the full build a daemon runs when it starts.
	DecisionInitial Decision = "initial"
	// DecisionReconfigure re-reads build descriptions and builds.
	DecisionReconfigure Decision = "reconfigure"
	// DecisionRefresh marks changed files stale and updates incrementally.
	DecisionRefresh Decision = "refresh"
	// DecisionNone means nothing changed and the engine is not invoked.
	DecisionNone Decision = "none"
)

// Plan is the outcome of reconciling the ledger and the arguments.
type Plan struct {
	Decision        Decision
	ArgsChanged     bool
	Changed         []string
	DescriptionDirs []string
	Targets         []string
}

// Decide partitions changed paths into build description files and ordinary
// files and picks a strategy. Touched descriptions or changed arguments force
// a reconfigure; otherwise ordinary changes are refreshed.
func Decide(changed []string, argsChanged bool, descriptionFiles []string) Plan {
	names := make(map[string]struct{}, len(descriptionFiles))
	for _, name := range descriptionFiles {
		names[strings.ToLower(name)] = struct{}{}
	}

	plan := Plan{
		ArgsChanged: argsChanged,
		Changed:     append([]string(nil), changed...),
	}
	seenDirs := make(map[string]struct{})
	for _, path := range changed {
		if _, ok := names[strings.ToLower(filepath.Base(path))]; ok {
			dir := filepath.Dir(path)
			if _, dup := seenDirs[dir]; !dup {
				seenDirs[dir] = struct{}{}
				plan.DescriptionDirs = append(plan.DescriptionDirs, dir)
			}
			continue
		}
		plan.Targets = append(plan.Targets, path)
	}

	switch {
	case len(plan.DescriptionDirs) > 0 || argsChanged:
		plan.Decision = DecisionReconfigure
	case len(plan.Targets) > 0:
		plan.Decision = DecisionRefresh
	default:
		plan.Decision = DecisionNone
	}
	return plan
}
