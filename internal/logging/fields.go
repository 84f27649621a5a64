package logging

import "log/slog"

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (e.g. "dispatch_completed").
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldDispatchID identifies a single dispatch across daemon and history records.
	FieldDispatchID = "dispatch_id"
	// FieldDecision records the rebuild decision taken for a dispatch.
	FieldDecision = "decision"
	// FieldIdentity is the daemon identity name.
	FieldIdentity = "identity"
	// FieldPath is a root-relative or absolute filesystem path.
	FieldPath = "path"
)

// WithDispatch returns a logger tagged with the dispatch identifier.
func WithDispatch(logger *slog.Logger, dispatchID string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if dispatchID == "" {
		return logger
	}
	return logger.With(String(FieldDispatchID, dispatchID))
}
