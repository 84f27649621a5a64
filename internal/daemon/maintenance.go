package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"buildd/internal/history"
	"buildd/internal/logging"
)

// MaintenanceOptions configures periodic housekeeping.
type MaintenanceOptions struct {
	Interval             time.Duration
	History              *history.Store
	HistoryRetentionDays int
	LogRetentionDays     int
	LogTargets           []logging.RetentionTarget
	Clock                clockwork.Clock
	Logger               *slog.Logger
}

// Maintenance prunes dispatch history and old daemon logs on a schedule.
type Maintenance struct {
	scheduler gocron.Scheduler
	opts      MaintenanceOptions
	logger    *slog.Logger
}

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	HistoryPruned int64
	LogsPruned    int
}

// NewMaintenance creates the scheduler and registers the housekeeping job.
func NewMaintenance(opts MaintenanceOptions) (*Maintenance, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("maintenance interval must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	m := &Maintenance{
		scheduler: s,
		opts:      opts,
		logger:    logging.NewComponentLogger(opts.Logger, "maintenance"),
	}
	if _, err := s.NewJob(
		gocron.DurationJob(opts.Interval),
		gocron.NewTask(m.runScheduled),
		gocron.WithName("buildd-maintenance"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create maintenance job: %w", err)
	}
	return m, nil
}

// Start begins running the job on its interval.
func (m *Maintenance) Start() {
	m.logger.Debug("maintenance scheduler started", logging.Duration("interval", m.opts.Interval))
	m.scheduler.Start()
}

// Stop shuts the scheduler down and waits for a running pass.
func (m *Maintenance) Stop() error {
	return m.scheduler.Shutdown()
}

func (m *Maintenance) runScheduled() {
	_ = m.RunOnce(context.Background())
}

// RunOnce performs one maintenance pass immediately.
func (m *Maintenance) RunOnce(ctx context.Context) MaintenanceReport {
	now := m.opts.Clock.Now()
	var report MaintenanceReport

	if m.opts.History != nil && m.opts.HistoryRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -m.opts.HistoryRetentionDays)
		pruned, err := m.opts.History.Prune(ctx, cutoff)
		if err != nil {
			m.logger.Warn("history prune failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "history_prune_failed"),
				logging.String(logging.FieldImpact, "old dispatch records remain"),
				logging.String(logging.FieldErrorHint, "check the history database in the state directory"))
		}
		report.HistoryPruned = pruned
	}

	report.LogsPruned = logging.CleanupOldLogs(m.logger, now, m.opts.LogRetentionDays, m.opts.LogTargets...)

	if report.HistoryPruned > 0 || report.LogsPruned > 0 {
		m.logger.Info("maintenance pass pruned old data",
			logging.String(logging.FieldEventType, "maintenance_pruned"),
			logging.Int64("history_pruned", report.HistoryPruned),
			logging.Int("logs_pruned", report.LogsPruned))
	}
	return report
}
