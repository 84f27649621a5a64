// Package metrics exposes daemon activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"buildd/internal/logging"
)

const namespace = "buildd"

// Recorder records daemon metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry         *prom.Registry
	dispatches       *prom.CounterVec
	dispatchDuration *prom.HistogramVec
	fileChanges      *prom.CounterVec
	watcherExits     *prom.CounterVec
	pendingChanges   prom.Gauge
}

// NewRecorder constructs and registers metrics on reg, or on a private
// registry when reg is nil.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		registry: reg,
		dispatches: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatches served by decision and result",
		}, []string{"decision", "result"}),
		dispatchDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of dispatches including the engine run",
			Buckets:   prom.ExponentialBuckets(0.05, 2, 14),
		}, []string{"decision"}),
		fileChanges: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "file_changes_total",
			Help:      "File change reports by ledger outcome",
		}, []string{"outcome"}),
		watcherExits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_exits_total",
			Help:      "File watcher terminations by reason",
		}, []string{"reason"}),
		pendingChanges: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_changes",
			Help:      "Changed paths waiting for the next dispatch",
		}),
	}
	reg.MustRegister(r.dispatches, r.dispatchDuration, r.fileChanges, r.watcherExits, r.pendingChanges)
	return r
}

// RegisterRuntimeCollectors adds Go runtime and process collectors.
func (r *Recorder) RegisterRuntimeCollectors() {
	if r == nil {
		return
	}
	r.registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
}

// ObserveDispatch records a finished dispatch.
func (r *Recorder) ObserveDispatch(decision string, failed bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "success"
	if failed {
		result = "failed"
	}
	r.dispatches.WithLabelValues(decision, result).Inc()
	r.dispatchDuration.WithLabelValues(decision).Observe(d.Seconds())
}

// IncFileChange counts a change report by its ledger outcome.
func (r *Recorder) IncFileChange(outcome string) {
	if r == nil {
		return
	}
	r.fileChanges.WithLabelValues(outcome).Inc()
}

// SetPendingChanges reports the ledger size.
func (r *Recorder) SetPendingChanges(n int) {
	if r == nil {
		return
	}
	r.pendingChanges.Set(float64(n))
}

// IncWatcherExit counts a watcher termination.
func (r *Recorder) IncWatcherExit(reason string) {
	if r == nil {
		return
	}
	r.watcherExits.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on bind until ctx ends.
func (r *Recorder) Serve(ctx context.Context, bind string, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics endpoint listening", logging.String("bind", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
