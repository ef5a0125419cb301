// Package metrics counts per-run outcomes and pushes them to a Prometheus Pushgateway.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

type Metrics struct {
	registry *prometheus.Registry

	decisions        *prometheus.CounterVec
	snapshotsCreated prometheus.Counter
	snapshotsDeleted prometheus.Counter
	itemErrors       *prometheus.CounterVec
	lastRun          *prometheus.GaugeVec
}

// New creates a registry holding the snapshot job counters
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rds_snapshots",
			Name:      "decisions_total",
			Help:      "Scheduler decisions by action.",
		}, []string{"action"}),
		snapshotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rds_snapshots",
			Name:      "created_total",
			Help:      "Snapshots created.",
		}),
		snapshotsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rds_snapshots",
			Name:      "deleted_total",
			Help:      "Expired snapshots deleted.",
		}),
		itemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rds_snapshots",
			Name:      "item_errors_total",
			Help:      "Per-instance or per-snapshot failures.",
		}, []string{"job"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rds_snapshots",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run.",
		}, []string{"job"}),
	}

	m.registry.MustRegister(m.decisions, m.snapshotsCreated, m.snapshotsDeleted, m.itemErrors, m.lastRun)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordDecision(action string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordSnapshotCreated() {
	if m == nil {
		return
	}
	m.snapshotsCreated.Inc()
}

func (m *Metrics) RecordSnapshotDeleted() {
	if m == nil {
		return
	}
	m.snapshotsDeleted.Inc()
}

func (m *Metrics) RecordItemError(job string) {
	if m == nil {
		return
	}
	m.itemErrors.WithLabelValues(job).Inc()
}

// RecordRun stores the completion time of a job run
func (m *Metrics) RecordRun(job string, unixSeconds float64) {
	if m == nil {
		return
	}
	m.lastRun.WithLabelValues(job).Set(unixSeconds)
}

// Push sends the registry to a Pushgateway under the given job name.
// It does nothing when url is empty.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
