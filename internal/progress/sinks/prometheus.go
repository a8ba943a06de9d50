package sinks

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SF-300/vigilant-disco/internal/progress"
)

// PrometheusSink counts progress events by stage and role and tracks the
// last event time per stage.
type PrometheusSink struct {
	events    *prometheus.CounterVec
	failures  *prometheus.CounterVec
	lastEvent *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notepipe_progress_events_total",
			Help: "Progress events forwarded, partitioned by stage and role.",
		}, []string{"stage", "role"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notepipe_progress_failures_total",
			Help: "Error and warning progress events, partitioned by stage.",
		}, []string{"stage", "severity"}),
		lastEvent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notepipe_progress_last_event_timestamp_seconds",
			Help: "Unix time of the most recent progress event per stage.",
		}, []string{"stage"}),
	}
	for _, c := range []prometheus.Collector{s.events, s.failures, s.lastEvent} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register progress collector")
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		stage := evt.Stage
		if stage == "" {
			stage = "unknown"
		}
		s.events.WithLabelValues(stage, string(evt.Role)).Inc()
		switch evt.Role {
		case progress.RoleError:
			s.failures.WithLabelValues(stage, "error").Inc()
		case progress.RoleWarning:
			s.failures.WithLabelValues(stage, "warning").Inc()
		}
		s.lastEvent.WithLabelValues(stage).Set(float64(evt.TS.Unix()))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
