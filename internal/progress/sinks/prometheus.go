package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/telefonbuch-scraper/internal/progress"
)

// PrometheusSink exports run-level progress: runs, the position in the key
// space and per-key result counts.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runRunning    prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	keyPosition prometheus.Gauge
	keyCount    prometheus.Gauge
	keyTotal    prometheus.Gauge
	keyRuntime  prometheus.Histogram
	restarts    prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_runs_started_total",
			Help: "Total scrape runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_runs_completed_total",
			Help: "Total scrape runs completed partitioned by result.",
		}, []string{"result"}),
		runRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_run_running",
			Help: "1 while a scrape run is in progress.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 12),
		}, []string{"result"}),
		keyPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_key_position",
			Help: "0-based index of the key being processed.",
		}),
		keyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_key_count",
			Help: "Number of keys in the enumerated key space.",
		}),
		keyTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_key_results",
			Help: "Result count reported by the service for the current key.",
		}),
		keyRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_key_runtime_seconds",
			Help:    "Wall time per committed key.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_run_service_restarts_total",
			Help: "Service restarts triggered by the engine.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRunning,
		s.runRuntime,
		s.keyPosition,
		s.keyCount,
		s.keyTotal,
		s.keyRuntime,
		s.restarts,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.runRunning.Set(1)
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StageKeyStart:
		s.keyPosition.Set(float64(evt.KeyIndex))
		s.keyCount.Set(float64(evt.KeyCount))
		s.keyTotal.Set(0)
	case progress.StagePageStored:
		s.keyTotal.Set(float64(evt.Total))
	case progress.StageKeyCommitted:
		if evt.Dur > 0 {
			s.keyRuntime.Observe(evt.Dur.Seconds())
		}
	case progress.StageServiceRestart:
		s.restarts.Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	s.runRunning.Set(0)
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
