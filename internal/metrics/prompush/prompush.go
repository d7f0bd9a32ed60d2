// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// The job is a batch process, so instead of exposing a scrape endpoint the
// backend collects into a private registry and pushes it to a Pushgateway on
// Flush. The "job" label becomes the Pushgateway grouping key.
package prompush

import (
	"fmt"
	"sort"

	"residuals/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	grouping   map[string]string
	reg        *prometheus.Registry

	stepCounter   *prometheus.CounterVec // residuals_step_total
	stepDuration  *prometheus.SummaryVec // residuals_step_duration_seconds
	recordCounter *prometheus.CounterVec // residuals_records_total
	shardCounter  *prometheus.CounterVec // residuals_shards_total
}

// NewBackend constructs a Prometheus Pushgateway backend. grouping adds extra
// Pushgateway grouping labels on top of the job name.
func NewBackend(jobName, gatewayURL string, grouping map[string]string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "residuals"
	}

	reg := prometheus.NewRegistry()

	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Total number of pipeline step executions, partitioned by step and status.",
		},
		[]string{"step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Duration of pipeline steps in seconds, partitioned by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"step", "status"},
	)
	recordCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Record-level counts per kind (extracted, dropped_null, residuals, loaded).",
		},
		[]string{"kind"},
	)
	shardCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.ShardsTotal,
			Help: "Staged Avro shards per direction (extract, load).",
		},
		[]string{"direction"},
	)

	for _, c := range []prometheus.Collector{stepCounter, stepDuration, recordCounter, shardCounter} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	g := make(map[string]string, len(grouping))
	for k, v := range grouping {
		g[k] = v
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		grouping:      g,
		reg:           reg,
		stepCounter:   stepCounter,
		stepDuration:  stepDuration,
		recordCounter: recordCounter,
		shardCounter:  shardCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter == nil {
			return
		}
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)

	case metrics.RecordsTotal:
		if b.recordCounter == nil {
			return
		}
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)

	case metrics.ShardsTotal:
		if b.shardCounter == nil {
			return
		}
		b.shardCounter.WithLabelValues(labels["direction"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	p := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg)
	keys := make([]string, 0, len(b.grouping))
	for k := range b.grouping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p = p.Grouping(k, b.grouping[k])
	}
	return p.Push()
}
