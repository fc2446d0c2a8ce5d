// Package metrics records solve outcomes as Prometheus metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements solver.Recorder on its own registry.
type Recorder struct {
	registry   *prometheus.Registry
	solves     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	iterations *prometheus.HistogramVec
}

// NewRecorder creates the metric families and registers them.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qpbridge",
			Name:      "solves_total",
			Help:      "Number of finished solves by backend and result.",
		}, []string{"backend", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qpbridge",
			Name:      "solve_duration_seconds",
			Help:      "Wall time of a solve including setup.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
		}, []string{"backend"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qpbridge",
			Name:      "solver_iterations",
			Help:      "Iterations reported by the backend.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"backend"}),
	}
	r.registry.MustRegister(r.solves, r.duration, r.iterations)
	return r
}

// ObserveSolve implements solver.Recorder.
func (r *Recorder) ObserveSolve(backend, result string, iterations int, elapsed time.Duration) {
	r.solves.WithLabelValues(backend, result).Inc()
	r.duration.WithLabelValues(backend).Observe(elapsed.Seconds())
	r.iterations.WithLabelValues(backend).Observe(float64(iterations))
}

// Registry exposes the registry, e.g. for an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// WriteFile writes the metrics in text exposition format, for node_exporter's
// textfile collector.
func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
