// Package metrics provides quant.Collector implementations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/makeworld-the-better-one/palquant/quant"
)

// PrometheusCollector implements quant.Collector backed by Prometheus.
type PrometheusCollector struct {
	jobs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	pixels      prometheus.Counter
	paletteSize prometheus.Gauge
	pruned      prometheus.Gauge
}

// Compile-time assertion that PrometheusCollector implements quant.Collector.
var _ quant.Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector and registers its metrics with reg.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "palquant" if empty)
//
// Returns:
//   - *PrometheusCollector: the registered collector
//   - error: registration failure, such as a duplicate registration
func NewPrometheus(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "palquant"
	}

	p := &PrometheusCollector{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "finished_total",
			Help:      "Quantization jobs that reached a terminal phase, by phase and color space.",
		}, []string{"phase", "space"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Wall time of quantization jobs by color space.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"space"}),
		pixels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pixels_quantized_total",
			Help:      "Source pixels mapped onto a palette.",
		}),
		paletteSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "palette",
			Name:      "colors",
			Help:      "Colors in the most recently extracted palette.",
		}),
		pruned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "palette",
			Name:      "pruned_groups",
			Help:      "Color groups dropped as noise in the most recent extraction.",
		}),
	}

	for _, c := range []prometheus.Collector{p.jobs, p.duration, p.pixels, p.paletteSize, p.pruned} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// PaletteExtracted implements quant.Collector.
func (p *PrometheusCollector) PaletteExtracted(colors, pruned int) {
	p.paletteSize.Set(float64(colors))
	p.pruned.Set(float64(pruned))
}

// PixelsQuantized implements quant.Collector.
func (p *PrometheusCollector) PixelsQuantized(n int) {
	p.pixels.Add(float64(n))
}

// JobFinished implements quant.Collector.
func (p *PrometheusCollector) JobFinished(space quant.ColorSpace, phase quant.Phase, elapsed time.Duration) {
	p.jobs.WithLabelValues(phase.String(), space.String()).Inc()
	p.duration.WithLabelValues(space.String()).Observe(elapsed.Seconds())
}
