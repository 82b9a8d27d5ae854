package diag

import (
	"image"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromSink exports diagnostics as Prometheus metrics: histogram records feed
// a histogram vector, summaries set a gauge and images are only counted.
type PromSink struct {
	values    *prometheus.HistogramVec
	summaries *prometheus.GaugeVec
	images    *prometheus.CounterVec
}

// NewPromSink registers the sink's collectors with reg.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	f := promauto.With(reg)
	return &PromSink{
		values: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "r2n2",
				Subsystem: "diag",
				Name:      "parameter_values",
				Help:      "Distribution of recorded parameter values",
				Buckets:   prometheus.LinearBuckets(-1, 0.1, 21),
			},
			[]string{"name"},
		),
		summaries: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "r2n2",
				Subsystem: "diag",
				Name:      "summary",
				Help:      "Last recorded value of a named summary",
			},
			[]string{"name"},
		),
		images: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "r2n2",
				Subsystem: "diag",
				Name:      "images_total",
				Help:      "Number of images recorded",
			},
			[]string{"name"},
		),
	}
}

func (s *PromSink) RecordImage(name string, _ image.Image) error {
	s.images.WithLabelValues(name).Inc()
	return nil
}

func (s *PromSink) RecordHistogram(name string, values []float32) error {
	o := s.values.WithLabelValues(name)
	for _, v := range values {
		o.Observe(float64(v))
	}
	return nil
}

func (s *PromSink) RecordSummary(name string, value float64) error {
	s.summaries.WithLabelValues(name).Set(value)
	return nil
}

// Multi fans every record out to several sinks, stopping at the first error.
type Multi []Sink

func (m Multi) RecordImage(name string, img image.Image) error {
	for _, s := range m {
		if err := s.RecordImage(name, img); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) RecordHistogram(name string, values []float32) error {
	for _, s := range m {
		if err := s.RecordHistogram(name, values); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) RecordSummary(name string, value float64) error {
	for _, s := range m {
		if err := s.RecordSummary(name, value); err != nil {
			return err
		}
	}
	return nil
}
