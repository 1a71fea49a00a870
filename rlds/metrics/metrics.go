// Package metrics exposes prometheus collectors for dataset preparation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rlds"

// Resize directions reported by ImageResized.
const (
	ResizeDown = "down"
	ResizeUp   = "up"
)

// Collector groups the dataset counters. A nil *Collector is valid and
// records nothing.
type Collector struct {
	transformed   prometheus.Counter
	transformErrs prometheus.Counter
	filtered      prometheus.Counter
	imagesResized *prometheus.CounterVec
	promptLengths prometheus.Histogram
}

// New creates a Collector and registers it on reg. A nil reg leaves the
// collectors unregistered.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		transformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "examples_transformed_total",
			Help:      "Records turned into model-ready examples.",
		}),
		transformErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Records whose transformation failed.",
		}),
		filtered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_filtered_total",
			Help:      "Records dropped by the overlong prompt filter.",
		}),
		imagesResized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_resized_total",
			Help:      "Images rescaled to fit the pixel bounds.",
		}, []string{"direction"}),
		promptLengths: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Unpadded prompt length in tokens.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.transformed, c.transformErrs, c.filtered, c.imagesResized, c.promptLengths} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ExampleTransformed(promptTokens int) {
	if c == nil {
		return
	}
	c.transformed.Inc()
	c.promptLengths.Observe(float64(promptTokens))
}

func (c *Collector) TransformFailed() {
	if c == nil {
		return
	}
	c.transformErrs.Inc()
}

func (c *Collector) RecordsFiltered(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.filtered.Add(float64(n))
}

// ImageResized counts one rescale in the given direction.
func (c *Collector) ImageResized(direction string) {
	if c == nil {
		return
	}
	c.imagesResized.WithLabelValues(direction).Inc()
}
