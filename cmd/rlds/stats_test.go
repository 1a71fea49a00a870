package main

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ZanzyTHEbar/rlhf-datasets/rlds/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	s := summarize([]float64{4, 1, 3, 2})
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.Equal(t, 2.0, s.P50)
	assert.Equal(t, 4.0, s.P95)
	assert.Equal(t, 4.0, s.Max)

	assert.Equal(t, lengthSummary{}, summarize(nil))
}

func TestWriteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.TransformFailed()

	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, reg))
	assert.Contains(t, buf.String(), "rlds_transform_errors_total 1")
}

func TestSessionCloseLogsMetricsFailure(t *testing.T) {
	dumpMetrics = true
	defer func() { dumpMetrics = false }()

	var logs bytes.Buffer
	s := &session{
		logger: zerolog.New(&logs),
		registry: prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
			return nil, errors.New("gather failed")
		}),
		metricsOut: io.Discard,
	}
	s.close()
	assert.Contains(t, logs.String(), "Failed to dump metrics")
	assert.Contains(t, logs.String(), "gather failed")
}
