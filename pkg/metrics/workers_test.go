package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsSplitsResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "payment-intent-expiry"

	m.Cycle(CycleRan)
	m.Cycle(CycleSkipped)
	m.ObserveJob(job, 250*time.Millisecond, nil)
	m.ObserveJob(job, time.Second, errors.New("db down"))

	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(job, "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues(job, "error")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.cycles.WithLabelValues(CycleSkipped)))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	sum, err := fetchHistogramSum(mfs, "marketplace_cron_job_duration_seconds", "job", job)
	require.NoError(t, err)
	require.InDelta(t, 1.25, sum, 0.001)
}

func TestRelayMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRelayMetrics(reg)

	m.Batch(3)
	m.Row("order_placed", RelayPublished)
	m.Row("order_placed", RelayPublished)
	m.Row("", RelayParked)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	got, err := fetchCounterValue(mfs, "marketplace_outbox_rows_total", "outcome", RelayPublished)
	require.NoError(t, err)
	require.Equal(t, float64(2), got)
	got, err = fetchCounterValue(mfs, "marketplace_outbox_rows_total", "event_type", "unknown")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)
}

func TestNilWorkerMetricsAreNoops(t *testing.T) {
	var cron *CronJobMetrics
	var relay *RelayMetrics
	require.NotPanics(t, func() {
		cron.Cycle(CycleRan)
		cron.ObserveJob("x", time.Second, nil)
		relay.Row("x", RelayRetried)
		relay.Batch(1)
		NewCronJobMetrics(nil).ObserveJob("x", time.Second, nil)
	})
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
