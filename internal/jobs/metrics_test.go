package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("stock:audit").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("stock:audit").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock:audit", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("stock:audit", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("stock:audit")))
}

func TestIngestAndDriftCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddIngest(997, 3, 0)
	m.AddIngest(0, 10, 1)
	m.AddDrift(2)
	m.AddDrift(0)

	require.Equal(t, 997.0, testutil.ToFloat64(m.ingestRows.WithLabelValues("imported")))
	require.Equal(t, 13.0, testutil.ToFloat64(m.ingestRows.WithLabelValues("skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failedChunks))
	require.Equal(t, 2.0, testutil.ToFloat64(m.drift))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("x").End(nil))
	m.AddDrift(1)
	m.AddIngest(1, 1, 1)
}
