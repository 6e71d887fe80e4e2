package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFlush(t *testing.T) {
	okBefore := testutil.ToFloat64(Flushes.WithLabelValues(ResultOK))
	errBefore := testutil.ToFloat64(Flushes.WithLabelValues(ResultError))
	recordsBefore := testutil.ToFloat64(FlushedRecords)

	ObserveFlush(5, nil)
	ObserveFlush(3, errors.New("disk full"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(Flushes.WithLabelValues(ResultOK)))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(Flushes.WithLabelValues(ResultError)))
	assert.Equal(t, recordsBefore+5, testutil.ToFloat64(FlushedRecords), "failed flushes write nothing")
}

func sampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, h.Write(m))
	return m.GetHistogram().GetSampleCount()
}

func TestObserveBuild(t *testing.T) {
	durations := sampleCount(t, BuildDuration)
	sizes := sampleCount(t, ReportSize)

	ObserveBuild(2*time.Millisecond, 10)

	assert.Equal(t, durations+1, sampleCount(t, BuildDuration))
	assert.Equal(t, sizes+1, sampleCount(t, ReportSize))
}
