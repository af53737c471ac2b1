package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Recorder = (*Collector)(nil)
var _ Recorder = Nop{}

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIngestion(IngestSuccess, 120*time.Millisecond)
	c.RecordIngestion(IngestSuccess, 80*time.Millisecond)
	c.RecordIngestion(IngestInProgress, 0)
	c.RecordLockError()
	c.RecordAlert(AlertEnqueued)
	c.RecordAlert(AlertLost)
	c.RecordAlert(AlertLost)
	c.RecordEvaluationError()
	c.RecordDelivery(DeliverySent)
	c.RecordDelivery(DeliveryRejected)
	c.RecordRedelivery()
	c.RecordDeadLetter()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ingestions.WithLabelValues(IngestSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ingestions.WithLabelValues(IngestInProgress)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lockErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alerts.WithLabelValues(AlertEnqueued)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.alerts.WithLabelValues(AlertLost)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.evaluationError))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues(DeliverySent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues(DeliveryRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.redeliveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deadLetters))

	families, err := reg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() == "weather_ingestion_duration_seconds" {
			samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	// Only successful ingestions feed the latency histogram.
	assert.Equal(t, uint64(2), samples)
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordDeadLetter()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "weather_dead_letters_total 1")
}
