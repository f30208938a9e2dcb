package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSave(t *testing.T) {
	m := New()
	m.RecordSave("embedded", 2, 1)
	m.RecordSave("embedded", 3, 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.PostsSeen.WithLabelValues("embedded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PostsInserted.WithLabelValues("embedded")))
}

func TestRecordScoringAndFetches(t *testing.T) {
	m := New()
	m.RecordScored("finbert", 20)
	m.RecordUpdates(18)
	m.RecordFetch("reddit", 0)
	m.RecordFetch("reddit", 7)

	assert.Equal(t, 20.0, testutil.ToFloat64(m.SentimentScored.WithLabelValues("finbert")))
	assert.Equal(t, 18.0, testutil.ToFloat64(m.SentimentUpdates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceFetches.WithLabelValues("reddit", "empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceFetches.WithLabelValues("reddit", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSave("relational", 1, 1)
		m.RecordScored("finbert", 1)
		m.RecordUpdates(1)
		m.RecordFetch("bluesky", 1)
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.RecordSave("rest_facade", 4, 4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cryptosent_posts_inserted_total{backend="rest_facade"} 4`)
}
