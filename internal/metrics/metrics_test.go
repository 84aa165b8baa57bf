package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveClassification(t *testing.T) {
	m := New()
	m.ObserveClassification(OutcomeFound, 200*time.Millisecond, 4, 2.5)
	m.ObserveClassification(OutcomeNotFound, 100*time.Millisecond, 2, 0)
	m.ObserveClassification(OutcomeError, 0, 0, 0)

	for _, outcome := range []string{OutcomeFound, OutcomeNotFound, OutcomeError} {
		var out dto.Metric
		require.NoError(t, m.Classifications.WithLabelValues(outcome).Write(&out))
		assert.Equal(t, 1.0, out.GetCounter().GetValue(), outcome)
	}

	var chunks dto.Metric
	require.NoError(t, m.ChunksPerDocument.Write(&chunks))
	assert.Equal(t, uint64(2), chunks.GetHistogram().GetSampleCount())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveClassification(OutcomeFound, time.Second, 1, 1)
	m.ObserveEmbedding(time.Second, 3)
	m.SetIndexSize(10)
	m.ObserveRebuild("completed")
	m.ObserveBuildDocument("indexed")
	assert.Nil(t, m.Registry())
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.SetIndexSize(42)
	m.ObserveEmbedding(50*time.Millisecond, 8)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "lexclass_index_vectors 42"), text)
	assert.True(t, strings.Contains(text, "lexclass_embedded_texts_total 8"))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}
