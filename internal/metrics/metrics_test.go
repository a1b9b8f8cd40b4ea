package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dogepal/internal/core"
)

func TestObserveEvaluation(t *testing.T) {
	before := testutil.ToFloat64(recommendationsGenerated.WithLabelValues(string(core.KindSpendingAnomaly)))
	skippedBefore := testutil.ToFloat64(recordsSkipped)

	ObserveEvaluation(10, []core.Recommendation{
		{Kind: core.KindSpendingAnomaly},
		{Kind: core.KindSpendingAnomaly},
		{Kind: core.KindCostSaving},
	}, 2, 5*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(recommendationsGenerated.WithLabelValues(string(core.KindSpendingAnomaly))))
	assert.Equal(t, skippedBefore+2, testutil.ToFloat64(recordsSkipped))
}

func TestObserveSaveAndPublish(t *testing.T) {
	stored := testutil.ToFloat64(recommendationsStored)
	dups := testutil.ToFloat64(recommendationsDeduplicated)
	failed := testutil.ToFloat64(messagesPublished.WithLabelValues("error"))

	ObserveSave(3, 4)
	ObservePublish(errors.New("broker down"))

	assert.Equal(t, stored+3, testutil.ToFloat64(recommendationsStored))
	assert.Equal(t, dups+4, testutil.ToFloat64(recommendationsDeduplicated))
	assert.Equal(t, failed+1, testutil.ToFloat64(messagesPublished.WithLabelValues("error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveHTTP("GET", 200, time.Millisecond)
	SetCircuitState(1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "dogepal_http_requests_total"))
	assert.True(t, strings.Contains(string(body), "dogepal_amqp_circuit_state 1"))
}
