package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/graphsync/metrics"
)

func TestNew_RegistersWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		metrics.New("graphsync_test_a")
	})
}

func TestRecordConnectorTransition_SetsGaugesAndIncrementsCounter(t *testing.T) {
	m := metrics.New("graphsync_test_b")
	m.RecordConnectorTransition("conn-1", "starting", "initializing")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	metrics.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "graphsync_test_b_connector_transitions_total")
}
