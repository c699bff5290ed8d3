package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCycle(t *testing.T) {
	before := testutil.ToFloat64(CyclesTotal.WithLabelValues(ResultOK))

	started := time.Unix(1700000000, 0)
	ObserveCycle(ResultOK, started, 2*time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(CyclesTotal.WithLabelValues(ResultOK)))
	assert.Equal(t, float64(1700000002), testutil.ToFloat64(LastCycleTimestamp))
}

func TestSetLeader(t *testing.T) {
	SetLeader(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(IsLeader))
	SetLeader(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(IsLeader))
}

func TestHandler(t *testing.T) {
	VMsDispatched.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "quantix_sched_vms_dispatched_total"))
}
