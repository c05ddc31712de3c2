package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersExposed(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(LedgerAppends.WithLabelValues("skipped"))
	LedgerAppends.WithLabelValues("skipped").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LedgerAppends.WithLabelValues("skipped")))

	GateDecisions.WithLabelValues("accepted").Inc()
	DriftReports.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "masterybot_ledger_appends_total"))
	assert.True(t, strings.Contains(body, "masterybot_drift_reports_total"))
}
