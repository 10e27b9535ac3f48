package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.AuthDecision("deny")
	m.AuthDecision("deny")
	m.AuthDecision("allow")
	m.CodeIssued()
	m.AuditRecorded("role.created")
	m.NotificationDelivery("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authDecisions.WithLabelValues("deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authDecisions.WithLabelValues("allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.codesIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditEntries.WithLabelValues("role.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationDeliveries.WithLabelValues("failed")))
}

func TestMetrics_HandlerExposesRegistry(t *testing.T) {
	m := New()
	m.CodeIssued()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "carehub_subscription_codes_issued_total 1")
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.CodeIssued()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.codesIssued))
}
