package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.Submission("accepted")
	m.Submission("accepted")
	m.Submission("duplicate")
	m.CredentialCheck("invalid")
	m.PoolCreated()
	m.PoolsSwept(3)
	m.ObserveRequest("POST", "/public/submit", "2xx", 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("duplicate")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.poolsExpired))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `candor_submissions_total{outcome="accepted"} 2`))
	assert.True(t, strings.Contains(body, "candor_http_request_duration_seconds_bucket"))
}
