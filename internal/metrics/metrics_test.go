package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.MessagesSent)
	assert.NotNil(t, m.ActiveSubscribers)
	assert.NotNil(t, m.SubscriberLagged)
	assert.NotNil(t, m.ErrorsTotal)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RecordMessageSent()
	m.RecordMessageSent()
	m.RecordLag(15)
	m.RecordError("NOT_ACCESS_TO_CHAT_EXCEPTION")
	m.RecordFrame("send", "ok")
	m.RecordEvicted(3)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "chat_messages_sent_total 2")
	assert.Contains(t, body, "chat_subscriber_lagged_total 15")
	assert.Contains(t, body, `chat_errors_total{kind="NOT_ACCESS_TO_CHAT_EXCEPTION"} 1`)
	assert.Contains(t, body, `chat_frames_total{outcome="ok",route="send"} 1`)
	assert.Contains(t, body, "chat_topics_evicted_total 3")
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SubscriberAdded()
	m.SubscriberAdded()
	m.SubscriberRemoved()
	m.ConnectionOpened()

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "chat_active_subscribers 1")
	assert.Contains(t, body, "chat_ws_connections 1")
}

func TestMetrics_ObserveHTTP(t *testing.T) {
	m := New()
	m.ObserveHTTP("/chat/{projectId}", "GET", "200", 20*time.Millisecond)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `chat_http_requests_total{method="GET",route="/chat/{projectId}",status="200"} 1`)
	assert.Contains(t, body, "chat_http_request_duration_seconds")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMessageSent()
		m.RecordLag(1)
		m.RecordError("x")
		m.SubscriberAdded()
		m.ObserveHTTP("/", "GET", "200", time.Second)
	})
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	return strings.TrimSpace(string(body))
}
