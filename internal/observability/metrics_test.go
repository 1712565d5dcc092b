package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/notification"
)

func TestMetricsHandler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Notification.RecordAdmission(notification.OutcomeRejected)
	m.Forward.RecordRetryAttempt("webhook")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ans_publish_admissions_total{outcome="rejected"} 1`)
	assert.Contains(t, body, `ans_forward_retry_attempts_total{provider="webhook"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestNewEndpoint_RequiresListen(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	_, err = NewEndpoint(&conf.MetricsSettings{Enabled: false, Listen: ":9090"}, m)
	require.Error(t, err)

	_, err = NewEndpoint(&conf.MetricsSettings{Enabled: true}, m)
	require.Error(t, err)
}

func TestEndpoint_ServeAndShutdown(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	ep, err := NewEndpoint(&conf.MetricsSettings{Enabled: true, Listen: "127.0.0.1:0"}, m)
	require.NoError(t, err)
	assert.Same(t, m, ep.GetMetrics())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- ep.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://"+ln.Addr().String()+"/metrics", http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ans_active_notifications")

	cancel()
	require.NoError(t, <-done)
}
