package serve

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openans/ansd/internal/buildinfo"
	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/forward"
	"github.com/openans/ansd/internal/notification"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 3 * time.Second

func loadSettings(t *testing.T, content string) *conf.Settings {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	settings, err := conf.LoadFrom(viper.New(), path)
	require.NoError(t, err)
	return settings
}

type countingProvider struct {
	sent atomic.Int32
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Send(context.Context, *forward.Event) error {
	p.sent.Add(1)
	return nil
}

func (p *countingProvider) Close() error { return nil }

func TestRun_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	settings := loadSettings(t, `
http:
  listen: 127.0.0.1:0
store:
  type: sqlite
  path: `+filepath.Join(t.TempDir(), "ansd.db")+`
metrics:
  enabled: true
`)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, settings, buildinfo.NewContext("test", "")) }()

	// Give the listener time to come up before shutting down
	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_InvalidStore(t *testing.T) {
	t.Parallel()

	settings := loadSettings(t, "http:\n  listen: 127.0.0.1:0\n")
	settings.Store.Type = "postgres"

	err := Run(t.Context(), settings, buildinfo.NewContext("test", ""))
	require.ErrorContains(t, err, "postgres")
}

func TestKeepSubscribed_Resubscribes(t *testing.T) {
	t.Parallel()

	cfg := notification.DefaultServiceConfig()
	cfg.CleanupInterval = time.Hour
	svc, err := notification.NewService(cfg)
	require.NoError(t, err)
	defer svc.Stop()

	provider := &countingProvider{}
	d := forward.NewDispatcher(provider, forward.DefaultConfig(), nil)
	d.Start()
	defer func() { require.NoError(t, d.Stop()) }()

	died := d.Died()
	require.NoError(t, svc.Subscribe(t.Context(), d, d.SubscribeInfo()))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- keepSubscribed(ctx, svc, d, died) }()

	// Simulate the service dropping the forwarder
	require.NoError(t, svc.Unsubscribe(t.Context(), d))
	require.Empty(t, svc.Subscriptions())
	d.OnDied()

	require.Eventually(t, func() bool {
		return len(svc.Subscriptions()) == 1
	}, waitTimeout, 10*time.Millisecond, "forwarder is subscribed again")

	caller := notification.BundleOption{Bundle: "com.example.chat"}
	require.NoError(t, svc.Publish(t.Context(), caller, &notification.Request{
		ID: 1,
		Content: notification.Content{
			Type:   notification.ContentBasicText,
			Normal: &notification.BasicContent{Title: "title", Text: "text"},
		},
	}))
	require.Eventually(t, func() bool {
		return provider.sent.Load() >= 1
	}, waitTimeout, 10*time.Millisecond, "resubscribed forwarder delivers")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("keepSubscribed did not return after cancel")
	}
}
