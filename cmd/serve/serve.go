// Package serve implements the ansd serve command.
package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/openans/ansd/internal/api"
	"github.com/openans/ansd/internal/buildinfo"
	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/datastore"
	"github.com/openans/ansd/internal/forward"
	"github.com/openans/ansd/internal/logger"
	"github.com/openans/ansd/internal/notification"
	"github.com/openans/ansd/internal/observability"
	"github.com/openans/ansd/internal/telemetry"
)

// unsubscribeTimeout bounds detaching each forwarder on shutdown.
const unsubscribeTimeout = 5 * time.Second

func getLogger() logger.Logger {
	return logger.Global().Module("serve")
}

// Command creates the serve command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notification service",
		Long:  "Run the notification service with its HTTP API, event streams and configured forwarders until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, build)
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", conf.DefaultHTTPListen, "HTTP API listen address")
	cmd.Flags().String("store", conf.DefaultStoreMemory, "Preference store: memory, sqlite or mysql")
	cmd.Flags().Bool("metrics", false, "Enable Prometheus metrics")

	for key, flag := range map[string]string{
		"http.listen":     "listen",
		"store.type":      "store",
		"metrics.enabled": "metrics",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}

// Run wires the service, forwarders and servers together and blocks until
// ctx is canceled or a component fails.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	log := getLogger()
	log.Info("Starting ansd",
		logger.String("version", build.GetVersion()),
		logger.String("build_date", build.GetBuildDate()))

	if err := telemetry.InitSentry(&settings.Sentry, build.GetVersion()); err != nil {
		log.Warn("Failed to initialize error telemetry", logger.Error(err))
	}
	defer telemetry.Flush()

	var metrics *observability.Metrics
	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		metrics = m
	}

	var opts []notification.Option
	if settings.Store.Type != conf.DefaultStoreMemory {
		var storeOpts []datastore.Option
		if metrics != nil {
			storeOpts = append(storeOpts, datastore.WithQueryMetrics(metrics.Datastore))
		}
		store, err := datastore.Open(&settings.Store, storeOpts...)
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", settings.Store.Type, err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn("Failed to close store", logger.Error(err))
			}
		}()
		opts = append(opts, notification.WithPreferenceStore(store))
	}
	if metrics != nil {
		opts = append(opts, notification.WithMetrics(metrics.Notification))
	}

	svc, err := notification.NewService(notification.ConfigFromSettings(&settings.Notification, settings.Debug), opts...)
	if err != nil {
		return fmt.Errorf("failed to create notification service: %w", err)
	}
	defer svc.Stop()

	dispatchers, err := buildDispatchers(settings, metrics)
	if err != nil {
		return fmt.Errorf("failed to build forwarders: %w", err)
	}

	var serverOpts []api.ServerOption
	if metrics != nil {
		serverOpts = append(serverOpts, api.WithMetrics(metrics))
	}
	server, err := api.New(api.ConfigFromSettings(settings), svc, serverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	var endpoint *observability.Endpoint
	if metrics != nil && settings.Metrics.Listen != "" {
		endpoint, err = observability.NewEndpoint(&settings.Metrics, metrics)
		if err != nil {
			return fmt.Errorf("failed to create metrics endpoint: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for _, d := range dispatchers {
		d.Start()
		died := d.Died()
		if err := svc.Subscribe(gctx, d, d.SubscribeInfo()); err != nil {
			cancel()
			_ = g.Wait()
			stopDispatchers(svc, dispatchers)
			return fmt.Errorf("failed to attach forwarder %s: %w", d.Name(), err)
		}
		g.Go(func() error { return keepSubscribed(gctx, svc, d, died) })
	}
	defer stopDispatchers(svc, dispatchers)

	g.Go(func() error { return server.Run(gctx) })

	if endpoint != nil {
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	log.Info("ansd started",
		logger.Int("forwarders", len(dispatchers)),
		logger.String("store", settings.Store.Type),
		logger.Bool("metrics", metrics != nil))

	if err := g.Wait(); err != nil {
		log.Error("ansd stopped with error", logger.Error(err))
		return err
	}
	log.Info("ansd stopped")
	return nil
}

// buildDispatchers hands the forwarders their metrics, keeping nil
// interfaces nil when metrics are disabled.
func buildDispatchers(settings *conf.Settings, metrics *observability.Metrics) ([]*forward.Dispatcher, error) {
	if metrics == nil {
		return forward.BuildDispatchers(settings, nil, nil)
	}
	return forward.BuildDispatchers(settings, metrics.Forward, metrics.MQTT)
}

// keepSubscribed resubscribes d whenever the service drops it for falling
// behind. died is the channel captured before the current subscription.
func keepSubscribed(ctx context.Context, svc *notification.Service, d *forward.Dispatcher, died <-chan struct{}) error {
	log := getLogger().With(logger.String("forwarder", d.Name()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-died:
		}

		died = d.Died()
		if err := svc.Subscribe(ctx, d, d.SubscribeInfo()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to resubscribe forwarder %s: %w", d.Name(), err)
		}
		log.Info("Forwarder resubscribed after being dropped")
	}
}

// stopDispatchers detaches every forwarder from the service and stops it.
func stopDispatchers(svc *notification.Service, dispatchers []*forward.Dispatcher) {
	log := getLogger()
	for _, d := range dispatchers {
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		// Already gone when the service dropped it
		_ = svc.Unsubscribe(ctx, d)
		cancel()

		if err := d.Stop(); err != nil {
			log.Warn("Failed to stop forwarder", logger.String("forwarder", d.Name()), logger.Error(err))
		}
	}
}
