// Package telemetry initializes opt-in Sentry error reporting.
//
// Reporting is disabled unless sentry.enabled is set. Once enabled, enhanced
// errors built with the internal errors package are forwarded to Sentry after
// their messages pass through the privacy scrubber.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
	"github.com/openans/ansd/internal/privacy"
)

// FlushTimeout bounds how long Flush waits for buffered events.
const FlushTimeout = 2 * time.Second

// allowedExtra lists the event extras kept by the privacy filter.
var allowedExtra = map[string]struct{}{
	"error_type": {},
	"component":  {},
}

func getLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// InitSentry configures the Sentry SDK and installs the error reporter.
// It is a no-op when reporting is disabled.
func InitSentry(settings *conf.SentrySettings, release string) error {
	log := getLogger()
	if !settings.Enabled {
		log.Info("Sentry telemetry is disabled (opt-in required)")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		SampleRate:       settings.SampleRate,
		Release:          "ansd@" + release,
		AttachStacktrace: false,
		ServerName:       "",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("Sentry telemetry initialized",
		logger.String("environment", settings.Environment),
		logger.Float64("sample_rate", settings.SampleRate))
	return nil
}

// Flush waits up to FlushTimeout for queued events to be sent. It does
// nothing when Sentry was never initialized.
func Flush() {
	if sentry.CurrentHub().Client() == nil {
		return
	}
	if !sentry.Flush(FlushTimeout) {
		getLogger().Warn("Sentry flush timed out", logger.Duration("timeout", FlushTimeout))
	}
}

// applyPrivacyFilters removes host and user identifying data from event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if _, ok := allowedExtra[k]; !ok {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	return event
}
