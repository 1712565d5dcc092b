package notification

import (
	"github.com/openans/ansd/internal/conf"
)

// ConfigFromSettings maps the notification section of the configuration
// file onto a ServiceConfig. Zero values fall back to the defaults when the
// service is created.
func ConfigFromSettings(settings *conf.NotificationSettings, debug bool) *ServiceConfig {
	return &ServiceConfig{
		Debug: debug,
		Admission: AdmissionConfig{
			Quota:   settings.Admission.Quota,
			Window:  settings.Admission.Window,
			Mode:    WindowMode(settings.Admission.Mode),
			Policy:  OverflowPolicy(settings.Admission.Policy),
			IdleTTL: settings.Admission.IdleTTL,
		},
		MaxActiveNotifications:  settings.MaxActive,
		CleanupInterval:         settings.CleanupInterval,
		MaxPendingPerSubscriber: settings.MaxPending,
		MaxPictureBytes:         settings.MaxPictureBytes,
	}
}
