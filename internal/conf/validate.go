package conf

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateLoggingLevel(s.Logging.DefaultLevel) },
		func(s *Settings) error { return validateNotificationSettings(&s.Notification) },
		func(s *Settings) error { return validateStoreSettings(&s.Store) },
		func(s *Settings) error { return validateHTTPSettings(&s.HTTP) },
		func(s *Settings) error { return validateForwardSettings(&s.Forward) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateWebhookSettings(s.Webhooks) },
		func(s *Settings) error { return validateShoutrrrSettings(&s.Shoutrrr) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLoggingLevel(level string) error {
	if level == "" {
		return nil
	}
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "warning", "error"}, strings.ToLower(level)) {
		return fmt.Errorf("logging: unknown level %q", level)
	}
	return nil
}

func validateNotificationSettings(settings *NotificationSettings) error {
	var errs []error

	a := settings.Admission
	if a.Quota <= 0 {
		errs = append(errs, fmt.Errorf("notification.admission.quota must be positive, got %d", a.Quota))
	}
	if a.Window <= 0 {
		errs = append(errs, fmt.Errorf("notification.admission.window must be positive, got %s", a.Window))
	}
	if a.Mode != "sliding" && a.Mode != "fixed" {
		errs = append(errs, fmt.Errorf("notification.admission.mode must be sliding or fixed, got %q", a.Mode))
	}
	if a.Policy != "drop" && a.Policy != "reject" {
		errs = append(errs, fmt.Errorf("notification.admission.policy must be drop or reject, got %q", a.Policy))
	}
	if settings.MaxActive <= 0 {
		errs = append(errs, fmt.Errorf("notification.maxactive must be positive, got %d", settings.MaxActive))
	}
	if settings.MaxPending <= 0 {
		errs = append(errs, fmt.Errorf("notification.maxpending must be positive, got %d", settings.MaxPending))
	}
	if settings.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("notification.cleanupinterval must be positive, got %s", settings.CleanupInterval))
	}
	if settings.MaxPictureBytes <= 0 {
		errs = append(errs, fmt.Errorf("notification.maxpicturebytes must be positive, got %d", settings.MaxPictureBytes))
	}

	return errors.Join(errs...)
}

func validateStoreSettings(settings *StoreSettings) error {
	switch settings.Type {
	case "memory":
		return nil
	case "sqlite":
		if settings.Path == "" {
			return errors.New("store.path is required for sqlite")
		}
		return nil
	case "mysql":
		m := settings.MySQL
		if m.Host == "" || m.Database == "" || m.Username == "" {
			return errors.New("store.mysql requires host, database and username")
		}
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("store.mysql.port must be between 1 and 65535, got %d", m.Port)
		}
		return nil
	default:
		return fmt.Errorf("store.type must be memory, sqlite or mysql, got %q", settings.Type)
	}
}

func validateHTTPSettings(settings *HTTPSettings) error {
	if settings.Listen == "" {
		return errors.New("http.listen is required")
	}
	if settings.MaxConnections < 0 {
		return fmt.Errorf("http.maxconnections must not be negative, got %d", settings.MaxConnections)
	}
	if settings.AuthTokenHash != "" {
		if _, err := bcrypt.Cost([]byte(settings.AuthTokenHash)); err != nil {
			return fmt.Errorf("http.authtokenhash is not a bcrypt hash: %w", err)
		}
	}
	return nil
}

func validateForwardSettings(settings *ForwardSettings) error {
	if settings.QueueSize <= 0 {
		return fmt.Errorf("forward.queuesize must be positive, got %d", settings.QueueSize)
	}
	if settings.MaxRetries < 0 {
		return fmt.Errorf("forward.maxretries must not be negative, got %d", settings.MaxRetries)
	}
	if settings.Timeout <= 0 {
		return fmt.Errorf("forward.timeout must be positive, got %s", settings.Timeout)
	}
	if settings.CircuitBreaker.MaxFailures <= 0 {
		return fmt.Errorf("forward.circuitbreaker.maxfailures must be positive, got %d", settings.CircuitBreaker.MaxFailures)
	}
	return nil
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.Broker == "" {
		return errors.New("mqtt.broker is required when MQTT is enabled")
	}
	if err := validateEnvBrokerURL(settings.Broker); err != nil {
		return fmt.Errorf("mqtt.broker: %w", err)
	}
	if settings.Topic == "" {
		return errors.New("mqtt.topic is required when MQTT is enabled")
	}
	if settings.QoS < 0 || settings.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", settings.QoS)
	}
	if settings.Encoding != "json" && settings.Encoding != "cbor" {
		return fmt.Errorf("mqtt.encoding must be json or cbor, got %q", settings.Encoding)
	}
	return nil
}

func validateWebhookSettings(webhooks []WebhookSettings) error {
	var errs []error
	names := make(map[string]bool, len(webhooks))

	for i := range webhooks {
		w := &webhooks[i]
		if w.Name == "" {
			errs = append(errs, fmt.Errorf("webhooks[%d]: name is required", i))
		} else if names[w.Name] {
			errs = append(errs, fmt.Errorf("webhooks[%d]: duplicate name %q", i, w.Name))
		}
		names[w.Name] = true

		if len(w.Endpoints) == 0 {
			errs = append(errs, fmt.Errorf("webhooks[%d]: at least one endpoint is required", i))
		}
		for j := range w.Endpoints {
			if err := validateWebhookEndpoint(&w.Endpoints[j]); err != nil {
				errs = append(errs, fmt.Errorf("webhooks[%d].endpoints[%d]: %w", i, j, err))
			}
		}
	}

	return errors.Join(errs...)
}

func validateWebhookEndpoint(ep *WebhookEndpointSettings) error {
	u, err := url.Parse(ep.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL, got %q", ep.URL)
	}

	switch strings.ToUpper(ep.Method) {
	case "", "POST", "PUT", "PATCH":
	default:
		return fmt.Errorf("method must be POST, PUT or PATCH, got %q", ep.Method)
	}

	switch ep.Auth.Type {
	case "", "none":
	case "bearer":
		if ep.Auth.Token == "" {
			return errors.New("bearer auth requires a token")
		}
	case "basic":
		if ep.Auth.User == "" {
			return errors.New("basic auth requires a user")
		}
	case "custom":
		if ep.Auth.Header == "" {
			return errors.New("custom auth requires a header")
		}
	default:
		return fmt.Errorf("unknown auth type %q", ep.Auth.Type)
	}
	return nil
}

func validateShoutrrrSettings(settings *ShoutrrrSettings) error {
	if settings.Enabled && len(settings.URLs) == 0 {
		return errors.New("shoutrrr.urls is required when shoutrrr is enabled")
	}
	return nil
}

func validateSentrySettings(settings *SentrySettings) error {
	if !settings.Enabled {
		return nil
	}
	if settings.DSN == "" {
		return errors.New("sentry.dsn is required when sentry is enabled")
	}
	if settings.SampleRate < 0 || settings.SampleRate > 1 {
		return fmt.Errorf("sentry.samplerate must be between 0 and 1, got %g", settings.SampleRate)
	}
	return nil
}
