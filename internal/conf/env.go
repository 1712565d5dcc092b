package conf

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "ANS_DEBUG", validateEnvBool},
		{"logging.default_level", "ANS_LOG_LEVEL", validateEnvLogLevel},

		// Admission gate
		{"notification.admission.quota", "ANS_ADMISSION_QUOTA", validateEnvPositiveInt},
		{"notification.admission.window", "ANS_ADMISSION_WINDOW", validateEnvDuration},
		{"notification.admission.mode", "ANS_ADMISSION_MODE", oneOf("sliding", "fixed")},
		{"notification.admission.policy", "ANS_ADMISSION_POLICY", oneOf("drop", "reject")},
		{"notification.maxactive", "ANS_MAX_ACTIVE", validateEnvPositiveInt},

		// Store
		{"store.type", "ANS_STORE_TYPE", oneOf("memory", "sqlite", "mysql")},
		{"store.path", "ANS_STORE_PATH", nil},
		{"store.mysql.host", "ANS_STORE_MYSQL_HOST", nil},
		{"store.mysql.port", "ANS_STORE_MYSQL_PORT", validateEnvPort},
		{"store.mysql.username", "ANS_STORE_MYSQL_USERNAME", nil},
		{"store.mysql.password", "ANS_STORE_MYSQL_PASSWORD", nil},
		{"store.mysql.database", "ANS_STORE_MYSQL_DATABASE", nil},

		// HTTP
		{"http.listen", "ANS_HTTP_LISTEN", nil},
		{"http.authtokenhash", "ANS_HTTP_AUTH_TOKEN_HASH", nil},

		// Forwarders
		{"mqtt.enabled", "ANS_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "ANS_MQTT_BROKER", validateEnvBrokerURL},
		{"mqtt.username", "ANS_MQTT_USERNAME", nil},
		{"mqtt.password", "ANS_MQTT_PASSWORD", nil},

		{"sentry.enabled", "ANS_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "ANS_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	return oneOf("trace", "debug", "info", "warn", "error")(strings.ToLower(value))
}

func validateEnvBrokerURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
		return nil
	default:
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

// oneOf returns a validator accepting only the listed values
func oneOf(allowed ...string) func(string) error {
	return func(value string) error {
		if slices.Contains(allowed, value) {
			return nil
		}
		return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
	}
}
