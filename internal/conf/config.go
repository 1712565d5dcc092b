// Package conf loads and saves ansd configuration.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/openans/ansd/internal/logger"
)

// Settings contains all configuration options for ansd.
type Settings struct {
	Debug bool `yaml:"debug"` // true to enable debug mode

	Logging logger.LoggingConfig `yaml:"logging"`

	Notification NotificationSettings `yaml:"notification"`
	Store        StoreSettings        `yaml:"store"`
	HTTP         HTTPSettings         `yaml:"http"`

	Forward  ForwardSettings   `yaml:"forward"`
	MQTT     MQTTSettings      `yaml:"mqtt"`
	Webhooks []WebhookSettings `yaml:"webhooks"`
	Shoutrrr ShoutrrrSettings  `yaml:"shoutrrr"`

	Sentry  SentrySettings  `yaml:"sentry"`
	Metrics MetricsSettings `yaml:"metrics"`
}

// NotificationSettings configures the notification service.
type NotificationSettings struct {
	Admission       AdmissionSettings `yaml:"admission"`
	MaxActive       int               `yaml:"maxactive"`       // active notifications across all bundles
	CleanupInterval time.Duration     `yaml:"cleanupinterval"` // auto delete scan interval
	MaxPending      int               `yaml:"maxpending"`      // subscriber backlog before it is dropped
	MaxPictureBytes int               `yaml:"maxpicturebytes"`
}

// AdmissionSettings configures the per-bundle publish gate.
type AdmissionSettings struct {
	Quota   int           `yaml:"quota"`   // requests admitted per window
	Window  time.Duration `yaml:"window"`  // window length
	Mode    string        `yaml:"mode"`    // sliding or fixed
	Policy  string        `yaml:"policy"`  // drop or reject
	IdleTTL time.Duration `yaml:"idlettl"` // forget bundles idle for this long
}

// StoreSettings selects where slot, DND and bundle preferences live.
type StoreSettings struct {
	Type  string        `yaml:"type"` // memory, sqlite or mysql
	Path  string        `yaml:"path"` // sqlite database file
	MySQL MySQLSettings `yaml:"mysql"`
}

// MySQLSettings contains settings for the MySQL preference store.
type MySQLSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// HTTPSettings configures the HTTP API.
type HTTPSettings struct {
	Listen         string        `yaml:"listen"`         // listen address, e.g. :8080
	MaxConnections int           `yaml:"maxconnections"` // 0 disables the cap
	AuthTokenHash  string        `yaml:"authtokenhash"`  // bcrypt hash of the bearer token, empty disables auth
	SSEHeartbeat   time.Duration `yaml:"sseheartbeat"`   // keepalive comment interval on SSE streams
	ReadTimeout    time.Duration `yaml:"readtimeout"`
}

// ForwardSettings holds the delivery policy shared by every forwarder.
type ForwardSettings struct {
	QueueSize      int                    `yaml:"queuesize"`  // events buffered per provider
	MaxRetries     int                    `yaml:"maxretries"` // retries after the first attempt
	RetryDelay     time.Duration          `yaml:"retrydelay"` // delay before the first retry, doubled per retry
	Timeout        time.Duration          `yaml:"timeout"`    // per attempt
	CircuitBreaker CircuitBreakerSettings `yaml:"circuitbreaker"`
}

// CircuitBreakerSettings configures the per-provider circuit breaker.
type CircuitBreakerSettings struct {
	MaxFailures         int           `yaml:"maxfailures"`         // failures before opening
	Timeout             time.Duration `yaml:"timeout"`             // time open before a half-open probe
	HalfOpenMaxRequests int           `yaml:"halfopenmaxrequests"` // probes allowed while half-open
}

// MQTTSettings configures the MQTT forwarder.
type MQTTSettings struct {
	Enabled  bool     `yaml:"enabled"`
	Broker   string   `yaml:"broker"`   // tcp://host:1883
	ClientID string   `yaml:"clientid"` // generated when empty
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Topic    string   `yaml:"topic"`    // base topic, bundle name and event kind are appended
	QoS      int      `yaml:"qos"`      // 0, 1 or 2
	Retain   bool     `yaml:"retain"`
	Encoding string   `yaml:"encoding"` // json or cbor
	Bundles  []string `yaml:"bundles"`  // empty forwards every bundle
}

// WebhookSettings configures one webhook forwarder.
type WebhookSettings struct {
	Name      string                    `yaml:"name"`
	Endpoints []WebhookEndpointSettings `yaml:"endpoints"` // tried in order until one succeeds
	Bundles   []string                  `yaml:"bundles"`
}

// WebhookEndpointSettings is a single webhook endpoint.
type WebhookEndpointSettings struct {
	URL     string              `yaml:"url"`
	Method  string              `yaml:"method"` // POST, PUT or PATCH
	Headers map[string]string   `yaml:"headers"`
	Auth    WebhookAuthSettings `yaml:"auth"`
}

// WebhookAuthSettings configures endpoint authentication.
type WebhookAuthSettings struct {
	Type   string `yaml:"type"`   // none, bearer, basic or custom
	Token  string `yaml:"token"`  // bearer
	User   string `yaml:"user"`   // basic
	Pass   string `yaml:"pass"`   // basic
	Header string `yaml:"header"` // custom
	Value  string `yaml:"value"`  // custom
}

// ShoutrrrSettings configures the shoutrrr forwarder.
type ShoutrrrSettings struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"` // shoutrrr service URLs
	Bundles []string `yaml:"bundles"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool    `yaml:"enabled"`
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"samplerate"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // separate listener; empty serves /metrics on the API only
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables using the
// global viper instance. configFile may be empty to search the default paths.
func Load(configFile string) (*Settings, error) {
	settings, err := LoadFrom(viper.GetViper(), configFile)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// LoadFrom reads configuration into a fresh Settings using v.
func LoadFrom(v *viper.Viper, configFile string) (*Settings, error) {
	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper registers defaults and environment bindings on v and reads the
// configuration file. A missing file leaves the defaults in place.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		configPaths, err := GetDefaultConfigPaths()
		if err != nil {
			return fmt.Errorf("error getting default config paths: %w", err)
		}
		for _, path := range configPaths {
			v.AddConfigPath(path)
		}
	}

	err := v.ReadInConfig()
	if err == nil {
		GetLogger().Info("Configuration loaded", logger.String("path", v.ConfigFileUsed()))
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || (configFile == "" && errors.Is(err, os.ErrNotExist)) {
		GetLogger().Info("No configuration file found, using defaults")
		return nil
	}
	return fmt.Errorf("fatal error reading config file: %w", err)
}

// GetSettings returns the settings from the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Write to a temporary file first so the rename is atomic
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// Cross-device rename, fall back to copy
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}
