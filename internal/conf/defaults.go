package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/openans/ansd/internal/logger"
)

// Default values shared with the command line.
const (
	DefaultHTTPListen  = ":8080"
	DefaultSQLitePath  = "ansd.db"
	DefaultMQTTTopic   = "ansd"
	DefaultStoreMemory = "memory"
)

// setDefaultConfig registers default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("notification.admission.quota", 10)
	v.SetDefault("notification.admission.window", time.Second)
	v.SetDefault("notification.admission.mode", "sliding")
	v.SetDefault("notification.admission.policy", "drop")
	v.SetDefault("notification.admission.idlettl", 5*time.Minute)
	v.SetDefault("notification.maxactive", 1000)
	v.SetDefault("notification.cleanupinterval", 30*time.Second)
	v.SetDefault("notification.maxpending", 1024)
	v.SetDefault("notification.maxpicturebytes", 2<<20)

	v.SetDefault("store.type", DefaultStoreMemory)
	v.SetDefault("store.path", DefaultSQLitePath)
	v.SetDefault("store.mysql.host", "localhost")
	v.SetDefault("store.mysql.port", 3306)
	v.SetDefault("store.mysql.username", "")
	v.SetDefault("store.mysql.password", "")
	v.SetDefault("store.mysql.database", "ansd")

	v.SetDefault("http.listen", DefaultHTTPListen)
	v.SetDefault("http.maxconnections", 256)
	v.SetDefault("http.authtokenhash", "")
	v.SetDefault("http.sseheartbeat", 15*time.Second)
	v.SetDefault("http.readtimeout", 30*time.Second)

	v.SetDefault("forward.queuesize", 256)
	v.SetDefault("forward.maxretries", 3)
	v.SetDefault("forward.retrydelay", time.Second)
	v.SetDefault("forward.timeout", 30*time.Second)
	v.SetDefault("forward.circuitbreaker.maxfailures", 5)
	v.SetDefault("forward.circuitbreaker.timeout", 30*time.Second)
	v.SetDefault("forward.circuitbreaker.halfopenmaxrequests", 1)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", DefaultMQTTTopic)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.encoding", "json")
	v.SetDefault("mqtt.bundles", []string{})

	v.SetDefault("webhooks", []map[string]any{})

	v.SetDefault("shoutrrr.enabled", false)
	v.SetDefault("shoutrrr.urls", []string{})
	v.SetDefault("shoutrrr.bundles", []string{})

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.samplerate", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", "")
}
