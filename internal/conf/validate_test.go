package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("token"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Settings) {}},
		{
			name:   "bcrypt_token_hash",
			mutate: func(s *Settings) { s.HTTP.AuthTokenHash = string(hash) },
		},
		{
			name:    "plain_token_hash",
			mutate:  func(s *Settings) { s.HTTP.AuthTokenHash = "token" },
			wantErr: "http.authtokenhash",
		},
		{
			name:    "zero_quota",
			mutate:  func(s *Settings) { s.Notification.Admission.Quota = 0 },
			wantErr: "notification.admission.quota",
		},
		{
			name:    "unknown_policy",
			mutate:  func(s *Settings) { s.Notification.Admission.Policy = "queue" },
			wantErr: "notification.admission.policy",
		},
		{
			name: "mysql_without_host",
			mutate: func(s *Settings) {
				s.Store.Type = "mysql"
				s.Store.MySQL.Host = ""
			},
			wantErr: "store.mysql",
		},
		{
			name:    "unknown_store",
			mutate:  func(s *Settings) { s.Store.Type = "redis" },
			wantErr: "store.type",
		},
		{
			name: "mqtt_bad_scheme",
			mutate: func(s *Settings) {
				s.MQTT.Enabled = true
				s.MQTT.Broker = "http://broker"
			},
			wantErr: "mqtt.broker",
		},
		{
			name: "mqtt_bad_qos",
			mutate: func(s *Settings) {
				s.MQTT.Enabled = true
				s.MQTT.QoS = 3
			},
			wantErr: "mqtt.qos",
		},
		{
			name: "webhook_without_endpoint",
			mutate: func(s *Settings) {
				s.Webhooks = []WebhookSettings{{Name: "ops"}}
			},
			wantErr: "at least one endpoint",
		},
		{
			name: "webhook_duplicate_name",
			mutate: func(s *Settings) {
				ep := []WebhookEndpointSettings{{URL: "https://a.example.com"}}
				s.Webhooks = []WebhookSettings{{Name: "ops", Endpoints: ep}, {Name: "ops", Endpoints: ep}}
			},
			wantErr: "duplicate name",
		},
		{
			name: "webhook_relative_url",
			mutate: func(s *Settings) {
				s.Webhooks = []WebhookSettings{{Name: "ops", Endpoints: []WebhookEndpointSettings{{URL: "/hook"}}}}
			},
			wantErr: "absolute http(s) URL",
		},
		{
			name: "webhook_bearer_without_token",
			mutate: func(s *Settings) {
				s.Webhooks = []WebhookSettings{{Name: "ops", Endpoints: []WebhookEndpointSettings{{
					URL:  "https://a.example.com",
					Auth: WebhookAuthSettings{Type: "bearer"},
				}}}}
			},
			wantErr: "bearer auth requires a token",
		},
		{
			name:    "shoutrrr_without_urls",
			mutate:  func(s *Settings) { s.Shoutrrr.Enabled = true },
			wantErr: "shoutrrr.urls",
		},
		{
			name:    "sentry_without_dsn",
			mutate:  func(s *Settings) { s.Sentry.Enabled = true },
			wantErr: "sentry.dsn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := loadDefaults(t)
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var ve ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvBool("TRUE"))
	assert.Error(t, validateEnvBool("yes"))
	assert.NoError(t, validateEnvDuration("250ms"))
	assert.Error(t, validateEnvDuration("-1s"))
	assert.NoError(t, validateEnvPort("3306"))
	assert.Error(t, validateEnvPort("70000"))
	assert.NoError(t, validateEnvLogLevel("DEBUG"))
	assert.Error(t, validateEnvLogLevel("verbose"))
	assert.NoError(t, validateEnvBrokerURL("ssl://broker:8883"))
	assert.Error(t, validateEnvBrokerURL("http://broker"))
	assert.Error(t, oneOf("a", "b")("c"))
}
