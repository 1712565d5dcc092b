// Package config implements the ansd config command.
package config

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/privacy"
)

const redacted = "[redacted]"

// Command returns the config command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		showSecrets bool
		output      string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after defaults, the config file and environment
variables are merged. Credentials are redacted unless --show-secrets is set.

With --output the configuration is written to a file instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			effective := settings
			if !showSecrets {
				effective = Redact(settings)
			}

			if output != "" {
				if err := conf.SaveYAMLConfig(output, effective); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", output)
				return nil
			}

			data, err := yaml.Marshal(effective)
			if err != nil {
				return fmt.Errorf("error marshaling settings to YAML: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print passwords, tokens and credential-bearing URLs as configured")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the configuration to this file")

	return cmd
}

// Redact returns a copy of settings with every credential masked.
func Redact(settings *conf.Settings) *conf.Settings {
	out := *settings

	out.Store.MySQL.Password = mask(out.Store.MySQL.Password)
	out.HTTP.AuthTokenHash = mask(out.HTTP.AuthTokenHash)
	out.MQTT.Password = mask(out.MQTT.Password)
	out.MQTT.Broker = redactURL(out.MQTT.Broker)
	out.Sentry.DSN = mask(out.Sentry.DSN)

	out.Shoutrrr.URLs = make([]string, len(settings.Shoutrrr.URLs))
	for i, u := range settings.Shoutrrr.URLs {
		out.Shoutrrr.URLs[i] = redactURL(u)
	}

	out.Webhooks = slices.Clone(settings.Webhooks)
	for i := range out.Webhooks {
		hook := &out.Webhooks[i]
		hook.Endpoints = slices.Clone(hook.Endpoints)
		for j := range hook.Endpoints {
			ep := &hook.Endpoints[j]
			ep.URL = redactURL(ep.URL)
			ep.Auth.Token = mask(ep.Auth.Token)
			ep.Auth.Pass = mask(ep.Auth.Pass)
			ep.Auth.Value = mask(ep.Auth.Value)
			if ep.Headers != nil {
				headers := maps.Clone(ep.Headers)
				for k := range headers {
					headers[k] = redacted
				}
				ep.Headers = headers
			}
		}
	}

	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

func redactURL(s string) string {
	if s == "" {
		return ""
	}
	return privacy.RedactURL(s)
}
