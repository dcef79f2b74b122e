package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv string `env:"APP_ENV" default:"development"`
	Port   int    `env:"PORT" default:"3000"`

	// App-level token for apps.connections.open (xapp-...).
	SlackAppToken string `env:"SLACK_APP_TOKEN"`

	// OAuth app credentials. Optional: without them the receiver runs
	// with the install/redirect routes disabled.
	SlackClientID     string `env:"SLACK_CLIENT_ID"`
	SlackClientSecret string `env:"SLACK_CLIENT_SECRET"`
	SlackRedirectURI  string `env:"SLACK_REDIRECT_URI"`

	Scopes        string `env:"SLACK_SCOPES" default:"chat:write"`
	UserScopes    string `env:"SLACK_USER_SCOPES"`
	DirectInstall bool   `env:"SLACK_DIRECT_INSTALL" default:"false"`

	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.SlackAppToken == "" {
		return fmt.Errorf("SLACK_APP_TOKEN is required")
	}
	if !strings.HasPrefix(cfg.SlackAppToken, "xapp-") {
		return fmt.Errorf("SLACK_APP_TOKEN must be an app-level token (xapp-...)")
	}

	// OAuth credentials come as a pair or not at all.
	if (cfg.SlackClientID == "") != (cfg.SlackClientSecret == "") {
		return fmt.Errorf("SLACK_CLIENT_ID and SLACK_CLIENT_SECRET must be set together")
	}

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	return nil
}

// OAuthEnabled reports whether the install and redirect routes should be served.
func (c *Config) OAuthEnabled() bool {
	return c.SlackClientID != ""
}

// ScopeList splits a comma-separated scope string, dropping empty entries.
func ScopeList(s string) []string {
	parts := strings.Split(s, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}
