package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"farm-assistant/internal/integrations/paramstore"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DefaultWebhookURL = "https://workflows.example.com/webhook/farm-assistant-chat"

	webhookURLParam = "/webhook_url"
)

// Config is read once at startup and passed down explicitly.
type Config struct {
	Environment       string
	WebhookURL        string
	WebhookDefaultURL string
	WebhookTimeout    time.Duration
	FallbackEnabled   bool
	StateTable        string
	ParamPrefix       string
	MaxMessageLength  int
	HistoryLimit      int
	LogLevel          string
	LogFormat         string
	HTTPAddr          string
}

// ParamGetter reads a single SSM parameter.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Load reads .env (if present), an optional config.yaml and the process
// environment. Environment variables win over the file.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{
		Environment:       strings.ToLower(strings.TrimSpace(v.GetString("app_environment"))),
		WebhookURL:        strings.TrimSpace(v.GetString("webhook_url")),
		WebhookDefaultURL: strings.TrimSpace(v.GetString("webhook_default_url")),
		WebhookTimeout:    v.GetDuration("webhook_timeout"),
		FallbackEnabled:   v.GetBool("webhook_fallback_enabled"),
		StateTable:        strings.TrimSpace(v.GetString("state_table")),
		ParamPrefix:       strings.TrimRight(strings.TrimSpace(v.GetString("param_prefix")), "/"),
		MaxMessageLength:  v.GetInt("max_message_length"),
		HistoryLimit:      v.GetInt("history_limit"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		HTTPAddr:          v.GetString("http_addr"),
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_environment", EnvProduction)
	v.SetDefault("webhook_url", "")
	v.SetDefault("webhook_default_url", DefaultWebhookURL)
	v.SetDefault("webhook_timeout", "10s")
	v.SetDefault("webhook_fallback_enabled", true)
	v.SetDefault("state_table", "")
	v.SetDefault("param_prefix", "")
	v.SetDefault("max_message_length", 2000)
	v.SetDefault("history_limit", 20)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("http_addr", ":8080")
}

func loadEnvFile() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func (c *Config) validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("app_environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment)
	}
	if c.WebhookURL == "" && c.WebhookDefaultURL == "" {
		return errors.New("webhook_default_url must not be empty")
	}
	if c.WebhookTimeout <= 0 {
		return errors.New("webhook_timeout must be positive")
	}
	if c.MaxMessageLength <= 0 {
		return errors.New("max_message_length must be positive")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("history_limit must be positive")
	}
	return nil
}

// ResolveWebhookURL picks the endpoint: explicit override, then the SSM
// parameter <prefix>/webhook_url, then the default URL adjusted for the
// environment. ps may be nil.
func (c *Config) ResolveWebhookURL(ctx context.Context, ps ParamGetter) (string, error) {
	if c.WebhookURL != "" {
		return c.WebhookURL, nil
	}
	if ps != nil && c.ParamPrefix != "" {
		v, err := ps.GetParameter(ctx, c.ParamPrefix+webhookURLParam)
		switch {
		case err == nil && strings.TrimSpace(v) != "":
			return strings.TrimSpace(v), nil
		case err != nil && !errors.Is(err, paramstore.ErrParameterNotFound):
			return "", fmt.Errorf("config: resolve webhook url: %w", err)
		}
	}
	return WebhookURLForEnvironment(c.WebhookDefaultURL, c.Environment), nil
}

// WebhookURLForEnvironment swaps the /webhook-test/ and /webhook/ path
// segments so development builds hit the workflow's test listener.
func WebhookURLForEnvironment(defaultURL, env string) string {
	if env == EnvDevelopment {
		return strings.Replace(defaultURL, "/webhook/", "/webhook-test/", 1)
	}
	return strings.Replace(defaultURL, "/webhook-test/", "/webhook/", 1)
}
