package app

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lukasbauer/medrelay/internal/realtime"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	SentryDSN   string `env:"SENTRY_DSN"`

	// Optional; enables the session event log.
	DatabaseURL string `env:"DATABASE_URL"`

	// Upstream transcription service. A missing key fails each session, not startup.
	OpenAIAPIKey           string `env:"OPENAI_API_KEY"`
	RealtimeURL            string `env:"OPENAI_REALTIME_URL" envDefault:"wss://api.openai.com/v1/realtime?intent=transcription"`
	TranscribeModel        string `env:"OPENAI_TRANSCRIBE_MODEL" envDefault:"gpt-4o-transcribe"`
	TranscribeLanguage     string `env:"TRANSCRIBE_LANGUAGE" envDefault:"en"`
	NoiseReduction         string `env:"TRANSCRIBE_NOISE_REDUCTION" envDefault:"near_field"`
	TranscribeInstructions string `env:"TRANSCRIBE_INSTRUCTIONS" envDefault:"Transcribe the latest audio verbatim."`

	// Relay limits
	UpstreamSendQueue  int           `env:"UPSTREAM_SEND_QUEUE" envDefault:"256"`
	ClientReadLimit    int64         `env:"CLIENT_READ_LIMIT_BYTES" envDefault:"1048576"`
	ClientWriteTimeout time.Duration `env:"CLIENT_WRITE_TIMEOUT" envDefault:"10s"`
	DrainTimeout       time.Duration `env:"DRAIN_TIMEOUT" envDefault:"30s"`
}

// LoadConfigFromEnv parses and validates the process environment.
func LoadConfigFromEnv() (Config, error) {
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("environment variables are invalid: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must not be empty"))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	if u, err := url.Parse(c.RealtimeURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("OPENAI_REALTIME_URL must be a ws:// or wss:// URL, got %q", c.RealtimeURL))
	}
	switch c.NoiseReduction {
	case "", "near_field", "far_field":
	default:
		errs = append(errs, fmt.Errorf("TRANSCRIBE_NOISE_REDUCTION must be near_field, far_field or empty, got %q", c.NoiseReduction))
	}
	if c.UpstreamSendQueue <= 0 {
		errs = append(errs, errors.New("UPSTREAM_SEND_QUEUE must be positive"))
	}
	if c.ClientReadLimit <= 0 {
		errs = append(errs, errors.New("CLIENT_READ_LIMIT_BYTES must be positive"))
	}
	if c.ClientWriteTimeout <= 0 {
		errs = append(errs, errors.New("CLIENT_WRITE_TIMEOUT must be positive"))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, errors.New("DRAIN_TIMEOUT must not be negative"))
	}

	return errors.Join(errs...)
}

// Realtime returns the upstream client configuration.
func (c Config) Realtime() realtime.Config {
	return realtime.Config{
		APIKey:         c.OpenAIAPIKey,
		URL:            c.RealtimeURL,
		Model:          c.TranscribeModel,
		Language:       c.TranscribeLanguage,
		NoiseReduction: c.NoiseReduction,
		SendQueue:      c.UpstreamSendQueue,
	}
}
