// Package config loads mailpilot configuration from a JSON file backend,
// environment variables, and a local secrets file. Environment variables
// (MAILPILOT_*) override backend values; secrets are only ever read from the
// environment or the secrets file, never persisted by `config set`.
package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Gmail   GmailConfig
	Gemini  GeminiConfig
	Run     RunConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// SelfAddress is the owner's own mailbox address; messages from it are
	// never auto-replied to.
	SelfAddress string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type RunConfig struct {
	CronSecret string
	BatchSize  int
	// Interval enables the built-in scheduler when parseable as a positive
	// duration ("5m"); empty disables it.
	Interval string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash",
		},
		Run: RunConfig{
			BatchSize: 20,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the file backend, environment variables,
// and the secrets file, then validates that required values are present.
func Load() (Config, error) {
	return loadWith(newFileBackend(), secretsReader{})
}

// secrets abstracts the secrets file for testing.
type secrets interface {
	Get(account string) (string, error)
}

func loadWith(b ConfigBackend, sec secrets) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets still unset after env overrides fall back to the secrets file.
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if cur, _ := s.extract(cfg).(string); cur != "" {
			continue
		}
		if v, err := sec.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	var missing []string
	for _, s := range specs {
		if !s.required {
			continue
		}
		if v, _ := s.extract(cfg).(string); v == "" {
			missing = append(missing, fmt.Sprintf("%s (env %s)", s.key, s.env))
		}
	}
	if len(missing) > 0 {
		// Return the partial config so callers like `config show` can
		// still display what is set.
		return cfg, fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// secretsReader reads from the local secrets file.
type secretsReader struct{}

func (secretsReader) Get(account string) (string, error) {
	out, err := secretsGet(account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
