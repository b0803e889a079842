package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key      string
	typ      keyType
	env      string
	secret   bool
	required bool
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MAILPILOT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "gmail.client_id", typ: kString, env: "MAILPILOT_GMAIL_CLIENT_ID",
		required: true,
		apply:    func(cfg *Config, v any) { cfg.Gmail.ClientID = v.(string) },
		extract:  func(cfg Config) any { return cfg.Gmail.ClientID },
	},
	{
		key: "gmail.client_secret", typ: kString, env: "MAILPILOT_GMAIL_CLIENT_SECRET",
		secret: true, required: true,
		apply:   func(cfg *Config, v any) { cfg.Gmail.ClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.ClientSecret },
	},
	{
		key: "gmail.refresh_token", typ: kString, env: "MAILPILOT_GMAIL_REFRESH_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Gmail.RefreshToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Gmail.RefreshToken },
	},
	{
		key: "gmail.self_address", typ: kString, env: "MAILPILOT_SELF_ADDRESS",
		required: true,
		apply:    func(cfg *Config, v any) { cfg.Gmail.SelfAddress = v.(string) },
		extract:  func(cfg Config) any { return cfg.Gmail.SelfAddress },
	},
	{
		key: "gemini.api_key", typ: kString, env: "MAILPILOT_GEMINI_API_KEY",
		secret: true, required: true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.model", typ: kString, env: "MAILPILOT_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "run.cron_secret", typ: kString, env: "MAILPILOT_CRON_SECRET",
		secret: true, required: true,
		apply:   func(cfg *Config, v any) { cfg.Run.CronSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Run.CronSecret },
	},
	{
		key: "run.batch_size", typ: kInt, env: "MAILPILOT_RUN_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Run.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Run.BatchSize },
	},
	{
		key: "run.interval", typ: kString, env: "MAILPILOT_RUN_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Run.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Run.Interval },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MAILPILOT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MAILPILOT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
