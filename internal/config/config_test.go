package config

import (
	"strings"
	"testing"
)

type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strings: make(map[string]string), ints: make(map[string]int)}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strings[key]
	return v, ok, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *memBackend) SetString(key, val string) error {
	b.strings[key] = val
	return nil
}

func (b *memBackend) SetInt(key string, val int) error {
	b.ints[key] = val
	return nil
}

func (b *memBackend) Delete(key string) error {
	delete(b.strings, key)
	delete(b.ints, key)
	return nil
}

type memSecrets map[string]string

func (m memSecrets) Get(account string) (string, error) {
	if v, ok := m[account]; ok {
		return v, nil
	}
	return "", errNotSet
}

var errNotSet = &notSetError{}

type notSetError struct{}

func (*notSetError) Error() string { return "not set" }

func fullSecrets() memSecrets {
	return memSecrets{
		"gmail.client_secret": "cs",
		"gemini.api_key":      "gk",
		"run.cron_secret":     "cron",
	}
}

func setRequired(t *testing.T, b *memBackend) {
	t.Helper()
	b.strings["gmail.client_id"] = "client-id"
	b.strings["gmail.self_address"] = "me@example.com"
}

func TestLoadDefaults(t *testing.T) {
	b := newMemBackend()
	setRequired(t, b)

	cfg, err := loadWith(b, fullSecrets())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Gemini.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q", cfg.Gemini.Model)
	}
	if cfg.Run.BatchSize != 20 {
		t.Errorf("batch size = %d, want 20", cfg.Run.BatchSize)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadBackendValues(t *testing.T) {
	b := newMemBackend()
	setRequired(t, b)
	b.ints["server.port"] = 9000
	b.strings["gemini.model"] = "gemini-2.5-pro"
	b.strings["run.interval"] = "5m"

	cfg, err := loadWith(b, fullSecrets())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Gemini.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q", cfg.Gemini.Model)
	}
	if cfg.Run.Interval != "5m" {
		t.Errorf("interval = %q", cfg.Run.Interval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	b := newMemBackend()
	setRequired(t, b)
	b.ints["server.port"] = 9000

	t.Setenv("MAILPILOT_SERVER_PORT", "7777")
	t.Setenv("MAILPILOT_GMAIL_CLIENT_ID", "env-client")
	t.Setenv("MAILPILOT_CRON_SECRET", "env-cron")

	cfg, err := loadWith(b, fullSecrets())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Gmail.ClientID != "env-client" {
		t.Errorf("client id = %q, want env override", cfg.Gmail.ClientID)
	}
	if cfg.Run.CronSecret != "env-cron" {
		t.Errorf("cron secret = %q, want env value over secrets file", cfg.Run.CronSecret)
	}
}

func TestLoadSecretsFallback(t *testing.T) {
	b := newMemBackend()
	setRequired(t, b)

	cfg, err := loadWith(b, fullSecrets())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Gmail.ClientSecret != "cs" {
		t.Errorf("client secret = %q, want secrets file value", cfg.Gmail.ClientSecret)
	}
	if cfg.Gemini.APIKey != "gk" {
		t.Errorf("api key = %q, want secrets file value", cfg.Gemini.APIKey)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	b := newMemBackend()
	// gmail.client_id and gmail.self_address deliberately unset.

	_, err := loadWith(b, memSecrets{})
	if err == nil {
		t.Fatal("expected error for missing required config")
	}
	for _, want := range []string{"gmail.client_id", "gmail.self_address", "gemini.api_key", "run.cron_secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing key %s", err, want)
		}
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := SetKey(b, "gemini.model", "gemini-2.5-pro"); err != nil {
		t.Fatalf("SetKey string: %v", err)
	}
	if b.strings["gemini.model"] != "gemini-2.5-pro" {
		t.Errorf("backend value = %q", b.strings["gemini.model"])
	}

	if err := SetKey(b, "server.port", "8080"); err != nil {
		t.Fatalf("SetKey int: %v", err)
	}
	if b.ints["server.port"] != 8080 {
		t.Errorf("backend port = %d", b.ints["server.port"])
	}

	if err := SetKey(b, "server.port", "not-a-number"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := SetKey(b, "gemini.api_key", "leak"); err == nil {
		t.Error("expected error setting a secret via SetKey")
	}
	if err := SetKey(b, "no.such.key", "v"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllRedactsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Gmail.ClientID = "client-id"
	cfg.Gemini.APIKey = "super-secret"

	for _, info := range ShowAll(cfg) {
		switch info.Key {
		case "gemini.api_key":
			if info.Value != "(set)" {
				t.Errorf("api key shown as %q, want (set)", info.Value)
			}
		case "run.cron_secret":
			if info.Value != "(unset)" {
				t.Errorf("cron secret shown as %q, want (unset)", info.Value)
			}
		case "gmail.client_id":
			if info.Value != "client-id" {
				t.Errorf("client id = %q", info.Value)
			}
		}
	}
}

func TestValidKeysExcludesSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		for _, s := range specs {
			if s.key == k && s.secret {
				t.Errorf("ValidKeys includes secret key %s", k)
			}
		}
	}
}
