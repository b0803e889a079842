package config

import (
	"fmt"
	"sort"
	"strconv"
)

// KeyInfo describes one config key for `config show` output.
type KeyInfo struct {
	Key    string
	Value  string
	Secret bool
	Set    bool
}

// ValidKeys returns the names of keys accepted by SetKey, sorted.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		keys = append(keys, s.key)
	}
	sort.Strings(keys)
	return keys
}

// ShowAll lists the effective configuration. Secret values are redacted
// and only reported as set or unset.
func ShowAll(cfg Config) []KeyInfo {
	infos := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		v := s.extract(cfg)
		info := KeyInfo{Key: s.key, Secret: s.secret}
		switch val := v.(type) {
		case string:
			info.Set = val != ""
			info.Value = val
		case int:
			info.Set = val != 0
			info.Value = strconv.Itoa(val)
		}
		if s.secret {
			if info.Set {
				info.Value = "(set)"
			} else {
				info.Value = "(unset)"
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// SetKey writes a non-secret key to the config backend. Secrets must be
// provided via environment variables or the secrets file instead.
func SetKey(b ConfigBackend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("%s is a secret; set it via %s or the secrets file", key, s.env)
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s expects an integer: %w", key, err)
			}
			return b.SetInt(key, i)
		}
	}
	return fmt.Errorf("unknown config key %q", key)
}

// NewBackend returns the default file-based config backend.
func NewBackend() ConfigBackend {
	return newFileBackend()
}
