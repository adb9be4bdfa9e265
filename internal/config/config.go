package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment variable the gateway reads.
	EnvPrefix = "KEYCONSOLE_"
	// ConfigFileEnvVar names an optional YAML file loaded before the environment.
	ConfigFileEnvVar = EnvPrefix + "CONFIG_FILE"

	devSessionSecret = "default-secret-change-in-production"
)

type Config interface {
	EnvConfig
	BackendConfig
	SessionConfig
	CorsConfig
	SecurityConfig
}

// settings is the koanf unmarshal target. Getter groups read from it.
type settings struct {
	Port string `koanf:"port"`
	Env  string `koanf:"env"`
	App  struct {
		Name string `koanf:"name"`
	} `koanf:"app"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
	Backend struct {
		URL     string        `koanf:"url"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"backend"`
	Session struct {
		Secret          string        `koanf:"secret"`
		Duration        time.Duration `koanf:"duration"`
		RefreshInterval time.Duration `koanf:"refresh_interval"`
		CookieName      string        `koanf:"cookie_name"`
	} `koanf:"session"`
	Login struct {
		RatePerMinute  int      `koanf:"rate_per_minute"`
		TrustedProxies []string `koanf:"trusted_proxies"`
	} `koanf:"login"`
	Cors struct {
		AllowedOrigins []string `koanf:"allowed_origins"`
	} `koanf:"cors"`
}

type mainConfig struct {
	EnvVars
	Backend
	Session
	Cors
	Security
}

func defaults() map[string]any {
	return map[string]any{
		"port":                     "8080",
		"env":                      "DEV",
		"app.name":                 "Key Console",
		"log.level":                "info",
		"backend.url":              "http://localhost:1212",
		"backend.timeout":          5 * time.Second,
		"session.secret":           devSessionSecret,
		"session.duration":         time.Hour,
		"session.refresh_interval": 30 * time.Second,
		"session.cookie_name":      "session",
		"login.rate_per_minute":    20,
		"login.trusted_proxies":    []string{},
		"cors.allowed_origins":     []string{},
	}
}

// New loads configuration from defaults, the optional YAML file named by
// KEYCONSOLE_CONFIG_FILE and KEYCONSOLE_* environment variables, in that order.
func New() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("[config New] load defaults: %w", err)
	}

	if path := os.Getenv(ConfigFileEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("[config New] load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("[config New] load env: %w", err)
	}

	return fromKoanf(k)
}

// listKeys are read from the environment as comma separated lists.
var listKeys = map[string]bool{
	"cors.allowed_origins":  true,
	"login.trusted_proxies": true,
}

// envValue maps KEYCONSOLE_SESSION_REFRESH_INTERVAL to session.refresh_interval
// and splits list values.
func envValue(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if !listKeys[key] {
		return key, value
	}
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// NewFromMap builds a Config from defaults overlaid with values. Keys use the
// dotted form, e.g. "session.secret".
func NewFromMap(values map[string]any) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("[config NewFromMap] load defaults: %w", err)
	}
	if err := k.Load(mapProvider(values), nil); err != nil {
		return nil, fmt.Errorf("[config NewFromMap] load values: %w", err)
	}
	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (Config, error) {
	var s settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&s); err != nil {
		return nil, err
	}
	proxies, err := parseTrustedProxies(s.Login.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return mainConfig{
		EnvVars:  EnvVars{s: &s},
		Backend:  Backend{s: &s},
		Session:  Session{s: &s},
		Cors:     Cors{origins: newAllowedOrigins(s.Cors.AllowedOrigins)},
		Security: Security{s: &s, proxies: proxies},
	}, nil
}

func validate(s *settings) error {
	if isProduction(s.Env) && (s.Session.Secret == "" || s.Session.Secret == devSessionSecret) {
		return errors.New("session.secret must be set in production")
	}
	if s.Session.Secret == "" {
		return errors.New("session.secret must not be empty")
	}
	if s.Backend.URL == "" {
		return errors.New("backend.url must be set")
	}
	if s.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive, got %s", s.Backend.Timeout)
	}
	if s.Session.Duration <= 0 {
		return fmt.Errorf("session.duration must be positive, got %s", s.Session.Duration)
	}
	if s.Session.RefreshInterval < 0 || s.Session.RefreshInterval >= s.Session.Duration {
		return fmt.Errorf("session.refresh_interval must be in [0, session.duration), got %s", s.Session.RefreshInterval)
	}
	if s.Session.CookieName == "" {
		return errors.New("session.cookie_name must be set")
	}
	return nil
}

func isProduction(env string) bool {
	env = strings.ToLower(env)
	return env == "production" || env == "prod"
}

// mapProvider is a koanf provider over an in-memory map.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for key, v := range m {
		out[key] = v
	}
	return unflatten(out), nil
}

// unflatten turns {"a.b": 1} into {"a": {"b": 1}} so koanf merges it like a parsed file.
func unflatten(flat map[string]any) map[string]any {
	out := map[string]any{}
	for key, v := range flat {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out
}
