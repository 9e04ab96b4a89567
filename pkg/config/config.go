package config

import (
	"errors"
	"fmt"
	"github.com/martinmaurice/erpgate/pkg/env"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	ProxyRateLimiterKey    = "proxy"
	ExternalRateLimiterKey = "external"

	defaultWindowMs          = 60000
	defaultProxyMaxRequests  = 100
	defaultExternalMaxReqs   = 60
	defaultTimeoutMs         = 15000
	defaultMaxBodyBytes      = 1 << 20
	defaultAccessTokenMaxAge = 900
	defaultRefreshTokenAge   = 604800
)

var (
	FileReadErr                  = errors.New("unable to read config file")
	RawConfigStructValidationErr = errors.New("invalid config")
)

type rateLimiterRawConfig struct {
	WindowMs    int `mapstructure:"window_ms"`
	MaxRequests int `mapstructure:"max_requests"`
}

type rawConfig struct {
	RateLimits map[string]rateLimiterRawConfig `mapstructure:"rate_limits"`
	Proxy      struct {
		TimeoutMs    int   `mapstructure:"timeout_ms"`
		MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	}
	Session struct {
		AccessTokenMaxAge  int `mapstructure:"access_token_max_age"`
		RefreshTokenMaxAge int `mapstructure:"refresh_token_max_age"`
	}
	Backend struct {
		RefreshPath string `mapstructure:"refresh_path"`
		LoginPath   string `mapstructure:"login_path"`
		LogoutPath  string `mapstructure:"logout_path"`
	}
	Metrics struct {
		Enabled bool
		Path    string
	}
}

type RateLimiterConfig struct {
	ID          string
	Window      time.Duration
	MaxRequests int
}

func (r RateLimiterConfig) validate() error {
	if r.ID == "" {
		return errors.New("rate limiter id is required")
	}

	if r.Window <= 0 {
		return fmt.Errorf("rate limiter %s window_ms must be greater than zero", r.ID)
	}

	if r.MaxRequests <= 0 {
		return fmt.Errorf("rate limiter %s max_requests must be greater than zero", r.ID)
	}

	return nil
}

type ProxyConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

type SessionConfig struct {
	AccessTokenMaxAge  time.Duration
	RefreshTokenMaxAge time.Duration
}

type BackendConfig struct {
	RefreshPath string
	LoginPath   string
	LogoutPath  string
}

type MetricConfig struct {
	Enabled bool
	Path    string
}

type Config struct {
	RateLimiters map[string]RateLimiterConfig
	Proxy        ProxyConfig
	Session      SessionConfig
	Backend      BackendConfig
	Metrics      MetricConfig
}

// RateLimiterIDs returns the configured policy ids in a stable order.
func (c *Config) RateLimiterIDs() []string {
	ids := make([]string, 0, len(c.RateLimiters))
	for id := range c.RateLimiters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rate_limits", map[string]any{
		ProxyRateLimiterKey: map[string]any{
			"window_ms":    defaultWindowMs,
			"max_requests": defaultProxyMaxRequests,
		},
		ExternalRateLimiterKey: map[string]any{
			"window_ms":    defaultWindowMs,
			"max_requests": defaultExternalMaxReqs,
		},
	})
	v.SetDefault("proxy.timeout_ms", defaultTimeoutMs)
	v.SetDefault("proxy.max_body_bytes", defaultMaxBodyBytes)
	v.SetDefault("session.access_token_max_age", defaultAccessTokenMaxAge)
	v.SetDefault("session.refresh_token_max_age", defaultRefreshTokenAge)
	v.SetDefault("backend.refresh_path", "/api/auth/refresh")
	v.SetDefault("backend.login_path", "/api/auth/login")
	v.SetDefault("backend.logout_path", "/api/auth/logout")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func validatePath(name, value string) error {
	if !strings.HasPrefix(value, "/") {
		return fmt.Errorf("%w: %s must start with '/'", RawConfigStructValidationErr, name)
	}
	return nil
}

func parseRawConfig(rc *rawConfig) (*Config, error) {
	rateLimiters := make(map[string]RateLimiterConfig, len(rc.RateLimits))
	for id, raw := range rc.RateLimits {
		rl := RateLimiterConfig{
			ID:          id,
			Window:      time.Duration(raw.WindowMs) * time.Millisecond,
			MaxRequests: raw.MaxRequests,
		}
		if err := rl.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", RawConfigStructValidationErr, err)
		}
		rateLimiters[id] = rl
	}

	if _, ok := rateLimiters[ProxyRateLimiterKey]; !ok {
		return nil, fmt.Errorf("%w: rate_limits.%s is required", RawConfigStructValidationErr, ProxyRateLimiterKey)
	}

	if rc.Proxy.TimeoutMs <= 0 {
		return nil, fmt.Errorf("%w: proxy.timeout_ms must be greater than zero", RawConfigStructValidationErr)
	}

	if rc.Proxy.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("%w: proxy.max_body_bytes must be greater than zero", RawConfigStructValidationErr)
	}

	if rc.Session.AccessTokenMaxAge <= 0 || rc.Session.RefreshTokenMaxAge <= 0 {
		return nil, fmt.Errorf("%w: session token max ages must be greater than zero", RawConfigStructValidationErr)
	}

	for name, value := range map[string]string{
		"backend.refresh_path": rc.Backend.RefreshPath,
		"backend.login_path":   rc.Backend.LoginPath,
		"backend.logout_path":  rc.Backend.LogoutPath,
	} {
		if err := validatePath(name, value); err != nil {
			return nil, err
		}
	}

	if rc.Metrics.Path == "" {
		return nil, fmt.Errorf("%w: metrics path could not be empty", RawConfigStructValidationErr)
	}

	return &Config{
		RateLimiters: rateLimiters,
		Proxy: ProxyConfig{
			Timeout:      time.Duration(rc.Proxy.TimeoutMs) * time.Millisecond,
			MaxBodyBytes: rc.Proxy.MaxBodyBytes,
		},
		Session: SessionConfig{
			AccessTokenMaxAge:  time.Duration(rc.Session.AccessTokenMaxAge) * time.Second,
			RefreshTokenMaxAge: time.Duration(rc.Session.RefreshTokenMaxAge) * time.Second,
		},
		Backend: BackendConfig{
			RefreshPath: rc.Backend.RefreshPath,
			LoginPath:   rc.Backend.LoginPath,
			LogoutPath:  rc.Backend.LogoutPath,
		},
		Metrics: MetricConfig{
			Enabled: rc.Metrics.Enabled,
			Path:    rc.Metrics.Path,
		},
	}, nil
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var rc rawConfig
	if err := v.Unmarshal(&rc); err != nil {
		log.Fatalf("Could not decode default config err: %v", err)
	}

	cfg, err := parseRawConfig(&rc)
	if err != nil {
		log.Fatalf("Could not build default config err: %v", err)
	}
	return cfg
}

func newConfig(path string) (*Config, error) {
	slog.Info("loading config", "path", path)
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %v", FileReadErr, err)
	}

	var rc rawConfig
	if err := v.Unmarshal(&rc); err != nil {
		return nil, fmt.Errorf("%w: %v", RawConfigStructValidationErr, err)
	}

	return parseRawConfig(&rc)
}

var (
	once           sync.Once
	configInstance *Config
)

func GetConfig() *Config {
	once.Do(func() {
		var err error
		configInstance, err = newConfig(env.GetEnv().ConfigFile)
		if err != nil {
			log.Fatalf("Could not create new config err: %v", err)
		}
	})
	return configInstance
}
