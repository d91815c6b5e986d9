// Package config handles opbridge configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Assistant providers.
const (
	ProviderBackboard = "backboard"
	ProviderOpenAI    = "openai"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/opbridge/config.yaml, /etc/opbridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "opbridge", "config.yaml"))
	}

	paths = append(paths, "/etc/opbridge/config.yaml")
	return paths
}

// ErrNoConfig is returned by [FindConfig] when no file exists on any of
// the search paths. Callers fall back to [Default] in that case.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all opbridge configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Assistant   AssistantConfig   `yaml:"assistant"`
	OpenProject OpenProjectConfig `yaml:"openproject"`
	GitHub      GitHubConfig      `yaml:"github"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	CORS        CORSConfig        `yaml:"cors"`

	// DataDir holds the tool-call usage database. Empty disables the
	// usage store.
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AssistantConfig selects and configures the hosted assistant service.
type AssistantConfig struct {
	// Provider is "backboard" (default) or "openai".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	// BaseURL overrides the provider's API root. Mostly useful for tests
	// and self-hosted gateways.
	BaseURL     string `yaml:"base_url"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Model is only consulted by the openai provider.
	Model string `yaml:"model"`
	// PollIntervalMs is how often the openai provider polls a run.
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// OpenProjectConfig points at the OpenProject instance tools act on.
type OpenProjectConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Configured reports whether OpenProject tools can be registered.
func (c OpenProjectConfig) Configured() bool {
	return c.URL != "" && c.APIKey != ""
}

// GitHubConfig configures the read-only repository tools.
type GitHubConfig struct {
	// Enabled turns the GitHub tools on. A token is optional; without
	// one requests are unauthenticated and heavily rate limited.
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	// URL is the API base URL for GitHub Enterprise. Empty means
	// https://api.github.com.
	URL string `yaml:"url"`
}

// DispatchConfig bounds the tool-call dispatch loop.
type DispatchConfig struct {
	// TimeoutSec is how long an HTTP caller waits for a reply.
	TimeoutSec int `yaml:"timeout_sec"`
	// QueueSize caps pending turns waiting for the worker.
	QueueSize int `yaml:"queue_size"`
	// MaxIterations caps tool-output submissions per inbound message.
	MaxIterations int `yaml:"max_iterations"`
	// SearchCooldownMs is the pause after each successful code search.
	SearchCooldownMs int `yaml:"search_cooldown_ms"`
}

// Timeout returns TimeoutSec as a duration.
func (c DispatchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// SearchCooldown returns SearchCooldownMs as a duration.
func (c DispatchConfig) SearchCooldown() time.Duration {
	return time.Duration(c.SearchCooldownMs) * time.Millisecond
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads configuration from a YAML file. Values not present in the
// file keep their [Default] values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		Assistant: AssistantConfig{
			Provider:       ProviderBackboard,
			Name:           "Project Assistant",
			Description:    "An assistant that can help with project management tasks.",
			Model:          "gpt-4o",
			PollIntervalMs: 500,
		},
		Dispatch: DispatchConfig{
			TimeoutSec:       120,
			QueueSize:        32,
			MaxIterations:    16,
			SearchCooldownMs: 1000,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"https://openproject.chiem.me"},
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadDotEnv loads a .env file from the working directory into the
// process environment. Variables already set are left alone. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv fills unset secrets and endpoints from the environment.
// Values from the config file take precedence.
func (c *Config) ApplyEnv() {
	setIfEmpty := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	switch c.Assistant.Provider {
	case ProviderOpenAI:
		setIfEmpty(&c.Assistant.APIKey, "OPENAI_API_KEY")
	default:
		setIfEmpty(&c.Assistant.APIKey, "BACKBOARD_API_KEY")
	}
	setIfEmpty(&c.OpenProject.APIKey, "OPENPROJECT_API_KEY")
	setIfEmpty(&c.OpenProject.URL, "OPENPROJECT_URL")
	setIfEmpty(&c.GitHub.Token, "GITHUB_TOKEN")

	// A token in the environment is enough to turn the tools on.
	if c.GitHub.Token != "" {
		c.GitHub.Enabled = true
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Assistant.Provider {
	case ProviderBackboard, ProviderOpenAI:
	default:
		return fmt.Errorf("assistant.provider %q: must be %q or %q",
			c.Assistant.Provider, ProviderBackboard, ProviderOpenAI)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d: out of range", c.Listen.Port)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q: must be text or json", c.LogFormat)
	}
	if c.Dispatch.TimeoutSec <= 0 {
		return fmt.Errorf("dispatch.timeout_sec must be positive")
	}
	if c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch.queue_size must be positive")
	}
	if c.Dispatch.MaxIterations <= 0 {
		return fmt.Errorf("dispatch.max_iterations must be positive")
	}
	if c.Dispatch.SearchCooldownMs < 0 {
		return fmt.Errorf("dispatch.search_cooldown_ms must not be negative")
	}
	if c.OpenProject.URL != "" && !strings.HasPrefix(c.OpenProject.URL, "http") {
		return fmt.Errorf("openproject.url %q: must be an http(s) URL", c.OpenProject.URL)
	}
	return nil
}
