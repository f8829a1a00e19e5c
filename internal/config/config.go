// Package config loads and validates the engine configuration from JSON
// or YAML files, with environment variable substitution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Command  CommandConfig  `json:"command" yaml:"command"`
	Media    MediaConfig    `json:"media" yaml:"media"`
	Contacts ContactsConfig `json:"contacts" yaml:"contacts"`
}

type GeneralConfig struct {
	// SelfID is this account's canonical identifier; messages authored by
	// it are not dispatched as commands.
	SelfID    string `json:"selfId" yaml:"selfId"`
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	BusBuffer int    `json:"busBuffer" yaml:"busBuffer"`
	// MetricsAddr serves the metrics exposition endpoint when set,
	// e.g. "127.0.0.1:9090".
	MetricsAddr string `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`
}

type CacheConfig struct {
	// HighWater triggers eviction when a chat exceeds this many messages.
	HighWater int `json:"highWater" yaml:"highWater"`
	// RetainCount is how many recent messages survive an eviction.
	RetainCount int `json:"retainCount" yaml:"retainCount"`
}

type CommandConfig struct {
	// Prefixes are matched literally at the start of message text.
	Prefixes []string `json:"prefixes" yaml:"prefixes"`
	// Patterns are regular expression alternatives tried after Prefixes.
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	NoPrefix bool     `json:"noPrefix" yaml:"noPrefix"`
}

type MediaConfig struct {
	MaxBytes            int64  `json:"maxBytes" yaml:"maxBytes"`
	FetchTimeoutSeconds int    `json:"fetchTimeoutSeconds" yaml:"fetchTimeoutSeconds"`
	PlaceholderPath     string `json:"placeholderPath,omitempty" yaml:"placeholderPath,omitempty"`
	StickerPackName     string `json:"stickerPackName,omitempty" yaml:"stickerPackName,omitempty"`
	StickerAuthor       string `json:"stickerAuthor,omitempty" yaml:"stickerAuthor,omitempty"`
}

type ContactsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			BusBuffer: 100,
		},
		Cache: CacheConfig{
			HighWater:   40,
			RetainCount: 10,
		},
		Command: CommandConfig{
			Prefixes: []string{"!", "."},
		},
		Media: MediaConfig{
			MaxBytes:            2_000_000_000,
			FetchTimeoutSeconds: 30,
		},
		Contacts: ContactsConfig{
			Enabled: true,
			DBPath:  "~/.wabot/contacts.db",
		},
	}
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabot"
	}
	return filepath.Join(home, ".wabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file, substituting environment variables and applying
// defaults for absent keys. The format is chosen by file extension: .yaml
// and .yml parse as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Contacts.DBPath = expandPath(cfg.Contacts.DBPath)
	cfg.Media.PlaceholderPath = expandPath(cfg.Media.PlaceholderPath)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes the config as indented JSON, creating the directory if needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Cache.HighWater < 1 {
		errs = append(errs, "cache.highWater must be at least 1")
	}
	if cfg.Cache.RetainCount < 1 {
		errs = append(errs, "cache.retainCount must be at least 1")
	}
	if cfg.Cache.RetainCount > cfg.Cache.HighWater {
		errs = append(errs, "cache.retainCount must not exceed cache.highWater")
	}
	if cfg.Media.MaxBytes < 1 {
		errs = append(errs, "media.maxBytes must be positive")
	}
	if cfg.Media.FetchTimeoutSeconds < 1 {
		errs = append(errs, "media.fetchTimeoutSeconds must be positive")
	}
	if cfg.General.BusBuffer < 1 {
		errs = append(errs, "general.busBuffer must be positive")
	}
	if !cfg.Command.NoPrefix && len(cfg.Command.Prefixes) == 0 && len(cfg.Command.Patterns) == 0 {
		errs = append(errs, "command needs prefixes or patterns unless noPrefix is set")
	}
	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, fmt.Sprintf("general.logLevel %q is not one of debug, info, warn, error", cfg.General.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
