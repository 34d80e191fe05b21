// Package config loads, validates and saves the crispdesk configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
)

// Config is the root configuration for crispdesk.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Server       ServerConfig       `json:"server" envPrefix:"WEBHOOK_"`
	Crisp        CrispConfig        `json:"crisp" envPrefix:"CRISP_"`
	NLU          NLUConfig          `json:"nlu" envPrefix:"WIT_"`
	Dialog       DialogConfig       `json:"dialog"`
	Directory    DirectoryConfig    `json:"directory"`
	Metrics      MetricsConfig      `json:"metrics"`
	Transactions TransactionsConfig `json:"transactions"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" env:"LOG_LEVEL"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// ServerConfig configures the inbound webhook endpoint.
type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Path            string `json:"path"`
	Secret          string `json:"secret,omitempty" env:"SECRET"` // HMAC secret; empty disables verification
	SignatureHeader string `json:"signatureHeader,omitempty"`
}

// CrispConfig holds the plugin credentials used by the gateway.
type CrispConfig struct {
	APIBase           string  `json:"apiBase"`
	Identifier        string  `json:"identifier,omitempty" env:"IDENTIFIER"`
	Key               string  `json:"key,omitempty" env:"KEY"`
	Tier              string  `json:"tier"` // "plugin" | "user"
	WebsiteID         string  `json:"websiteId,omitempty" env:"WEBSITE_ID"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	MaxRetries        int     `json:"maxRetries"`
	TimeoutSeconds    int     `json:"timeoutSeconds"`
}

// NLUConfig configures the optional external intent classifier.
type NLUConfig struct {
	Enabled       bool              `json:"enabled"`
	Provider      string            `json:"provider"` // "wit"
	APIBase       string            `json:"apiBase"`
	Token         string            `json:"token,omitempty" env:"TOKEN"`
	MinConfidence float64           `json:"minConfidence"`
	Labels        map[string]string `json:"labels,omitempty"` // NLU label -> menu key
}

// DialogConfig tunes classification and turn-taking.
type DialogConfig struct {
	FuzzyThreshold          int    `json:"fuzzyThreshold"`
	PollIntervalMillis      int    `json:"pollIntervalMillis"`
	AwaitTimeoutSeconds     int    `json:"awaitTimeoutSeconds"`
	LongAwaitTimeoutSeconds int    `json:"longAwaitTimeoutSeconds"`
	ExitKeyword             string `json:"exitKeyword"`
	CatalogPath             string `json:"catalogPath,omitempty"`
	DedupeTTLSeconds        int    `json:"dedupeTTLSeconds"`
	DedupeMaxEntries        int    `json:"dedupeMaxEntries"`
	OperatorID              string `json:"operatorId,omitempty"` // routing target; empty = the requesting participant
}

type DirectoryConfig struct {
	DBPath string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TransactionsConfig lists the notification formats the extractor accepts.
// Each pattern is a regular expression using named groups.
type TransactionsConfig struct {
	Patterns []string `json:"patterns,omitempty"`
}

func (d DialogConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMillis) * time.Millisecond
}

func (d DialogConfig) AwaitTimeout() time.Duration {
	return time.Duration(d.AwaitTimeoutSeconds) * time.Second
}

func (d DialogConfig) LongAwaitTimeout() time.Duration {
	return time.Duration(d.LongAwaitTimeoutSeconds) * time.Second
}

func (c CrispConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (d DialogConfig) DedupeTTL() time.Duration {
	return time.Duration(d.DedupeTTLSeconds) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.crispdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".crispdesk"
	}
	return filepath.Join(home, ".crispdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("cannot apply environment overrides: %w", err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Directory.DBPath = ExpandPath(cfg.Directory.DBPath)
	cfg.Dialog.CatalogPath = ExpandPath(cfg.Dialog.CatalogPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// EnvPrefix prefixes every environment override, e.g. CRISPDESK_CRISP_KEY.
const EnvPrefix = "CRISPDESK_"

// applyEnvOverrides lets secrets live outside the config file. Set variables
// take precedence over file values; unset ones leave the field untouched.
func (c *Config) applyEnvOverrides() error {
	return env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix})
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
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := marshalIndent(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		errs = append(errs, "server.path must start with /")
	}

	if cfg.Crisp.APIBase == "" {
		errs = append(errs, "crisp.apiBase is required")
	}
	switch cfg.Crisp.Tier {
	case "plugin", "user":
	default:
		errs = append(errs, "crisp.tier must be one of: plugin, user")
	}
	if cfg.Crisp.RequestsPerSecond <= 0 {
		errs = append(errs, "crisp.requestsPerSecond must be > 0")
	}
	if cfg.Crisp.MaxRetries < 0 || cfg.Crisp.MaxRetries > 10 {
		errs = append(errs, "crisp.maxRetries must be between 0 and 10")
	}
	if cfg.Crisp.TimeoutSeconds < 1 {
		errs = append(errs, "crisp.timeoutSeconds must be >= 1")
	}

	if cfg.NLU.Enabled {
		if cfg.NLU.Provider != "wit" {
			errs = append(errs, "nlu.provider must be: wit")
		}
		if cfg.NLU.Token == "" {
			errs = append(errs, "nlu.token is required when nlu is enabled")
		}
	}
	if cfg.NLU.MinConfidence < 0 || cfg.NLU.MinConfidence > 1 {
		errs = append(errs, "nlu.minConfidence must be between 0 and 1")
	}

	if cfg.Dialog.FuzzyThreshold < 0 {
		errs = append(errs, "dialog.fuzzyThreshold must be >= 0")
	}
	if cfg.Dialog.PollIntervalMillis < 50 || cfg.Dialog.PollIntervalMillis > 10000 {
		errs = append(errs, "dialog.pollIntervalMillis must be between 50 and 10000")
	}
	if cfg.Dialog.AwaitTimeoutSeconds < 1 {
		errs = append(errs, "dialog.awaitTimeoutSeconds must be >= 1")
	}
	if cfg.Dialog.LongAwaitTimeoutSeconds < 1 {
		errs = append(errs, "dialog.longAwaitTimeoutSeconds must be >= 1")
	}
	if strings.TrimSpace(cfg.Dialog.ExitKeyword) == "" {
		errs = append(errs, "dialog.exitKeyword must not be empty")
	}
	if cfg.Dialog.DedupeTTLSeconds < 1 {
		errs = append(errs, "dialog.dedupeTTLSeconds must be >= 1")
	}
	if cfg.Dialog.DedupeMaxEntries < 1 {
		errs = append(errs, "dialog.dedupeMaxEntries must be >= 1")
	}

	if cfg.Directory.DBPath == "" {
		errs = append(errs, "directory.dbPath is required")
	}

	for i, p := range cfg.Transactions.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Sprintf("transactions.patterns[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
