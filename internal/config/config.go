// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/kai/internal/llm"
	"github.com/jeranaias/kai/internal/provider"
	"github.com/jeranaias/kai/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete kai configuration.
type Config struct {
	// DataDir holds the settings database, the conversation blob and logs.
	DataDir string `toml:"data_dir"`

	// RequestTimeout is the fixed per-request timeout for provider calls.
	RequestTimeout Duration `toml:"request_timeout"`

	// ModelCacheTTL controls how long model listings are reused.
	ModelCacheTTL Duration `toml:"model_cache_ttl"`

	Log       LogConfig                 `toml:"log"`
	Settings  SettingsConfig            `toml:"settings"`
	Providers map[string]ProviderConfig `toml:"providers"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `toml:"level"`

	// File is relative to DataDir unless absolute. "off" disables it.
	File string `toml:"file"`

	Console bool `toml:"console"`
}

// SettingsConfig selects the settings and secret backends.
type SettingsConfig struct {
	// Backend is "sqlite" (persistent) or "memory" (ephemeral).
	Backend string `toml:"backend"`

	// Secrets is "settings" (API keys live in the settings store) or
	// "keyring" (OS keychain).
	Secrets string `toml:"secrets"`
}

// ProviderConfig overrides per-provider transport behaviour.
type ProviderConfig struct {
	BaseURL           string `toml:"base_url"`
	RequestsPerMinute *int   `toml:"requests_per_minute"`
}

// Duration wraps time.Duration so TOML files can say "30s".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	SecretsSettings = "settings"
	SecretsKeyring  = "keyring"

	// LogOff disables the log file.
	LogOff = "off"

	settingsDBName = "settings.db"
	historyName    = "conversations.bin"
	keyringDirName = "keyring"
	dotEnvName     = ".env"
)

// Default returns the built-in configuration. DataDir is resolved by
// fillDefaults since it depends on the environment.
func Default() *Config {
	return &Config{
		RequestTimeout: Duration{llm.DefaultTimeout},
		ModelCacheTTL:  Duration{llm.DefaultModelCacheTTL},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join("logs", "kai.log"),
		},
		Settings: SettingsConfig{
			Backend: BackendSQLite,
			Secrets: SecretsSettings,
		},
		Providers: map[string]ProviderConfig{},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the kai configuration directory. KAI_HOME overrides the
// default of ~/.kai.
func ConfigDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("KAI_HOME")); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".kai"), nil
}

// ConfigPath returns the path to config.toml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir creates the configuration directory.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// SettingsDBPath is the SQLite settings database.
func (c *Config) SettingsDBPath() string {
	return filepath.Join(c.DataDir, settingsDBName)
}

// HistoryPath is the encrypted conversation blob.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, historyName)
}

// KeyringDir is used by the file fallback of the OS keyring.
func (c *Config) KeyringDir() string {
	return filepath.Join(c.DataDir, keyringDirName)
}

// LogPath returns the resolved log file, or "" when file logging is off.
func (c *Config) LogPath() string {
	f := strings.TrimSpace(c.Log.File)
	if f == "" || strings.EqualFold(f, LogOff) {
		return ""
	}
	if filepath.IsAbs(f) {
		return f
	}
	return filepath.Join(c.DataDir, f)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file. A missing file yields the defaults.
// A .env file in the config directory is loaded first; variables already
// present in the environment win over it.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	LoadDotEnv(filepath.Join(filepath.Dir(path), dotEnvName), dotEnvName)
	return LoadFromPath(path)
}

// LoadFromPath reads path, applies environment overrides, fills defaults and
// validates. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := fillDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes path into cfg. Keys absent from the file keep the values
// already in cfg.
func LoadTOML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads the first existing dotenv file among paths. Missing
// files are ignored.
func LoadDotEnv(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err == nil {
			return true
		}
	}
	return false
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.DataDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return err
		}
		cfg.DataDir = dir
	}
	if cfg.RequestTimeout.Duration == 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.ModelCacheTTL.Duration == 0 {
		cfg.ModelCacheTTL = defaults.ModelCacheTTL
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Settings.Backend == "" {
		cfg.Settings.Backend = defaults.Settings.Backend
	}
	if cfg.Settings.Secrets == "" {
		cfg.Settings.Secrets = defaults.Settings.Secrets
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.RequestTimeout.Duration <= 0 {
		add("request_timeout", "must be positive, got %s", c.RequestTimeout)
	}
	if c.ModelCacheTTL.Duration < 0 {
		add("model_cache_ttl", "cannot be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}

	switch strings.ToLower(c.Settings.Backend) {
	case BackendSQLite, BackendMemory:
	default:
		add("settings.backend", "invalid backend '%s', must be one of: sqlite, memory", c.Settings.Backend)
	}
	switch strings.ToLower(c.Settings.Secrets) {
	case SecretsSettings, SecretsKeyring:
	default:
		add("settings.secrets", "invalid secrets store '%s', must be one of: settings, keyring", c.Settings.Secrets)
	}

	registry := provider.Default()
	for _, id := range c.providerIDs() {
		pc := c.Providers[id]
		field := "providers." + id
		if _, ok := registry.Lookup(id); !ok {
			add(field, "unknown provider, must be one of: %s", strings.Join(registry.IDs(), ", "))
			continue
		}
		if pc.BaseURL != "" {
			u, err := url.Parse(pc.BaseURL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add(field+".base_url", "must be an absolute http(s) URL, got '%s'", pc.BaseURL)
			}
		}
		if pc.RequestsPerMinute != nil && *pc.RequestsPerMinute < 0 {
			add(field+".requests_per_minute", "cannot be negative")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) providerIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies KAI_* environment variables:
//   - KAI_DATA_DIR: overrides data_dir
//   - KAI_REQUEST_TIMEOUT: overrides request_timeout ("45s")
//   - KAI_MODEL_CACHE_TTL: overrides model_cache_ttl
//   - KAI_LOG_LEVEL, KAI_LOG_FILE, KAI_LOG_CONSOLE: override [log]
//   - KAI_SETTINGS_BACKEND, KAI_SECRETS: override [settings]
//   - KAI_<PROVIDER>_BASE_URL: overrides providers.<id>.base_url
//
// Unparseable durations and booleans are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("KAI_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("KAI_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = Duration{d}
		}
	}
	if v := os.Getenv("KAI_MODEL_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ModelCacheTTL = Duration{d}
		}
	}
	if v := os.Getenv("KAI_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("KAI_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("KAI_LOG_CONSOLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Log.Console = b
		}
	}
	if v := os.Getenv("KAI_SETTINGS_BACKEND"); v != "" {
		c.Settings.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("KAI_SECRETS"); v != "" {
		c.Settings.Secrets = strings.ToLower(v)
	}

	for _, id := range provider.Default().IDs() {
		v := os.Getenv("KAI_" + strings.ToUpper(id) + "_BASE_URL")
		if v == "" {
			continue
		}
		if c.Providers == nil {
			c.Providers = map[string]ProviderConfig{}
		}
		pc := c.Providers[id]
		pc.BaseURL = v
		c.Providers[id] = pc
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	data, err := cfg.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return util.AtomicWriteFile(path, data, 0600)
}

// Encode renders cfg as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# kai configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// String returns the TOML form, or the error text.
func (c *Config) String() string {
	data, err := c.Encode()
	if err != nil {
		return err.Error()
	}
	return string(data)
}

// =============================================================================
// WIRING HELPERS
// =============================================================================

// Registry applies configured base URLs to the built-in provider catalog.
func (c *Config) Registry() *provider.Registry {
	r := provider.Default()
	for _, id := range c.providerIDs() {
		if base := c.Providers[id].BaseURL; base != "" {
			r = r.WithBaseURL(id, base)
		}
	}
	return r
}

// RequestsPerMinute merges configured pacing with the request layer
// defaults. An explicit zero disables pacing for that provider.
func (c *Config) RequestsPerMinute() map[string]int {
	rpm := make(map[string]int, len(llm.DefaultRequestsPerMinute))
	for id, n := range llm.DefaultRequestsPerMinute {
		rpm[id] = n
	}
	for id, pc := range c.Providers {
		if pc.RequestsPerMinute != nil {
			rpm[id] = *pc.RequestsPerMinute
		}
	}
	return rpm
}

// LLMOptions builds request layer options from cfg.
func (c *Config) LLMOptions(registry *provider.Registry) llm.Options {
	return llm.Options{
		Registry:          registry,
		Timeout:           c.RequestTimeout.Duration,
		ModelCacheTTL:     c.ModelCacheTTL.Duration,
		RequestsPerMinute: c.RequestsPerMinute(),
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for id, pc := range c.Providers {
		if pc.RequestsPerMinute != nil {
			n := *pc.RequestsPerMinute
			pc.RequestsPerMinute = &n
		}
		out.Providers[id] = pc
	}
	return &out
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first use.
// Load failures fall back to defaults with a warning on stderr.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			_ = fillDefaults(cfg)
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal replaces the global configuration.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
