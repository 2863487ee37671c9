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
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bhassurance/assurbot/internal/util"
	"github.com/goccy/go-json"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete assurbot configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	API      APIConfig      `toml:"api" json:"api"`
	Identity IdentityConfig `toml:"identity" json:"identity"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	UI       UIConfig       `toml:"ui" json:"ui"`
	Log      LogConfig      `toml:"log" json:"log"`
}

// APIConfig configures the backend transport.
type APIConfig struct {
	// BaseURL is the backend root, e.g. http://localhost:8000.
	BaseURL string `toml:"base_url" json:"base_url"`

	TimeoutSecs int    `toml:"timeout_secs" json:"timeout_secs"`
	UserAgent   string `toml:"user_agent" json:"user_agent"`

	// MaxAttempts bounds retries of transient failures. The default of 1
	// sends each request once.
	MaxAttempts   int `toml:"max_attempts" json:"max_attempts"`
	BackoffBaseMS int `toml:"backoff_base_ms" json:"backoff_base_ms"`
	BackoffMaxMS  int `toml:"backoff_max_ms" json:"backoff_max_ms"`

	// Outbound throttle. RequestsPerSecond <= 0 disables it.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`
}

// IdentityConfig configures credential persistence.
type IdentityConfig struct {
	CredentialsPath string `toml:"credentials_path" json:"credentials_path"`
	// Watch reloads the credential when another process rewrites the file.
	Watch bool `toml:"watch" json:"watch"`
}

// StorageConfig configures the local history database.
type StorageConfig struct {
	DatabasePath string `toml:"database_path" json:"database_path"`
	HistoryLimit int    `toml:"history_limit" json:"history_limit"`
}

// UIConfig configures the terminal interface.
type UIConfig struct {
	Theme       string `toml:"theme" json:"theme"`
	CompactMode bool   `toml:"compact_mode" json:"compact_mode"`
	Locale      string `toml:"locale" json:"locale"`
}

// LogConfig configures the log sink.
type LogConfig struct {
	Path  string `toml:"path" json:"path"`
	Level string `toml:"level" json:"level"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultBaseURL      = "http://localhost:8000"
	DefaultTimeoutSecs  = 30
	DefaultMaxAttempts  = 1
	DefaultHistoryLimit = 50
)

// Default returns a configuration with every field set. Paths are left
// empty; SetDefaults resolves them against ConfigDir.
func Default() *Config {
	return &Config{
		Version: "1",
		API: APIConfig{
			BaseURL:           DefaultBaseURL,
			TimeoutSecs:       DefaultTimeoutSecs,
			UserAgent:         "assurbot",
			MaxAttempts:       DefaultMaxAttempts,
			BackoffBaseMS:     500,
			BackoffMaxMS:      8000,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Identity: IdentityConfig{
			Watch: true,
		},
		Storage: StorageConfig{
			HistoryLimit: DefaultHistoryLimit,
		},
		UI: UIConfig{
			Theme:  "auto",
			Locale: "fr",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the assurbot configuration directory. ASSURBOT_HOME
// overrides the default ~/.assurbot.
func ConfigDir() (string, error) {
	if dir := os.Getenv("ASSURBOT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".assurbot"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads config.toml, then config.json, then falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(tomlPath); statErr == nil {
		return LoadFromPath(tomlPath)
	}

	jsonPath, err := ConfigPathJSON()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(jsonPath); statErr == nil {
		return LoadFromPath(jsonPath)
	}

	cfg := Default()
	return cfg, cfg.finish()
}

// LoadFromPath loads configuration from a specific file. The format follows
// the extension; anything but .json is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config %s: %w", path, err)
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	}

	return cfg, cfg.finish()
}

func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	if err := c.SetDefaults(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SetDefaults fills zero values and resolves relative file locations
// against ConfigDir.
func (c *Config) SetDefaults() error {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = d.API.TimeoutSecs
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = d.API.UserAgent
	}
	if c.API.MaxAttempts == 0 {
		c.API.MaxAttempts = d.API.MaxAttempts
	}
	if c.API.BackoffBaseMS == 0 {
		c.API.BackoffBaseMS = d.API.BackoffBaseMS
	}
	if c.API.BackoffMaxMS == 0 {
		c.API.BackoffMaxMS = d.API.BackoffMaxMS
	}
	if c.Storage.HistoryLimit == 0 {
		c.Storage.HistoryLimit = d.Storage.HistoryLimit
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.UI.Locale == "" {
		c.UI.Locale = d.UI.Locale
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}

	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	c.Identity.CredentialsPath = resolvePath(dir, c.Identity.CredentialsPath, "credentials.json")
	c.Storage.DatabasePath = resolvePath(dir, c.Storage.DatabasePath, "assurbot.db")
	c.Log.Path = resolvePath(dir, c.Log.Path, "assurbot.log")
	return nil
}

func resolvePath(dir, path, fallback string) string {
	if path == "" {
		return filepath.Join(dir, fallback)
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	// DSNs (postgres://, file:) pass through untouched.
	if strings.Contains(path, "://") || strings.HasPrefix(path, "file:") || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// ApplyEnvOverrides applies ASSURBOT_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ASSURBOT_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("ASSURBOT_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.API.TimeoutSecs = secs
		}
	}
	if v := os.Getenv("ASSURBOT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ASSURBOT_CREDENTIALS"); v != "" {
		c.Identity.CredentialsPath = v
	}
	if v := os.Getenv("ASSURBOT_DB"); v != "" {
		c.Storage.DatabasePath = v
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML location.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# assurbot configuration file\n")
	buf.WriteString("# Generated by assurbot - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
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
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.API.BaseURL),
		})
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{Field: "api.timeout_secs", Message: "must be between 1 and 600"})
	}
	if c.API.MaxAttempts < 1 || c.API.MaxAttempts > 10 {
		errs = append(errs, ValidationError{Field: "api.max_attempts", Message: "must be between 1 and 10"})
	}
	if c.API.BackoffBaseMS < 0 || c.API.BackoffMaxMS < c.API.BackoffBaseMS {
		errs = append(errs, ValidationError{Field: "api.backoff_max_ms", Message: "must be >= api.backoff_base_ms"})
	}
	if c.API.RequestsPerSecond > 0 && c.API.Burst < 1 {
		errs = append(errs, ValidationError{Field: "api.burst", Message: "must be >= 1 when throttling is enabled"})
	}
	if c.Storage.HistoryLimit < 1 {
		errs = append(errs, ValidationError{Field: "storage.history_limit", Message: "must be >= 1"})
	}
	switch strings.ToLower(c.UI.Theme) {
	case "auto", "dark", "light":
	default:
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: auto, dark, light", c.UI.Theme),
		})
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Timeout returns the per-request timeout.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// BackoffBase returns the first retry delay.
func (a APIConfig) BackoffBase() time.Duration {
	return time.Duration(a.BackoffBaseMS) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (a APIConfig) BackoffMax() time.Duration {
	return time.Duration(a.BackoffMaxMS) * time.Millisecond
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value using dot notation (e.g. "api.base_url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value using dot notation. String input is converted to the
// field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts snake_case or kebab-case to a Go field name.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(strings.ToLower(part[1:]))
	}
	return b.String()
}

func setFieldValue(field reflect.Value, value interface{}) error {
	if s, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(s)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			b, err := strconv.ParseBool(strings.ToLower(s))
			if err != nil {
				b = strings.EqualFold(s, "yes") || strings.EqualFold(s, "oui")
			}
			field.SetBool(b)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	return []string{
		"version",
		"api.base_url",
		"api.timeout_secs",
		"api.user_agent",
		"api.max_attempts",
		"api.backoff_base_ms",
		"api.backoff_max_ms",
		"api.requests_per_second",
		"api.burst",
		"identity.credentials_path",
		"identity.watch",
		"storage.database_path",
		"storage.history_limit",
		"ui.theme",
		"ui.compact_mode",
		"ui.locale",
		"log.path",
		"log.level",
	}
}

// String renders the config as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
