// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigsync.
//
// Configuration file location (in order of precedence):
//   - Environment variables (RIGSYNC_*)
//   - ~/.rigsync/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
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

	"github.com/jeranaias/rigsync/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigsync configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server    ServerConfig    `toml:"server" json:"server"`
	Transport TransportConfig `toml:"transport" json:"transport"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Log       LogConfig       `toml:"log" json:"log"`
	UI        UIConfig        `toml:"ui" json:"ui"`
}

// ServerConfig locates the conversation server.
type ServerConfig struct {
	// URL is the HTTP(S) base URL of the REST API.
	URL string `toml:"url" json:"url"`
	// SocketURL is the websocket endpoint. Derived from URL when empty.
	SocketURL string `toml:"socket_url" json:"socket_url"`
	// Token is the bearer token for REST and websocket requests.
	Token string `toml:"token" json:"token"`
	// RequestTimeoutSecs bounds each REST request.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
	// MaxRetries is the retry budget for 429 and 5xx responses.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
}

// TransportConfig controls the reconnect cycle.
type TransportConfig struct {
	InitialDelayMs int `toml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelayMs     int `toml:"max_delay_ms" json:"max_delay_ms"`
	// RefreshSession consults the refresh endpoint before each reconnect.
	RefreshSession bool `toml:"refresh_session" json:"refresh_session"`
}

// StorageConfig controls the local message archive.
type StorageConfig struct {
	ArchiveEnabled bool   `toml:"archive_enabled" json:"archive_enabled"`
	ArchivePath    string `toml:"archive_path" json:"archive_path"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// Console selects human-readable output instead of structured lines.
	Console bool `toml:"console" json:"console"`
	// File, when set, receives log output instead of stderr.
	File string `toml:"file" json:"file"`
}

// UIConfig contains REPL settings.
type UIConfig struct {
	// HistoryFile stores prompt history between sessions.
	HistoryFile string `toml:"history_file" json:"history_file"`
	// ShowThinking prints thinking blocks.
	ShowThinking bool `toml:"show_thinking" json:"show_thinking"`
	// ShowTools prints tool call blocks and their traces.
	ShowTools bool `toml:"show_tools" json:"show_tools"`
	// PreviewLength truncates message previews in listings.
	PreviewLength int `toml:"preview_length" json:"preview_length"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			URL:                "http://localhost:8080",
			RequestTimeoutSecs: 30,
			MaxRetries:         3,
		},
		Transport: TransportConfig{
			InitialDelayMs: 1000,
			MaxDelayMs:     30000,
			RefreshSession: true,
		},
		Storage: StorageConfig{
			ArchiveEnabled: true,
			ArchivePath:    filepath.Join(defaultDir(), "archive.db"),
		},
		Log: LogConfig{
			Level: "info",
		},
		UI: UIConfig{
			HistoryFile:   filepath.Join(defaultDir(), "history"),
			ShowThinking:  false,
			ShowTools:     true,
			PreviewLength: 60,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

func defaultDir() string {
	dir, err := ConfigDir()
	if err != nil {
		return ".rigsync"
	}
	return dir
}

// ConfigDir returns the rigsync configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigsync"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions narrows config files to 0600; they hold tokens.
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

// Load reads ~/.rigsync/config.toml when present, falling back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes path over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file with validation.
// Fields absent from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigsync configuration file\n")
	buf.WriteString("# Generated by rigsync - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var validLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration and returns ValidateErrors when invalid.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validateURL(c.Server.URL, "http", "https"); err != nil {
		errs = append(errs, ValidationError{Field: "server.url", Message: err.Error()})
	}
	if c.Server.SocketURL != "" {
		if err := validateURL(c.Server.SocketURL, "ws", "wss"); err != nil {
			errs = append(errs, ValidationError{Field: "server.socket_url", Message: err.Error()})
		}
	}
	if c.Server.RequestTimeoutSecs < 1 || c.Server.RequestTimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "server.request_timeout_secs",
			Message: fmt.Sprintf("must be between 1 and 600, got %d", c.Server.RequestTimeoutSecs),
		})
	}
	if c.Server.MaxRetries < 0 || c.Server.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "server.max_retries",
			Message: fmt.Sprintf("must be between 0 and 10, got %d", c.Server.MaxRetries),
		})
	}

	if c.Transport.InitialDelayMs < 1 {
		errs = append(errs, ValidationError{
			Field:   "transport.initial_delay_ms",
			Message: fmt.Sprintf("must be positive, got %d", c.Transport.InitialDelayMs),
		})
	}
	if c.Transport.MaxDelayMs < c.Transport.InitialDelayMs {
		errs = append(errs, ValidationError{
			Field: "transport.max_delay_ms",
			Message: fmt.Sprintf("must be at least transport.initial_delay_ms (%d), got %d",
				c.Transport.InitialDelayMs, c.Transport.MaxDelayMs),
		})
	}

	if c.Storage.ArchiveEnabled && c.Storage.ArchivePath == "" {
		errs = append(errs, ValidationError{Field: "storage.archive_path", Message: "required when archive is enabled"})
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: trace, debug, info, warn, error", c.Log.Level),
		})
	}

	if c.UI.PreviewLength < 10 {
		errs = append(errs, ValidationError{
			Field:   "ui.preview_length",
			Message: fmt.Sprintf("must be at least 10, got %d", c.UI.PreviewLength),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return errors.New("missing host")
			}
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s, got '%s'", strings.Join(schemes, ", "), u.Scheme)
}

// SetDefaults fills zero values that would otherwise fail validation.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Server.URL == "" {
		c.Server.URL = defaults.Server.URL
	}
	if c.Server.RequestTimeoutSecs == 0 {
		c.Server.RequestTimeoutSecs = defaults.Server.RequestTimeoutSecs
	}
	if c.Transport.InitialDelayMs == 0 {
		c.Transport.InitialDelayMs = defaults.Transport.InitialDelayMs
	}
	if c.Transport.MaxDelayMs == 0 {
		c.Transport.MaxDelayMs = max(defaults.Transport.MaxDelayMs, c.Transport.InitialDelayMs)
	}
	if c.Storage.ArchivePath == "" {
		c.Storage.ArchivePath = defaults.Storage.ArchivePath
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.UI.PreviewLength == 0 {
		c.UI.PreviewLength = defaults.UI.PreviewLength
	}
}

// ApplyEnvOverrides applies environment variable overrides:
//   - RIGSYNC_SERVER_URL: overrides server.url
//   - RIGSYNC_SOCKET_URL: overrides server.socket_url
//   - RIGSYNC_TOKEN: overrides server.token
//   - RIGSYNC_ARCHIVE: "0"/"false" disables the archive, any other value is its path
//   - RIGSYNC_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGSYNC_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("RIGSYNC_SOCKET_URL"); v != "" {
		c.Server.SocketURL = v
	}
	if v := os.Getenv("RIGSYNC_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("RIGSYNC_ARCHIVE"); v != "" {
		switch strings.ToLower(v) {
		case "0", "false", "off", "no":
			c.Storage.ArchiveEnabled = false
		default:
			c.Storage.ArchiveEnabled = true
			c.Storage.ArchivePath = v
		}
	}
	if v := os.Getenv("RIGSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// WebsocketURL returns Server.SocketURL, or the /ws endpoint of Server.URL
// with the scheme mapped to ws or wss.
func (c *Config) WebsocketURL() string {
	if c.Server.SocketURL != "" {
		return c.Server.SocketURL
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// InitialDelay returns the first reconnect delay.
func (c *Config) InitialDelay() time.Duration {
	return time.Duration(c.Transport.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the reconnect delay ceiling.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Transport.MaxDelayMs) * time.Millisecond
}

// RequestTimeout returns the REST request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSecs) * time.Second
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "server.url").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "log.level").
func (c *Config) Set(key string, value any) error {
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

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from a value with string conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
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

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"server.url",
		"server.socket_url",
		"server.token",
		"server.request_timeout_secs",
		"server.max_retries",
		"transport.initial_delay_ms",
		"transport.max_delay_ms",
		"transport.refresh_session",
		"storage.archive_enabled",
		"storage.archive_path",
		"log.level",
		"log.console",
		"log.file",
		"ui.history_file",
		"ui.show_thinking",
		"ui.show_tools",
		"ui.preview_length",
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as JSON with the token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
