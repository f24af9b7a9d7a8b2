// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified settings loading and management for rigchat.
//
// Supports both TOML and JSON formats, with sensible defaults, environment
// variable overrides, and validation.
//
// Settings file locations (in order of precedence):
//   - ~/.rigchat/config.toml
//   - ~/.rigchat/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// SETTINGS STRUCTURES
// =============================================================================

// Settings is the complete rigchat configuration. The engine snapshots it by
// value at the start of every request, so all fields are plain value types.
type Settings struct {
	// Version of the settings schema, for future migrations.
	Version string `toml:"version" json:"version"`

	// Server holds the inference server connection settings.
	Server ServerSettings `toml:"server" json:"server"`

	// Sampling holds the generation parameters sent with each request.
	Sampling SamplingSettings `toml:"sampling" json:"sampling"`

	// Chat holds conversation-level behavior toggles.
	Chat ChatSettings `toml:"chat" json:"chat"`

	// Poll holds usage-polling cadence settings.
	Poll PollSettings `toml:"poll" json:"poll"`

	// Storage holds persistence paths.
	Storage StorageSettings `toml:"storage" json:"storage"`
}

// ServerSettings contains inference server connection settings.
type ServerSettings struct {
	// Endpoint is the raw server URL. It is normalized at request time, so
	// bare "host:port", "/v1" suffixed, and full completions URLs all work.
	Endpoint string `toml:"endpoint" json:"endpoint"`
	// APIKey is sent as a bearer token when non-empty.
	APIKey string `toml:"api_key" json:"api_key"`
	// Model is the model name included in every request body.
	Model string `toml:"model" json:"model"`
}

// SamplingSettings contains generation parameters. Temperature, TopP, TopK and
// MaxTokens go on the wire; the remaining knobs are kept for backends that
// read them from server-side presets.
type SamplingSettings struct {
	// Temperature controls randomness (0.0-2.0).
	Temperature float64 `toml:"temperature" json:"temperature"`
	// TopP is the nucleus sampling cutoff (0.0-1.0).
	TopP float64 `toml:"top_p" json:"top_p"`
	// TopK limits candidate tokens. 0 disables and is omitted from requests
	// (some backends reject unknown zero-valued fields).
	TopK int `toml:"top_k" json:"top_k"`
	// MinP is the minimum probability cutoff (0.0-1.0).
	MinP float64 `toml:"min_p" json:"min_p"`
	// RepetitionPenalty discourages verbatim repeats (1.0 = off).
	RepetitionPenalty float64 `toml:"repetition_penalty" json:"repetition_penalty"`
	// PresencePenalty penalizes tokens already present (-2.0-2.0).
	PresencePenalty float64 `toml:"presence_penalty" json:"presence_penalty"`
	// FrequencyPenalty penalizes tokens by frequency (-2.0-2.0).
	FrequencyPenalty float64 `toml:"frequency_penalty" json:"frequency_penalty"`
	// MaxTokens caps the response length.
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
}

// ChatSettings contains conversation-level behavior toggles.
type ChatSettings struct {
	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`
	// ContextCaching sends the session id with each request so the server
	// can key its KV cache, and enables usage polling.
	ContextCaching bool `toml:"context_caching" json:"context_caching"`
	// AutoTitle asks the model to name new sessions after the first turn.
	AutoTitle bool `toml:"auto_title" json:"auto_title"`
}

// PollSettings contains usage-polling cadence settings.
type PollSettings struct {
	// FastIntervalSecs is the poll interval for the active session.
	FastIntervalSecs int `toml:"fast_interval_secs" json:"fast_interval_secs"`
	// SlowIntervalSecs is the poll interval for background sessions.
	SlowIntervalSecs int `toml:"slow_interval_secs" json:"slow_interval_secs"`
	// FailureThreshold is the consecutive-failure count that suppresses a
	// poll loop until its next success.
	FailureThreshold int `toml:"failure_threshold" json:"failure_threshold"`
}

// StorageSettings contains persistence paths. Empty values resolve to files
// under the settings directory.
type StorageSettings struct {
	// Sessions is the session log file path (default ~/.rigchat/sessions.json).
	Sessions string `toml:"sessions" json:"sessions"`
	// Blobs is the attachment blob database path (default ~/.rigchat/blobs.db).
	Blobs string `toml:"blobs" json:"blobs"`
	// History is the REPL input history file path (default ~/.rigchat/history).
	History string `toml:"history" json:"history"`
}

// =============================================================================
// DEFAULT SETTINGS
// =============================================================================

// Default returns Settings with sensible default values.
func Default() *Settings {
	return &Settings{
		Version: "1.0.0",

		Server: ServerSettings{
			Endpoint: "http://127.0.0.1:8080",
			APIKey:   "",
			Model:    "qwen2.5-7b-instruct",
		},

		Sampling: SamplingSettings{
			Temperature:       0.7,
			TopP:              0.95,
			TopK:              0, // disabled, omitted from requests
			MinP:              0,
			RepetitionPenalty: 1.0,
			PresencePenalty:   0,
			FrequencyPenalty:  0,
			MaxTokens:         1024,
		},

		Chat: ChatSettings{
			SystemPrompt:   "",
			ContextCaching: true,
			AutoTitle:      true,
		},

		Poll: PollSettings{
			FastIntervalSecs: 2,
			SlowIntervalSecs: 10,
			FailureThreshold: 3,
		},

		Storage: StorageSettings{
			Sessions: "",
			Blobs:    "",
			History:  "",
		},
	}
}

// =============================================================================
// SETTINGS PATH HELPERS
// =============================================================================

// Dir returns the rigchat settings directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// PathTOML returns the path to the TOML settings file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the JSON settings file.
func PathJSON() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureDir ensures the settings directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on settings files.
// SECURITY: Settings files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err // File doesn't exist or not accessible
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// SessionsFile resolves the session store path, falling back to the default
// location under the settings directory.
func (s *Settings) SessionsFile() (string, error) {
	if s.Storage.Sessions != "" {
		return s.Storage.Sessions, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.json"), nil
}

// BlobsFile resolves the blob store path, falling back to the default
// location under the settings directory.
func (s *Settings) BlobsFile() (string, error) {
	if s.Storage.Blobs != "" {
		return s.Storage.Blobs, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "blobs.db"), nil
}

// HistoryFile resolves the REPL history path, falling back to the default
// location under the settings directory.
func (s *Settings) HistoryFile() (string, error) {
	if s.Storage.History != "" {
		return s.Storage.History, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads settings from the settings file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Settings, error) {
	s := Default()
	var loadErr error

	// Try TOML first
	tomlPath, err := PathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(s, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML settings: %w", err)
			} else {
				return finishLoad(s)
			}
		}
	}

	// Try JSON as fallback
	jsonPath, err := PathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(s, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON settings: %w", err)
			} else {
				return finishLoad(s)
			}
		}
	}

	// Defaults, with any load error passed along for informational purposes
	s, err = finishLoad(s)
	if err != nil {
		return nil, err
	}
	return s, loadErr
}

// finishLoad applies the post-decode steps shared by every load path.
func finishLoad(s *Settings) (*Settings, error) {
	s.ApplyEnvOverrides()
	s.SetDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// LoadTOML decodes a TOML file into s. Fields absent from the file keep the
// values s already holds, so callers decode into Default() to preserve
// default-on booleans.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(s *Settings, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, s); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file into s, with the same absent-field semantics
// as LoadTOML.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(s *Settings, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads settings from a specific file path with full validation.
func LoadFromPath(path string) (*Settings, error) {
	s := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(s, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON settings from %s: %w", path, err)
		}
	} else {
		// Default to TOML
		if err := LoadTOML(s, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML settings from %s: %w", path, err)
		}
	}

	return finishLoad(s)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the settings to the default TOML file.
func Save(s *Settings) error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(s, path)
}

// SaveTOML saves the settings to a TOML file.
// SECURITY: Creates settings files with 0600 permissions (owner read/write only).
func SaveTOML(s *Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create settings file: %w", err)
	}
	defer file.Close()

	// SECURITY: Ensure permissions are correct even if file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set settings file permissions: %w", err)
	}

	fmt.Fprintln(file, "# rigchat configuration file")
	fmt.Fprintln(file, "# Generated by rigchat - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	return nil
}

// SaveJSON saves the settings to a JSON file.
// SECURITY: Creates settings files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveJSON(s *Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a settings validation error.
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

// Validate validates the settings and returns any errors.
func (s *Settings) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Sampling Validation
	// ==========================================================================

	if s.Sampling.Temperature < 0 || s.Sampling.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "sampling.temperature",
			Message: fmt.Sprintf("must be between 0.0 and 2.0, got %g", s.Sampling.Temperature),
		})
	}

	if s.Sampling.TopP < 0 || s.Sampling.TopP > 1 {
		errs = append(errs, ValidationError{
			Field:   "sampling.top_p",
			Message: fmt.Sprintf("must be between 0.0 and 1.0, got %g", s.Sampling.TopP),
		})
	}

	if s.Sampling.TopK < 0 {
		errs = append(errs, ValidationError{
			Field:   "sampling.top_k",
			Message: fmt.Sprintf("must be non-negative, got %d", s.Sampling.TopK),
		})
	}

	if s.Sampling.MinP < 0 || s.Sampling.MinP > 1 {
		errs = append(errs, ValidationError{
			Field:   "sampling.min_p",
			Message: fmt.Sprintf("must be between 0.0 and 1.0, got %g", s.Sampling.MinP),
		})
	}

	if s.Sampling.RepetitionPenalty < 0 || s.Sampling.RepetitionPenalty > 2 {
		errs = append(errs, ValidationError{
			Field:   "sampling.repetition_penalty",
			Message: fmt.Sprintf("must be between 0.0 and 2.0, got %g", s.Sampling.RepetitionPenalty),
		})
	}

	if s.Sampling.PresencePenalty < -2 || s.Sampling.PresencePenalty > 2 {
		errs = append(errs, ValidationError{
			Field:   "sampling.presence_penalty",
			Message: fmt.Sprintf("must be between -2.0 and 2.0, got %g", s.Sampling.PresencePenalty),
		})
	}

	if s.Sampling.FrequencyPenalty < -2 || s.Sampling.FrequencyPenalty > 2 {
		errs = append(errs, ValidationError{
			Field:   "sampling.frequency_penalty",
			Message: fmt.Sprintf("must be between -2.0 and 2.0, got %g", s.Sampling.FrequencyPenalty),
		})
	}

	if s.Sampling.MaxTokens <= 0 {
		errs = append(errs, ValidationError{
			Field:   "sampling.max_tokens",
			Message: fmt.Sprintf("must be positive, got %d", s.Sampling.MaxTokens),
		})
	}

	// ==========================================================================
	// Poll Validation
	// ==========================================================================

	if s.Poll.FastIntervalSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "poll.fast_interval_secs",
			Message: fmt.Sprintf("must be at least 1, got %d", s.Poll.FastIntervalSecs),
		})
	}

	if s.Poll.SlowIntervalSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "poll.slow_interval_secs",
			Message: fmt.Sprintf("must be at least 1, got %d", s.Poll.SlowIntervalSecs),
		})
	}

	if s.Poll.FailureThreshold < 1 {
		errs = append(errs, ValidationError{
			Field:   "poll.failure_threshold",
			Message: fmt.Sprintf("must be at least 1, got %d", s.Poll.FailureThreshold),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills in defaults for missing or unusable fields. Explicit
// zero values for sampling floats are legitimate choices and are left alone;
// only fields whose zero value cannot work are filled.
func (s *Settings) SetDefaults() {
	defaults := Default()

	if s.Version == "" {
		s.Version = defaults.Version
	}
	if s.Server.Endpoint == "" {
		s.Server.Endpoint = defaults.Server.Endpoint
	}
	if s.Server.Model == "" {
		s.Server.Model = defaults.Server.Model
	}
	if s.Sampling.MaxTokens <= 0 {
		s.Sampling.MaxTokens = defaults.Sampling.MaxTokens
	}
	if s.Poll.FastIntervalSecs <= 0 {
		s.Poll.FastIntervalSecs = defaults.Poll.FastIntervalSecs
	}
	if s.Poll.SlowIntervalSecs <= 0 {
		s.Poll.SlowIntervalSecs = defaults.Poll.SlowIntervalSecs
	}
	if s.Poll.FailureThreshold <= 0 {
		s.Poll.FailureThreshold = defaults.Poll.FailureThreshold
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the settings.
//
// Supported environment variables:
//   - RIGCHAT_ENDPOINT: overrides server.endpoint
//   - RIGCHAT_API_KEY: overrides server.api_key
//   - RIGCHAT_MODEL: overrides server.model
//   - RIGCHAT_SYSTEM_PROMPT: overrides chat.system_prompt
//   - RIGCHAT_CACHE: set to "1"/"true" or "0"/"false" to toggle chat.context_caching
//   - RIGCHAT_MAX_TOKENS: overrides sampling.max_tokens
func (s *Settings) ApplyEnvOverrides() {
	if endpoint := os.Getenv("RIGCHAT_ENDPOINT"); endpoint != "" {
		s.Server.Endpoint = endpoint
	}

	if key := os.Getenv("RIGCHAT_API_KEY"); key != "" {
		s.Server.APIKey = key
	}

	if model := os.Getenv("RIGCHAT_MODEL"); model != "" {
		s.Server.Model = model
	}

	if prompt := os.Getenv("RIGCHAT_SYSTEM_PROMPT"); prompt != "" {
		s.Chat.SystemPrompt = prompt
	}

	if cache := os.Getenv("RIGCHAT_CACHE"); cache != "" {
		s.Chat.ContextCaching = cache == "1" || strings.ToLower(cache) == "true"
	}

	if maxTokens := os.Getenv("RIGCHAT_MAX_TOKENS"); maxTokens != "" {
		if n, err := strconv.Atoi(maxTokens); err == nil && n > 0 {
			s.Sampling.MaxTokens = n
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a settings value using dot notation (e.g., "sampling.temperature").
func (s *Settings) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(s).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field.Interface(), nil
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a settings value using dot notation (e.g., "sampling.temperature").
func (s *Settings) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(s).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return fmt.Errorf("invalid key: %s", key)
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

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	// Handle string input with type conversion
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
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.ToLower(strVal) == "true" || strings.ToLower(strVal) == "yes"
			field.SetBool(boolVal)
			return nil
		}
	}

	// Direct assignment for matching types
	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}

	// Type conversion for compatible types
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// AllKeys returns all settings keys in dot notation.
func AllKeys() []string {
	return []string{
		"version",
		"server.endpoint",
		"server.api_key",
		"server.model",
		"sampling.temperature",
		"sampling.top_p",
		"sampling.top_k",
		"sampling.min_p",
		"sampling.repetition_penalty",
		"sampling.presence_penalty",
		"sampling.frequency_penalty",
		"sampling.max_tokens",
		"chat.system_prompt",
		"chat.context_caching",
		"chat.auto_title",
		"poll.fast_interval_secs",
		"poll.slow_interval_secs",
		"poll.failure_threshold",
		"storage.sessions",
		"storage.blobs",
		"storage.history",
	}
}

// String returns a string representation of the settings for debugging.
// SECURITY: Redacts the API key to prevent accidental exposure in logs,
// error messages, or debug output.
func (s *Settings) String() string {
	safe := *s
	if safe.Server.APIKey != "" {
		safe.Server.APIKey = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(&safe, "", "  ")
	return string(data)
}
