// Copyright 2025 AI Lead Generation System Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

// Config represents the complete application configuration
type Config struct {
	Inference  InferenceConfig  `mapstructure:"inference"`
	Generation GenerationConfig `mapstructure:"generation"`
	Search     SearchConfig     `mapstructure:"search"`
	Profile    ProfileConfig    `mapstructure:"profile"`
	Export     ExportConfig     `mapstructure:"export"`
	Server     ServerConfig     `mapstructure:"server"`
	Runs       RunsConfig       `mapstructure:"runs"`
	History    HistoryConfig    `mapstructure:"history"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// InferenceConfig contains completion API configuration. The endpoint
// selects the deployment: the hosted Together AI API by default, or any
// local runtime exposing the same OpenAI-compatible protocol.
type InferenceConfig struct {
	APIKey            string  `mapstructure:"apikey"`
	Endpoint          string  `mapstructure:"endpoint"`
	Model             string  `mapstructure:"model"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// GenerationConfig tunes the completion calls per pipeline stage. Research
// and qualification share the research settings; outreach runs hotter and
// shorter.
type GenerationConfig struct {
	ResearchTemperature float32 `mapstructure:"research_temperature"`
	ResearchMaxTokens   int     `mapstructure:"research_max_tokens"`
	OutreachTemperature float32 `mapstructure:"outreach_temperature"`
	OutreachMaxTokens   int     `mapstructure:"outreach_max_tokens"`
}

// SearchConfig contains the default search parameters shown in the
// dashboard form and used by the CLI when flags are omitted
type SearchConfig struct {
	Industry string `mapstructure:"industry"`
	Location string `mapstructure:"location"`
	Criteria string `mapstructure:"criteria"`
	NumLeads int    `mapstructure:"num_leads"`
}

// ProfileConfig describes the business sending the outreach. All fields are
// optional free text included verbatim in outreach prompts when set.
type ProfileConfig struct {
	Services       string `mapstructure:"services"`
	Locations      string `mapstructure:"locations"`
	TargetAccounts string `mapstructure:"target_accounts"`
}

// ExportConfig contains spreadsheet export configuration
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// ServerConfig contains dashboard server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RunsConfig bounds the in-memory run registry
type RunsConfig struct {
	MaxRuns         int           `mapstructure:"max_runs"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// HistoryConfig contains run history persistence configuration
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	EnableHotReload  bool
	Environment      string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables
// Environment variables take precedence over config file values
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		EnableHotReload:  false,
		Environment:      getEnvironment(),
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set configuration file path
	if err := setConfigFile(v, opts.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("LEADGEN")

	// Read configuration file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Set explicit environment variable mappings
	setEnvironmentMappings(v)

	// Unmarshal configuration
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Inference defaults
	v.SetDefault("inference.endpoint", "https://api.together.xyz/v1")
	v.SetDefault("inference.model", "meta-llama/Llama-3.3-70B-Instruct-Turbo")
	v.SetDefault("inference.max_attempts", 1)
	v.SetDefault("inference.requests_per_second", 0)
	v.SetDefault("inference.burst", 1)

	// Generation defaults
	v.SetDefault("generation.research_temperature", 0.2)
	v.SetDefault("generation.research_max_tokens", 2000)
	v.SetDefault("generation.outreach_temperature", 0.7)
	v.SetDefault("generation.outreach_max_tokens", 500)

	// Search defaults
	v.SetDefault("search.industry", "dental practices")
	v.SetDefault("search.location", "Buckhead, Atlanta, GA")
	v.SetDefault("search.criteria", "- Located in upscale areas\n"+
		"- Larger facilities with multiple staff\n"+
		"- Offering premium services\n"+
		"- Recent renovations or upscale facilities")
	v.SetDefault("search.num_leads", 3)

	// Export defaults
	v.SetDefault("export.output_dir", "./exports")

	// Server defaults
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	// Run registry defaults
	v.SetDefault("runs.max_runs", 100)
	v.SetDefault("runs.ttl", "1h")
	v.SetDefault("runs.cleanup_interval", "10m")

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", "./history.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// setConfigFile sets the configuration file path with fallback logic
func setConfigFile(v *viper.Viper, configPath string) error {
	// Check for CONFIG_PATH environment variable
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return nil
	}

	// Use provided config path
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return nil
	}

	// Default fallback locations; running without any config file is fine
	// because every key has a default or an environment mapping
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	return nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	// Map common environment variables
	envMappings := map[string]string{
		"INFERENCE_ENDPOINT": "inference.endpoint",
		"INFERENCE_MODEL":    "inference.model",
		"EXPORT_OUTPUT_DIR":  "export.output_dir",
		"HISTORY_DB_PATH":    "history.db_path",
		"PORT":               "server.port",
		"LOG_LEVEL":          "logging.level",
		"LOG_FORMAT":         "logging.format",
		"LOG_OUTPUT":         "logging.output",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}

	// The credential can arrive under either provider's conventional name.
	// TOGETHER_API_KEY wins when both are set.
	if value := os.Getenv("TOGETHER_API_KEY"); value != "" {
		v.Set("inference.apikey", value)
	} else if value := os.Getenv("OPENAI_API_KEY"); value != "" {
		v.Set("inference.apikey", value)
	}
}

// validateConfig validates the configuration for required fields and valid values
func validateConfig(config *Config) error {
	var errors []ValidationError

	// Validate required fields
	if config.Inference.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "inference.apikey",
			Message: "completion API key is required. Set via config file or TOGETHER_API_KEY environment variable",
		})
	}

	if config.Inference.Endpoint == "" {
		errors = append(errors, ValidationError{
			Field:   "inference.endpoint",
			Message: "completion API endpoint is required",
		})
	}

	if config.Inference.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "inference.model",
			Message: "completion model is required",
		})
	}

	// Validate numeric values
	if config.Inference.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "inference.max_attempts",
			Message: "max_attempts must be at least 1",
		})
	}

	if config.Inference.RequestsPerSecond < 0 {
		errors = append(errors, ValidationError{
			Field:   "inference.requests_per_second",
			Message: "requests_per_second must be greater than or equal to 0",
		})
	}

	if config.Inference.RequestsPerSecond > 0 && config.Inference.Burst < 1 {
		errors = append(errors, ValidationError{
			Field:   "inference.burst",
			Message: "burst must be at least 1 when requests_per_second is set",
		})
	}

	if config.Generation.ResearchTemperature < 0 || config.Generation.ResearchTemperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "generation.research_temperature",
			Message: "research_temperature must be between 0 and 2",
		})
	}

	if config.Generation.OutreachTemperature < 0 || config.Generation.OutreachTemperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "generation.outreach_temperature",
			Message: "outreach_temperature must be between 0 and 2",
		})
	}

	if config.Generation.ResearchMaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "generation.research_max_tokens",
			Message: "research_max_tokens must be at least 1",
		})
	}

	if config.Generation.OutreachMaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "generation.outreach_max_tokens",
			Message: "outreach_max_tokens must be at least 1",
		})
	}

	if config.Search.NumLeads < 3 || config.Search.NumLeads > 10 {
		errors = append(errors, ValidationError{
			Field:   "search.num_leads",
			Message: "num_leads must be between 3 and 10",
		})
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if config.Runs.MaxRuns <= 0 {
		errors = append(errors, ValidationError{
			Field:   "runs.max_runs",
			Message: "max_runs must be greater than 0",
		})
	}

	if config.Runs.TTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "runs.ttl",
			Message: "ttl must be greater than 0",
		})
	}

	if config.Runs.CleanupInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "runs.cleanup_interval",
			Message: "cleanup_interval must be greater than 0",
		})
	}

	// Validate file paths
	if config.Export.OutputDir == "" {
		errors = append(errors, ValidationError{
			Field:   "export.output_dir",
			Message: "export output directory is required",
		})
	}

	if config.History.Enabled {
		if config.History.DBPath == "" {
			errors = append(errors, ValidationError{
				Field:   "history.db_path",
				Message: "history database path is required when history is enabled",
			})
		} else if err := validateDirectoryExists(filepath.Dir(config.History.DBPath)); err != nil {
			errors = append(errors, ValidationError{
				Field:   "history.db_path",
				Message: fmt.Sprintf("history database directory does not exist: %s", filepath.Dir(config.History.DBPath)),
			})
		}
	}

	// Validate enum values
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	// Return all validation errors
	if len(errors) > 0 {
		var errorMessages []string
		for _, err := range errors {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errorMessages, "\n"))
	}

	return nil
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	// Mask sensitive fields
	if masked.Inference.APIKey != "" {
		masked.Inference.APIKey = maskValue(masked.Inference.APIKey)
	}

	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

// contains checks if a slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateDirectoryExists checks if a directory exists
func validateDirectoryExists(path string) error {
	if path == "" || path == "." {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// getEnvironment returns the current environment (development, production, etc.)
func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "development"
}

// WatchConfig enables configuration hot-reloading for development
func WatchConfig(configPath string, callback func(*Config)) error {
	v := viper.New()

	// Set up configuration
	if err := setConfigFile(v, configPath); err != nil {
		return err
	}

	// Enable watching
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		fmt.Printf("Config file changed: %s\n", e.Name)

		// Reload configuration
		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       configPath,
			EnableHotReload:  true,
			Environment:      getEnvironment(),
			ValidateRequired: true,
		})
		if err != nil {
			fmt.Printf("Failed to reload config: %v\n", err)
			return
		}

		// Call callback with new config
		callback(config)
	})

	return nil
}
