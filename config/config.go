package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kelseyhightower/envconfig"

	"fsagent/paths"
)

// Config represents the fsagent configuration
type Config struct {
	Model   string `json:"model" envconfig:"MODEL"`
	APIKey  string `json:"api_key,omitempty" envconfig:"API_KEY"` // API key for the intent interpreter
	BaseURL string `json:"base_url,omitempty" envconfig:"BASE_URL"`

	MaxUndo            int   `json:"max_undo" envconfig:"MAX_UNDO"` // Undo ledger bound
	BackupMaxAgeHours  int   `json:"backup_max_age_hours" envconfig:"BACKUP_MAX_AGE_HOURS"`
	BackupMaxCount     int   `json:"backup_max_count" envconfig:"BACKUP_MAX_COUNT"`
	BackupBeforeDelete bool  `json:"backup_before_delete" envconfig:"BACKUP_BEFORE_DELETE"`
	ConfirmDestructive bool  `json:"confirm_destructive" envconfig:"CONFIRM_DESTRUCTIVE"`
	MaxFileSize        int64 `json:"max_file_size" envconfig:"MAX_FILE_SIZE"` // Largest file read_file will return, in bytes

	LogLevel string `json:"log_level" envconfig:"LOG_LEVEL"`
}

// EnvPrefix is prepended to every environment override, e.g. FSAGENT_MAX_UNDO.
const EnvPrefix = "fsagent"

// Keys lists the settable configuration keys in display order.
var Keys = []string{
	"model",
	"api_key",
	"base_url",
	"max_undo",
	"backup_max_age_hours",
	"backup_max_count",
	"backup_before_delete",
	"confirm_destructive",
	"max_file_size",
	"log_level",
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model:              "gpt-4o-mini",
		MaxUndo:            50,
		BackupMaxAgeHours:  7 * 24,
		BackupMaxCount:     200,
		BackupBeforeDelete: false,
		ConfirmDestructive: true,
		MaxFileSize:        10 * 1024 * 1024,
		LogLevel:           "warn",
	}
}

// LoadConfig loads configuration from defaults, the global file, the
// workspace file and finally environment variables, later sources winning.
func LoadConfig(workspacePath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath, err := paths.GetGlobalConfigPath(); err == nil {
		if err := mergeFile(cfg, globalPath); err != nil {
			return nil, err
		}
	}

	if err := mergeFile(cfg, localConfigPath(workspacePath)); err != nil {
		return nil, err
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges that would otherwise break the undo and
// backup machinery.
func (c *Config) Validate() error {
	if c.MaxUndo < 1 {
		return fmt.Errorf("max_undo must be at least 1, got %d", c.MaxUndo)
	}
	if c.BackupMaxCount < 0 {
		return fmt.Errorf("backup_max_count must not be negative, got %d", c.BackupMaxCount)
	}
	if c.BackupMaxAgeHours < 0 {
		return fmt.Errorf("backup_max_age_hours must not be negative, got %d", c.BackupMaxAgeHours)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize)
	}
	return nil
}

// Get retrieves a configuration value by key
func (c *Config) Get(key string) (interface{}, error) {
	switch key {
	case "model":
		return c.Model, nil
	case "api_key":
		return c.APIKey, nil
	case "base_url":
		return c.BaseURL, nil
	case "max_undo":
		return c.MaxUndo, nil
	case "backup_max_age_hours":
		return c.BackupMaxAgeHours, nil
	case "backup_max_count":
		return c.BackupMaxCount, nil
	case "backup_before_delete":
		return c.BackupBeforeDelete, nil
	case "confirm_destructive":
		return c.ConfirmDestructive, nil
	case "max_file_size":
		return c.MaxFileSize, nil
	case "log_level":
		return c.LogLevel, nil
	default:
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
}

// Set updates a configuration value by key. CLI input is always a string.
func (c *Config) Set(key string, value string) error {
	switch key {
	case "model":
		c.Model = value
	case "api_key":
		c.APIKey = value
	case "base_url":
		c.BaseURL = value
	case "log_level":
		c.LogLevel = value
	case "max_undo":
		return setInt(&c.MaxUndo, key, value)
	case "backup_max_age_hours":
		return setInt(&c.BackupMaxAgeHours, key, value)
	case "backup_max_count":
		return setInt(&c.BackupMaxCount, key, value)
	case "backup_before_delete":
		return setBool(&c.BackupBeforeDelete, key, value)
	case "confirm_destructive":
		return setBool(&c.ConfirmDestructive, key, value)
	case "max_file_size":
		val, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("expected numeric value for %s, got: %s", key, value)
		}
		c.MaxFileSize = val
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	val, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected numeric value for %s, got: %s", key, value)
	}
	*dst = val
	return nil
}

func setBool(dst *bool, key, value string) error {
	switch value {
	case "true":
		*dst = true
	case "false":
		*dst = false
	default:
		return fmt.Errorf("expected 'true' or 'false' for %s, got: %s", key, value)
	}
	return nil
}

func localConfigPath(workspacePath string) string {
	return filepath.Join(workspacePath, paths.ConfigDirName, "config.json")
}

// mergeFile overlays the keys present in a JSON file onto cfg. A missing file
// is not an error.
func mergeFile(cfg *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}
	return nil
}

// SaveLocalConfig saves configuration to <workspace>/.fsagent/config.json.
// The API key is never written to the workspace.
func SaveLocalConfig(workspacePath string, cfg *Config) error {
	configPath := localConfigPath(workspacePath)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *cfg
	out.APIKey = ""

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveGlobalConfig saves configuration, including the API key, to
// ~/.fsagent/config.json.
func SaveGlobalConfig(cfg *Config) error {
	configPath, err := paths.GetGlobalConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}
