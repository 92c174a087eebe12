package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// RuleConfig is the YAML form of a Rule; ordinal is the list position.
type RuleConfig struct {
	Condition  string `mapstructure:"condition" yaml:"condition"`
	Expression string `mapstructure:"expression" yaml:"expression"`
	Action     string `mapstructure:"action" yaml:"action"`
	Folder     string `mapstructure:"folder" yaml:"folder,omitempty"`
	Parameter  string `mapstructure:"parameter" yaml:"parameter,omitempty"`

	// Disabled rules are kept in order but never evaluated.
	Disabled bool `mapstructure:"disabled" yaml:"disabled,omitempty"`
}

// AccountConfig holds the configuration for a single mail account.
type AccountConfig struct {
	// ID is the unique identifier for this account.
	ID string `mapstructure:"id" yaml:"id"`

	// Name is the user-defined label for this account.
	Name string `mapstructure:"name" yaml:"name"`

	UserID    string `mapstructure:"user_id" yaml:"user_id"`
	Address   string `mapstructure:"address" yaml:"address"`
	Signature string `mapstructure:"signature" yaml:"signature,omitempty"`

	Store     Endpoint `mapstructure:"store" yaml:"store"`
	Transport Endpoint `mapstructure:"transport" yaml:"transport"`

	Rules []RuleConfig `mapstructure:"rules" yaml:"rules,omitempty"`
}

// Account converts the configuration entry into an Account.
func (c AccountConfig) Account() Account {
	return Account{
		ID:        c.ID,
		Name:      c.Name,
		UserID:    c.UserID,
		Address:   c.Address,
		Signature: c.Signature,
		Store:     c.Store,
		Transport: c.Transport,
	}
}

// AccountRules converts the configured rules into ordered Rules.
func (c AccountConfig) AccountRules() []Rule {
	rules := make([]Rule, 0, len(c.Rules))
	for i, r := range c.Rules {
		rules = append(rules, Rule{
			AccountID:  c.ID,
			Ordinal:    i + 1,
			Condition:  r.Condition,
			Expression: r.Expression,
			Action:     r.Action,
			Folder:     r.Folder,
			Parameter:  r.Parameter,
			Active:     !r.Disabled,
		})
	}
	return rules
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// BlobConfig locates the raw-content blob directory.
type BlobConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// PollConfig controls the background trigger.
type PollConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`
	TimeoutSec  int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// CorrelationConfig bounds the reply/forward expectation table.
type CorrelationConfig struct {
	TTLSec int `mapstructure:"ttl_sec" yaml:"ttl_sec"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Blobs       BlobConfig        `mapstructure:"blobs" yaml:"blobs"`
	Poll        PollConfig        `mapstructure:"poll" yaml:"poll"`
	Correlation CorrelationConfig `mapstructure:"correlation" yaml:"correlation"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Accounts    []AccountConfig   `mapstructure:"accounts" yaml:"accounts"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "mailsync")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dataDir := defaultDataDir()
	return &AppConfig{
		Database: DatabaseConfig{Path: filepath.Join(dataDir, "mail.db")},
		Blobs:    BlobConfig{Dir: filepath.Join(dataDir, "blobs")},
		Poll: PollConfig{
			IntervalSec: 300,
			TimeoutSec:  600,
		},
		Correlation: CorrelationConfig{TTLSec: 300},
		Log:         LogConfig{Level: "info"},
		Accounts:    []AccountConfig{},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("blobs.dir", def.Blobs.Dir)
	v.SetDefault("poll.interval_sec", def.Poll.IntervalSec)
	v.SetDefault("poll.timeout_sec", def.Poll.TimeoutSec)
	v.SetDefault("correlation.ttl_sec", def.Correlation.TTLSec)
	v.SetDefault("log.level", def.Log.Level)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		if cfg.Accounts[i].ID == "" {
			return nil, fmt.Errorf("parsing config %s: account %d has no id", path, i)
		}
		for j, r := range cfg.Accounts[i].Rules {
			if !ValidCondition(r.Condition) {
				return nil, fmt.Errorf("account %s rule %d: unknown condition %q",
					cfg.Accounts[i].ID, j+1, r.Condition)
			}
			if !ValidAction(r.Action) {
				return nil, fmt.Errorf("account %s rule %d: unknown action %q",
					cfg.Accounts[i].ID, j+1, r.Action)
			}
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("blobs", cfg.Blobs)
	v.Set("poll", cfg.Poll)
	v.Set("correlation", cfg.Correlation)
	v.Set("log", cfg.Log)
	v.Set("accounts", cfg.Accounts)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
