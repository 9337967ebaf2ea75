package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sydlexius/pushhook/internal/logging"
)

// DefaultPath is used when PH_CONFIG_PATH is unset.
const DefaultPath = "data/config.yaml"

// Store drivers.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Store    StoreConfig    `yaml:"store"`
	Admin    AdminConfig    `yaml:"admin"`
	Pushover PushoverConfig `yaml:"pushover"`
	Telegram TelegramConfig `yaml:"telegram"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// PublicBaseURL prefixes trigger URLs shown in the admin API. Empty means
	// http://localhost:<port>.
	PublicBaseURL string `yaml:"public_base_url"`
	// AdminPath pins the secret admin path segment. Empty means generate.
	AdminPath string `yaml:"admin_path"`
}

// DataConfig holds the state directory.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// StoreConfig selects the webhook store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Watch  bool   `yaml:"watch"`
}

// AdminConfig seeds the admin account on first start.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PushoverConfig holds Pushover credentials.
type PushoverConfig struct {
	AppToken string `yaml:"app_token"`
	UserKey  string `yaml:"user_key"`
	BaseURL  string `yaml:"base_url"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	BaseURL  string `yaml:"base_url"`
}

// DispatchConfig tunes outbound sends.
type DispatchConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3000,
		},
		Data: DataConfig{
			Dir: "data",
		},
		Store: StoreConfig{
			Driver: StoreJSON,
			Watch:  true,
		},
		Dispatch: DispatchConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			FileMaxSizeMB:  100,
			FileMaxFiles:   3,
			FileMaxAgeDays: 30,
		},
	}
}

// PathFromEnv returns the config file path from PH_CONFIG_PATH or the default.
func PathFromEnv() string {
	if v := os.Getenv("PH_CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// StorePath returns the webhook store location, defaulting inside the data
// directory per driver.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Driver == StoreSQLite {
		return filepath.Join(c.Data.Dir, "pushhook.db")
	}
	return filepath.Join(c.Data.Dir, "webhooks.json")
}

// AdminFile returns the admin credential record path.
func (c *Config) AdminFile() string {
	return filepath.Join(c.Data.Dir, "admin.json")
}

// MetaFile returns the server metadata path.
func (c *Config) MetaFile() string {
	return filepath.Join(c.Data.Dir, "server-meta.json")
}

// BaseURL returns the public origin used in trigger URLs.
func (c *Config) BaseURL() string {
	if c.Server.PublicBaseURL != "" {
		return c.Server.PublicBaseURL
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	// PORT is honored for PaaS runtimes; PH_PORT wins when both are set.
	for _, key := range []string{"PORT", "PH_PORT"} {
		if v := os.Getenv(key); v != "" {
			port, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: invalid port %q", key, v)
			}
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PH_DISPATCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PH_DISPATCH_TIMEOUT: %w", err)
		}
		c.Dispatch.Timeout = d
	}
	if v := os.Getenv("PH_STORE_WATCH"); v != "" {
		watch, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PH_STORE_WATCH: invalid boolean %q", v)
		}
		c.Store.Watch = watch
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"PH_PUBLIC_BASE_URL", &c.Server.PublicBaseURL},
		{"PH_ADMIN_PATH", &c.Server.AdminPath},
		{"PH_DATA_DIR", &c.Data.Dir},
		{"PH_STORE_DRIVER", &c.Store.Driver},
		{"PH_STORE_PATH", &c.Store.Path},
		{"PH_ADMIN_USERNAME", &c.Admin.Username},
		{"PH_ADMIN_PASSWORD", &c.Admin.Password},
		{"PH_PUSHOVER_APP_TOKEN", &c.Pushover.AppToken},
		{"PH_PUSHOVER_USER_KEY", &c.Pushover.UserKey},
		{"PH_TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken},
		{"PH_TELEGRAM_CHAT_ID", &c.Telegram.ChatID},
		{"PH_LOG_LEVEL", &c.Logging.Level},
		{"PH_LOG_FORMAT", &c.Logging.Format},
		{"PH_LOG_FILE", &c.Logging.FilePath},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data directory is required")
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case StoreJSON, StoreSQLite:
	default:
		return fmt.Errorf("unknown store driver %q (want json or sqlite)", c.Store.Driver)
	}

	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive, got %s", c.Dispatch.Timeout)
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("invalid log format %q (want json, text or auto)", c.Logging.Format)
	}

	c.Server.PublicBaseURL = strings.TrimRight(c.Server.PublicBaseURL, "/")
	c.Server.AdminPath = strings.Trim(c.Server.AdminPath, "/")
	return nil
}
