package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config" json:"basic_config"`
	Providers   map[string]ProviderConfig `mapstructure:"providers" json:"providers" validate:"dive"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases" json:"databases"`
	Redis       RedisConfig               `mapstructure:"redis" json:"redis"`
	Auth        AuthConfig                `mapstructure:"auth" json:"auth"`
	Log         LogConfig                 `mapstructure:"log" json:"log"`
	Cache       CacheConfig               `mapstructure:"cache" json:"cache"`
	Storage     StorageConfig             `mapstructure:"storage" json:"storage"`
}

// ProviderConfig configures one inference backend. APIKey may be empty for
// the simulated provider.
type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url" json:"base_url"`
	Model          string `mapstructure:"model" json:"model"`
	APIKey         string `mapstructure:"api_key" json:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds" validate:"gte=0"`
	MaxTokens      int    `mapstructure:"max_tokens" json:"max_tokens" validate:"gte=0"`
	DelayMillis    int    `mapstructure:"delay_millis" json:"delay_millis" validate:"gte=0"`
}

type BasicConfig struct {
	ServerAddress     string `mapstructure:"server_address" json:"server_address"`
	MinWorkers        int    `mapstructure:"min_workers" json:"min_workers" validate:"gte=0"`
	MaxWorkers        int    `mapstructure:"max_workers" json:"max_workers" validate:"gte=0"`
	QueueSize         int    `mapstructure:"queue_size" json:"queue_size" validate:"gte=0"`
	WorkerIdleTimeout int    `mapstructure:"worker_idle_timeout" json:"worker_idle_timeout" validate:"gte=0"`
	MaxUploadMB       int    `mapstructure:"max_upload_mb" json:"max_upload_mb" validate:"gte=0"`
	DefaultProvider   string `mapstructure:"default_provider" json:"default_provider"`
	PublicBaseURL     string `mapstructure:"public_base_url" json:"public_base_url"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn" json:"dsn"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	DBName   string `mapstructure:"dbname" json:"dbname"`
	Params   string `mapstructure:"params" json:"params"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
}

type AuthConfig struct {
	TokenTTLMinutes      int    `mapstructure:"token_ttl_minutes" json:"token_ttl_minutes" validate:"gte=0"`
	ResetSecret          string `mapstructure:"reset_secret" json:"reset_secret"`
	ResetTTLMinutes      int    `mapstructure:"reset_ttl_minutes" json:"reset_ttl_minutes" validate:"gte=0"`
	AuthRateLimit        int    `mapstructure:"auth_rate_limit" json:"auth_rate_limit" validate:"gte=0"`
	AuthRateWindowSecond int    `mapstructure:"auth_rate_window_seconds" json:"auth_rate_window_seconds" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" json:"format" validate:"omitempty,oneof=text json"`
}

type CacheConfig struct {
	DetailTTLSeconds int `mapstructure:"detail_ttl_seconds" json:"detail_ttl_seconds" validate:"gte=0"`
	LocalSize        int `mapstructure:"local_size" json:"local_size" validate:"gte=0"`
	LocalTTLSeconds  int `mapstructure:"local_ttl_seconds" json:"local_ttl_seconds" validate:"gte=0"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `mapstructure:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"secret_key"`
	Bucket    string `mapstructure:"bucket" json:"bucket" validate:"required_if=Enabled true"`
	UseSSL    bool   `mapstructure:"use_ssl" json:"use_ssl"`
}

const envPrefix = "CONTRACTFLOW"

// Load reads configuration from the provided path (defaults to config.json).
// Values may be overridden with CONTRACTFLOW_* environment variables, e.g.
// CONTRACTFLOW_REDIS_HOST.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(absPath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()

	// sqlite paths are relative to the config file
	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.min_workers", 2)
	v.SetDefault("basic_config.max_workers", 8)
	v.SetDefault("basic_config.queue_size", 64)
	v.SetDefault("basic_config.worker_idle_timeout", 5)
	v.SetDefault("basic_config.max_upload_mb", 10)
	v.SetDefault("basic_config.default_provider", "gemini")
	v.SetDefault("basic_config.public_base_url", "http://localhost:8090")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// applyDefaults fills zero values that viper defaults cannot express
// (for example when Config is built by hand in tests).
func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.MaxUploadMB <= 0 {
		c.BasicConfig.MaxUploadMB = 10
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		c.Auth.TokenTTLMinutes = 24 * 60
	}
	if c.Auth.ResetTTLMinutes <= 0 {
		c.Auth.ResetTTLMinutes = 30
	}
	if c.Auth.AuthRateLimit <= 0 {
		c.Auth.AuthRateLimit = 20
	}
	if c.Auth.AuthRateWindowSecond <= 0 {
		c.Auth.AuthRateWindowSecond = 60
	}
	if c.Cache.DetailTTLSeconds <= 0 {
		c.Cache.DetailTTLSeconds = 3600
	}
	if c.Cache.LocalSize <= 0 {
		c.Cache.LocalSize = 1024
	}
	if c.Cache.LocalTTLSeconds <= 0 {
		c.Cache.LocalTTLSeconds = 30
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Databases) == 0 {
		return errors.New("at least one database must be configured")
	}
	if c.Auth.ResetSecret == "" {
		return errors.New("auth.reset_secret must be configured")
	}
	if c.BasicConfig.MaxWorkers > 0 && c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", c.BasicConfig.MaxWorkers, c.BasicConfig.MinWorkers)
	}
	return nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
