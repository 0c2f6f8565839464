package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	LinkHealth LinkHealthConfig `mapstructure:"link_health"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Settings   SettingsConfig   `mapstructure:"settings"`
}

type ServerConfig struct {
	Port       int        `mapstructure:"port"`
	Mode       string     `mapstructure:"mode"`
	AdminToken string     `mapstructure:"admin_token"`
	CORS       CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AnalysisConfig configures the OpenAI-compatible content analyzer.
type AnalysisConfig struct {
	Model        string        `mapstructure:"model"`
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PageTimeout  time.Duration `mapstructure:"page_timeout"`
	MaxPageBytes int64         `mapstructure:"max_page_bytes"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// EnrichmentConfig configures the sequential job queue processor.
type EnrichmentConfig struct {
	ItemDelay   time.Duration `mapstructure:"item_delay"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// LinkHealthConfig configures the batch link checker.
type LinkHealthConfig struct {
	Workers          int           `mapstructure:"workers"`
	Timeout          time.Duration `mapstructure:"timeout"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// ArchiveConfig configures the optional S3-compatible report archive.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
	PublicURL string `mapstructure:"public_url"`
}

// SettingsConfig picks the settings sink backend: "database" or "redis".
type SettingsConfig struct {
	Backend string `mapstructure:"backend"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("analysis.api_key", "OPENAI_API_KEY")
	v.BindEnv("analysis.base_url", "OPENAI_BASE_URL")
	v.BindEnv("analysis.model", "ANALYSIS_MODEL")
	v.BindEnv("archive.access_key", "S3_ACCESS_KEY")
	v.BindEnv("archive.secret_key", "S3_SECRET_KEY")
	v.BindEnv("server.admin_token", "ADMIN_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/curator.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("analysis.model", "gpt-4o-mini")
	v.SetDefault("analysis.base_url", "https://api.openai.com/v1")
	v.SetDefault("analysis.timeout", 60*time.Second)
	v.SetDefault("analysis.page_timeout", 15*time.Second)
	v.SetDefault("analysis.max_page_bytes", 2<<20)
	v.SetDefault("analysis.cache_ttl", 24*time.Hour)

	v.SetDefault("enrichment.item_delay", time.Second)
	v.SetDefault("enrichment.backoff_base", time.Second)
	v.SetDefault("enrichment.max_attempts", 3)

	v.SetDefault("link_health.workers", 10)
	v.SetDefault("link_health.timeout", 10*time.Second)
	v.SetDefault("link_health.history_limit", 50)
	v.SetDefault("link_health.schedule_interval", 0)
	v.SetDefault("link_health.user_agent", "curator-linkcheck/1.0")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.use_ssl", true)
	v.SetDefault("archive.bucket", "curator-reports")
	v.SetDefault("archive.prefix", "link-health")

	v.SetDefault("settings.backend", "database")
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	if c.Enrichment.MaxAttempts < 1 {
		return fmt.Errorf("enrichment.max_attempts must be at least 1")
	}
	if c.LinkHealth.Workers < 1 {
		return fmt.Errorf("link_health.workers must be at least 1")
	}
	if c.LinkHealth.Timeout <= 0 {
		return fmt.Errorf("link_health.timeout must be positive")
	}
	switch c.Settings.Backend {
	case "database":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("settings.backend=redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unknown settings.backend %q", c.Settings.Backend)
	}
	if c.Archive.Enabled && c.Archive.Endpoint == "" {
		return fmt.Errorf("archive.endpoint is required when archive is enabled")
	}
	return nil
}
