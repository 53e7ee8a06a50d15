package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Memory   MemoryConfig   `mapstructure:"memory"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type OpenAIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	EmbedModel string `mapstructure:"embed_model"`
}

// MemoryConfig tunes the retrieval and capture pipeline.
type MemoryConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	ShortTermLimit      int           `mapstructure:"short_term_limit"`
	LongTermLimit       int           `mapstructure:"long_term_limit"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	ShortTermTTL        time.Duration `mapstructure:"short_term_ttl"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
}

// Load reads configuration from the provided path (defaults to config.yaml),
// with KAI_-prefixed environment variables taking precedence over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)

	v.SetDefault("server.address", ":8090")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.embed_model", "text-embedding-3-small")
	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.short_term_limit", 10)
	v.SetDefault("memory.long_term_limit", 5)
	v.SetDefault("memory.similarity_threshold", 0.7)
	v.SetDefault("memory.short_term_ttl", 24*time.Hour)
	v.SetDefault("memory.sweep_interval", time.Hour)

	v.SetEnvPrefix("KAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when env vars carry the required values.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if dbURL := v.GetString("database_url"); dbURL != "" {
		parsed, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
		}
		cfg.Database = parsed
	}
	if key := v.GetString("openai_api_key"); key != "" {
		cfg.OpenAI.APIKey = key
	}

	if cfg.Database.DBName == "" {
		return nil, fmt.Errorf("database name must be configured")
	}
	return &cfg, nil
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		if p, err := strconv.Atoi(u.Port()); err == nil {
			port = p
		}
	}
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}
	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}
