// Package config loads service configuration from a YAML file with
// environment overrides for deployment secrets.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Dispatch  DispatchConfig
	Scheduler SchedulerConfig
	Retention RetentionConfig
	Alerts    AlertsConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
	// RateLimitRPS caps operator API requests per client IP. Zero disables.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type AuthConfig struct {
	// Secret signs the HS256 service tokens the operator API accepts.
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type DispatchConfig struct {
	SweepIntervalSeconds  int `mapstructure:"sweep_interval_seconds"`
	GatewayTimeoutSeconds int `mapstructure:"gateway_timeout_seconds"`
	MaxParallelTenants    int `mapstructure:"max_parallel_tenants"`
	AlertFailureThreshold int `mapstructure:"alert_failure_threshold"`
}

func (c DispatchConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c DispatchConfig) GatewayTimeout() time.Duration {
	if c.GatewayTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

type SchedulerConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	ContentBatchSize     int `mapstructure:"content_batch_size"`
}

func (c SchedulerConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

type RetentionConfig struct {
	KeepSentDays         int `mapstructure:"keep_sent_days"`
	CleanupIntervalHours int `mapstructure:"cleanup_interval_hours"`
}

func (c RetentionConfig) KeepSentFor() time.Duration {
	days := c.KeepSentDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c RetentionConfig) CleanupInterval() time.Duration {
	hours := c.CleanupIntervalHours
	if hours <= 0 {
		hours = 6
	}
	return time.Duration(hours) * time.Hour
}

type AlertsConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// envOverrides carries the values that differ per deployment and must never
// live in the YAML file. Prefixed SCHOOL_, e.g. SCHOOL_DB_PASSWORD.
type envOverrides struct {
	DBHost       string `envconfig:"DB_HOST"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	RedisURL     string `envconfig:"REDIS_URL"`
	AuthSecret   string `envconfig:"AUTH_SECRET"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("school", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if env.DBHost != "" {
		config.Database.Host = env.DBHost
	}
	if env.DBPassword != "" {
		config.Database.Password = env.DBPassword
	}
	if env.RedisURL != "" {
		config.Redis.URL = env.RedisURL
	}
	if env.AuthSecret != "" {
		config.Auth.Secret = env.AuthSecret
	}
	if env.SMTPPassword != "" {
		config.Alerts.Password = env.SMTPPassword
	}

	return &config, nil
}
