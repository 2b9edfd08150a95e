// Package config loads the coordinator's nested configuration via
// viper: a config file (yaml), overridden by SHIFTCOVER_-prefixed
// environment variables, layered over built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telephony  TelephonyConfig  `mapstructure:"telephony"`
	SMS        SMSConfig        `mapstructure:"sms"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Charset         string        `mapstructure:"charset"`
}

type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TelephonyConfig governs the inbound-call webhook server (T).
type TelephonyConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	OriginateBaseURL string       `mapstructure:"originate_base_url"`
}

// SMSConfig governs the SMS webhook server and outbound sender (M).
type SMSConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	Port          int           `mapstructure:"port"`
	SendBaseURL   string        `mapstructure:"send_base_url"`
	ReplyWindow   time.Duration `mapstructure:"reply_window"`
}

// QueueConfig governs the Delayed Job Queue's worker pool (Q).
type QueueConfig struct {
	WorkerPoolSize  int           `mapstructure:"worker_pool_size"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ClaimLockTTL    time.Duration `mapstructure:"claim_lock_ttl"`
	MaxRetries      int           `mapstructure:"max_retries"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string         `mapstructure:"level"`
	Format string         `mapstructure:"format"`
	Output string         `mapstructure:"output"`
	File   LoggingFileCfg `mapstructure:"file"`
}

type LoggingFileCfg struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type SecurityConfig struct {
	WebhookSharedSecret string `mapstructure:"webhook_shared_secret"`
	RateLimit           int    `mapstructure:"rate_limit"`
}

// Load reads configuration from file, environment, and defaults, then validates it.
func Load(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("shiftcover")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/shiftcover")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("SHIFTCOVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "shiftcover-coordinator")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "shiftcover")
	viper.SetDefault("database.password", "shiftcover")
	viper.SetDefault("database.database", "shiftcover")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.retry_attempts", 2)
	viper.SetDefault("database.retry_delay", "200ms")
	viper.SetDefault("database.charset", "utf8mb4")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")

	viper.SetDefault("telephony.listen_address", "0.0.0.0")
	viper.SetDefault("telephony.port", 8090)
	viper.SetDefault("telephony.read_timeout", "10s")
	viper.SetDefault("telephony.write_timeout", "10s")
	viper.SetDefault("telephony.idle_timeout", "120s")
	viper.SetDefault("telephony.shutdown_timeout", "30s")
	viper.SetDefault("telephony.call_timeout", "10m")

	viper.SetDefault("sms.listen_address", "0.0.0.0")
	viper.SetDefault("sms.port", 8091)
	viper.SetDefault("sms.reply_window", "24h")

	viper.SetDefault("queue.worker_pool_size", 5)
	viper.SetDefault("queue.poll_interval", "1s")
	viper.SetDefault("queue.claim_lock_ttl", "30s")
	viper.SetDefault("queue.max_retries", 3)
	viper.SetDefault("queue.key_prefix", "shiftcover:queue")

	viper.SetDefault("monitoring.metrics.enabled", true)
	viper.SetDefault("monitoring.metrics.port", 9090)
	viper.SetDefault("monitoring.health.enabled", true)
	viper.SetDefault("monitoring.health.port", 8080)
	viper.SetDefault("monitoring.logging.level", "info")
	viper.SetDefault("monitoring.logging.format", "json")
	viper.SetDefault("monitoring.logging.output", "stdout")

	viper.SetDefault("security.rate_limit", 100)
}

func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Telephony.Port <= 0 || c.Telephony.Port > 65535 {
		return fmt.Errorf("invalid telephony port: %d", c.Telephony.Port)
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		return fmt.Errorf("invalid redis port: %d", c.Redis.Port)
	}

	if c.Queue.WorkerPoolSize <= 0 {
		return fmt.Errorf("queue worker pool size must be positive")
	}

	if c.Monitoring.Metrics.Enabled && (c.Monitoring.Metrics.Port <= 0 || c.Monitoring.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Monitoring.Metrics.Port)
	}
	if c.Monitoring.Health.Enabled && (c.Monitoring.Health.Port <= 0 || c.Monitoring.Health.Port > 65535) {
		return fmt.Errorf("invalid health port: %d", c.Monitoring.Health.Port)
	}

	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database, charset)
}

func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *TelephonyConfig) GetListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.Port)
}

func (c *SMSConfig) GetListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.Port)
}

func (c *AppConfig) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *AppConfig) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
