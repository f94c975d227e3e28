package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	LRS       LRSConfig       `mapstructure:"lrs"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Network   NetworkConfig   `mapstructure:"network"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Path        string `mapstructure:"path"`
	BusyTimeout int    `mapstructure:"busy_timeout_ms"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

// LRSConfig 远程 Learning Record Store 的连接配置
type LRSConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	AuthToken string        `mapstructure:"auth_token"`
	Version   string        `mapstructure:"version"`
	Timeout   time.Duration `mapstructure:"timeout_seconds"`
	HomePage  string        `mapstructure:"home_page"`
}

// SyncConfig 离线同步引擎的调度参数
type SyncConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	LowPower          bool          `mapstructure:"low_power"`
	LowPowerBatchSize int           `mapstructure:"low_power_batch_size"`
	MaxRetryAttempts  int           `mapstructure:"max_retry_attempts"`
	Interval          time.Duration `mapstructure:"interval_seconds"`
	RetentionDays     int           `mapstructure:"retention_days"`
	QueueMaxSize      int           `mapstructure:"queue_max_size"`
	ConflictLogSize   int           `mapstructure:"conflict_log_size"`
}

type NetworkConfig struct {
	ProbeTarget   string        `mapstructure:"probe_target"`
	ProbeInterval time.Duration `mapstructure:"probe_interval_seconds"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout_seconds"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("XAPI_SYNC")
	viper.AutomaticEnv()

	// Database
	viper.BindEnv("database.path", "DATABASE_PATH")

	// JWT
	viper.BindEnv("jwt.secret", "JWT_SECRET")

	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.mode", "SERVER_MODE")

	// LRS
	viper.BindEnv("lrs.endpoint", "LRS_ENDPOINT")
	viper.BindEnv("lrs.auth_token", "LRS_AUTH_TOKEN")
	viper.BindEnv("lrs.version", "LRS_VERSION")

	// Sync
	viper.BindEnv("sync.batch_size", "SYNC_BATCH_SIZE")
	viper.BindEnv("sync.interval_seconds", "SYNC_INTERVAL_SECONDS")
	viper.BindEnv("sync.retention_days", "SYNC_RETENTION_DAYS")

	// Network
	viper.BindEnv("network.probe_target", "NETWORK_PROBE_TARGET")

	// Tracing
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	cfg.LRS.Timeout = cfg.LRS.Timeout * time.Second
	cfg.Sync.Interval = cfg.Sync.Interval * time.Second
	cfg.Network.ProbeInterval = cfg.Network.ProbeInterval * time.Second
	cfg.Network.ProbeTimeout = cfg.Network.ProbeTimeout * time.Second

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/statements.db"
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = 5000
	}
	if cfg.LRS.Version == "" {
		cfg.LRS.Version = "1.0.3"
	}
	if cfg.LRS.Timeout == 0 {
		cfg.LRS.Timeout = 30 * time.Second
	}
	if cfg.LRS.HomePage == "" {
		cfg.LRS.HomePage = "https://lms.example.com"
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 10
	}
	if cfg.Sync.LowPowerBatchSize == 0 {
		cfg.Sync.LowPowerBatchSize = 5
	}
	if cfg.Sync.MaxRetryAttempts == 0 {
		cfg.Sync.MaxRetryAttempts = 3
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 5 * time.Minute
	}
	if cfg.Sync.RetentionDays == 0 {
		cfg.Sync.RetentionDays = 30
	}
	if cfg.Sync.QueueMaxSize == 0 {
		cfg.Sync.QueueMaxSize = 1000
	}
	if cfg.Sync.ConflictLogSize == 0 {
		cfg.Sync.ConflictLogSize = 100
	}
	if cfg.Network.ProbeInterval == 0 {
		cfg.Network.ProbeInterval = 15 * time.Second
	}
	if cfg.Network.ProbeTimeout == 0 {
		cfg.Network.ProbeTimeout = 3 * time.Second
	}
}
