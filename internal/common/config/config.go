// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Firebase      FirebaseConfig     `mapstructure:"firebase"`
	Integrations  IntegrationConfig  `mapstructure:"integrations"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Health        HealthConfig       `mapstructure:"health"`
	HTTP          HTTPConfig         `mapstructure:"http"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FirebaseConfig holds the push gateway bootstrap settings. When the
// credentials file is absent the engine runs with push delivery skipped.
type FirebaseConfig struct {
	CredentialsPath string `mapstructure:"credentials_path"`
	ProjectID       string `mapstructure:"project_id"`
}

// IntegrationConfig holds settings for email/SMS provider services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// NotificationConfig holds the dispatch and scheduling policy knobs.
type NotificationConfig struct {
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
	BatchSize          int      `mapstructure:"batch_size"`
	BulkBatchSize      int      `mapstructure:"bulk_batch_size"`
	InvalidTokenTTL    int      `mapstructure:"invalid_token_ttl"` // seconds
	TokenCacheTTL      int      `mapstructure:"token_cache_ttl"`   // seconds
	TokenMinLength     int      `mapstructure:"token_min_length"`
	TokenSweepDays     int      `mapstructure:"token_sweep_days"`
	DefaultChannels    []string `mapstructure:"default_channels"`
	SchedulerInterval  int      `mapstructure:"scheduler_interval"` // seconds
	SweepInterval      int      `mapstructure:"sweep_interval"`     // seconds
	RequestTimeout     int      `mapstructure:"request_timeout"`    // milliseconds
	MaxRetries         int      `mapstructure:"max_retries"`
	RetryBaseDelay     int      `mapstructure:"retry_base_delay"` // milliseconds
}

// HealthConfig holds the health monitor tuning.
type HealthConfig struct {
	CacheTTL      int                `mapstructure:"cache_ttl"`       // seconds
	StatsCacheTTL int                `mapstructure:"stats_cache_ttl"` // seconds
	MetricWeights map[string]float64 `mapstructure:"metric_weights"`
}

// HTTPConfig holds the metrics/health endpoint settings.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
