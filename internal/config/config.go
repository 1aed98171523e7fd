package config

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Name          string `mapstructure:"name"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	ConsumerGroupID string   `mapstructure:"consumer_group_id"`
	Topics          []string `mapstructure:"topics"`
}

// GatewayConfig points at the push gateway that talks to APNs/FCM/WebPush.
type GatewayConfig struct {
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type AuthConfig struct {
	// Secret signs and verifies the HS256 service tokens.
	Secret string `mapstructure:"secret"`
}

// PipelineConfig tunes the background jobs.
type PipelineConfig struct {
	// DispatchCron is the schedule of the consolidation and dispatch cycle.
	DispatchCron string `mapstructure:"dispatch_cron"`
	BatchSize    int    `mapstructure:"batch_size"`
	// RetryCron is the schedule of the retry sweep.
	RetryCron  string `mapstructure:"retry_cron"`
	SweepLimit int    `mapstructure:"sweep_limit"`
	// CleanupCron is the schedule of the retention cleanup.
	CleanupCron   string `mapstructure:"cleanup_cron"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: MEALBRIDGE_NOTIF_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.env", "development")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mealbridge_notification")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group_id", "mealbridge-notification-group")
	v.SetDefault("kafka.topics", []string{"listing-events", "community-events", "chat-events", "notification-commands"})
	v.SetDefault("gateway.url", "http://localhost:8095/push")
	v.SetDefault("gateway.timeout_seconds", 10)
	v.SetDefault("pipeline.dispatch_cron", "@every 1m")
	v.SetDefault("pipeline.batch_size", 100)
	v.SetDefault("pipeline.retry_cron", "@every 1m")
	v.SetDefault("pipeline.sweep_limit", 50)
	v.SetDefault("pipeline.cleanup_cron", "0 3 * * *")
	v.SetDefault("pipeline.retention_days", 7)

	// Environment variables (e.g. DATABASE_HOST -> database.host)
	v.SetEnvPrefix("MEALBRIDGE_NOTIF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("gateway.url", "PUSH_GATEWAY_URL")
	v.BindEnv("gateway.api_key", "PUSH_GATEWAY_API_KEY")
	v.BindEnv("auth.secret", "SERVICE_AUTH_SECRET")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}

// URL returns the postgres:// URL used by the migration runner.
func (d DatabaseConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" +
		strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}
