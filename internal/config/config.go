/**
 * @description
 * This package handles configuration for every service binary in the
 * platform. It uses Viper to read environment variables, with an optional
 * .env file for local development, and coerces nonsense values back to safe
 * defaults after unmarshalling.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the service binaries. Each binary reads
// the subset it needs.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	EventExchange          string `mapstructure:"EVENT_EXCHANGE"`
	AccountEventQueue      string `mapstructure:"ACCOUNT_EVENT_QUEUE"`
	MovementEventQueue     string `mapstructure:"MOVEMENT_EVENT_QUEUE"`
	NotificationEventQueue string `mapstructure:"NOTIFICATION_EVENT_QUEUE"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	CommandMaxRetries         int `mapstructure:"COMMAND_MAX_RETRIES"`
	StorageTimeoutMillis      int `mapstructure:"STORAGE_TIMEOUT_MS"`
	OutboxBatchSize           int `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxPollIntervalMillis  int `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxMaxAttempts         int `mapstructure:"OUTBOX_MAX_ATTEMPTS"`
	OutboxStaleProcessingSecs int `mapstructure:"OUTBOX_STALE_PROCESSING_SECONDS"`

	CommandRateLimitPerMinute int    `mapstructure:"COMMAND_RATE_LIMIT_PER_MINUTE"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
}

// LoadConfig reads configuration from environment variables, with an optional
// .env file at the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENT_EXCHANGE", "bank.events")
	viper.SetDefault("ACCOUNT_EVENT_QUEUE", "account_service.transaction_events")
	viper.SetDefault("MOVEMENT_EVENT_QUEUE", "movement_service.transaction_events")
	viper.SetDefault("NOTIFICATION_EVENT_QUEUE", "notification_service.transaction_events")
	viper.SetDefault("COMMAND_MAX_RETRIES", 3)
	viper.SetDefault("STORAGE_TIMEOUT_MS", 5000)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1200)
	viper.SetDefault("OUTBOX_MAX_ATTEMPTS", 10)
	viper.SetDefault("OUTBOX_STALE_PROCESSING_SECONDS", 120)
	viper.SetDefault("COMMAND_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "bank:rate_limit")

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("ACCOUNT_EVENT_QUEUE")
	_ = viper.BindEnv("MOVEMENT_EVENT_QUEUE")
	_ = viper.BindEnv("NOTIFICATION_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PLATFORM_INTERNAL_API_KEY")
	_ = viper.BindEnv("COMMAND_MAX_RETRIES")
	_ = viper.BindEnv("STORAGE_TIMEOUT_MS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("OUTBOX_MAX_ATTEMPTS")
	_ = viper.BindEnv("OUTBOX_STALE_PROCESSING_SECONDS")
	_ = viper.BindEnv("COMMAND_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	// Platform-as-a-service deployments inject PORT; prefer it when present.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PLATFORM_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "bank:rate_limit"
	}

	if config.CommandMaxRetries < 0 {
		log.Printf("level=warn component=config msg=\"negative command retry bound; coercing to default\" value=%d", config.CommandMaxRetries)
		config.CommandMaxRetries = 3
	}
	if config.StorageTimeoutMillis <= 0 {
		config.StorageTimeoutMillis = 5000
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 50
	}
	if config.OutboxPollIntervalMillis <= 0 {
		config.OutboxPollIntervalMillis = 1200
	}
	if config.OutboxMaxAttempts <= 0 {
		config.OutboxMaxAttempts = 10
	}
	if config.OutboxStaleProcessingSecs <= 0 {
		config.OutboxStaleProcessingSecs = 120
	}
	if config.CommandRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative rate limit; disabling\" value=%d", config.CommandRateLimitPerMinute)
		config.CommandRateLimitPerMinute = 0
	}

	return
}
