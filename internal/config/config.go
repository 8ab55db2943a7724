package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string
	Environment   string
	StorageDriver string
	Database      DatabaseConfig
	Partner       PartnerConfig
	Credential    CredentialConfig
	Breaker       BreakerConfig
	Queue         QueueConfig
	Sync          SyncConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	API           APIConfig
	LogLevel      string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PartnerConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type CredentialConfig struct {
	// ExpiryPolicy is "daily_reset" or "ttl"
	ExpiryPolicy string
	TimeZone     string
	ResetHour    int
	TTL          time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

type QueueConfig struct {
	MinDelay time.Duration
}

type SyncConfig struct {
	// Interval of 0 disables the background reconciliation loop
	Interval            time.Duration
	RetryPollInterval   time.Duration
	RetryBaseDelay      time.Duration
	RetryMaxAttempts    int
	SystemOperatorID    string
	SystemSourceAddress string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type APIConfig struct {
	KeyHashCost int
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	ExpiryPolicyDailyReset = "daily_reset"
	ExpiryPolicyTTL        = "ttl"
)

func Load() (*Config, error) {
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("LOG_LEVEL", "info")

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read .env file (optional)
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Port:          getEnvOrViper("PORT", "8080"),
		Environment:   getEnvOrViper("ENVIRONMENT", "development"),
		StorageDriver: getEnvOrViper("STORAGE_DRIVER", StorageDriverPostgres),
		Database: DatabaseConfig{
			Host:     getEnvOrViper("DB_HOST", "localhost"),
			Port:     getEnvOrViper("DB_PORT", "5432"),
			User:     getEnvOrViper("DB_USER", "postgres"),
			Password: getEnvOrViper("DB_PASSWORD", "postgres"),
			DBName:   getEnvOrViper("DB_NAME", "labconnect"),
			SSLMode:  getEnvOrViper("DB_SSLMODE", "disable"),
		},
		Partner: PartnerConfig{
			BaseURL:  getEnvOrViper("PARTNER_BASE_URL", ""),
			Username: getEnvOrViper("PARTNER_USERNAME", ""),
			Password: getEnvOrViper("PARTNER_PASSWORD", ""),
		},
		Credential: CredentialConfig{
			ExpiryPolicy: getEnvOrViper("CREDENTIAL_EXPIRY_POLICY", ExpiryPolicyDailyReset),
			TimeZone:     getEnvOrViper("PARTNER_TIMEZONE", "Asia/Kolkata"),
		},
		Sync: SyncConfig{
			SystemOperatorID:    getEnvOrViper("SYSTEM_OPERATOR_ID", "system"),
			SystemSourceAddress: getEnvOrViper("SYSTEM_SOURCE_ADDRESS", "internal"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrViper("REDIS_ADDR", ""),
			Password: getEnvOrViper("REDIS_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnvOrViper("KAFKA_BROKERS", "")),
			Topic:   getEnvOrViper("KAFKA_TOPIC", "lab.order-events"),
		},
		LogLevel: getEnvOrViper("LOG_LEVEL", "info"),
	}

	var err error
	durations := []struct {
		key    string
		def    string
		target *time.Duration
	}{
		{"PARTNER_TIMEOUT", "30s", &cfg.Partner.Timeout},
		{"CREDENTIAL_TTL", "24h", &cfg.Credential.TTL},
		{"BREAKER_TIMEOUT", "120s", &cfg.Breaker.Timeout},
		{"QUEUE_MIN_DELAY", "10s", &cfg.Queue.MinDelay},
		{"SYNC_INTERVAL", "15m", &cfg.Sync.Interval},
		{"RETRY_POLL_INTERVAL", "1m", &cfg.Sync.RetryPollInterval},
		{"RETRY_BASE_DELAY", "2m", &cfg.Sync.RetryBaseDelay},
	}
	for _, d := range durations {
		if *d.target, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key    string
		def    int
		target *int
	}{
		{"PARTNER_RESET_HOUR", 0, &cfg.Credential.ResetHour},
		{"BREAKER_FAILURE_THRESHOLD", 3, &cfg.Breaker.FailureThreshold},
		{"BREAKER_SUCCESS_THRESHOLD", 2, &cfg.Breaker.SuccessThreshold},
		{"RETRY_MAX_ATTEMPTS", 5, &cfg.Sync.RetryMaxAttempts},
		{"REDIS_DB", 0, &cfg.Redis.DB},
		{"API_KEY_HASH_COST", 10, &cfg.API.KeyHashCost},
	}
	for _, i := range ints {
		if *i.target, err = getInt(i.key, i.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.Partner.BaseURL == "" {
		return fmt.Errorf("PARTNER_BASE_URL is required")
	}
	if c.Partner.Username == "" {
		return fmt.Errorf("PARTNER_USERNAME is required")
	}
	if c.Partner.Password == "" {
		return fmt.Errorf("PARTNER_PASSWORD is required")
	}
	if c.StorageDriver != StorageDriverPostgres && c.StorageDriver != StorageDriverMemory {
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q", StorageDriverPostgres, StorageDriverMemory)
	}
	switch c.Credential.ExpiryPolicy {
	case ExpiryPolicyDailyReset:
		if _, err := time.LoadLocation(c.Credential.TimeZone); err != nil {
			return fmt.Errorf("invalid PARTNER_TIMEZONE %q: %w", c.Credential.TimeZone, err)
		}
		if c.Credential.ResetHour < 0 || c.Credential.ResetHour > 23 {
			return fmt.Errorf("PARTNER_RESET_HOUR must be between 0 and 23")
		}
	case ExpiryPolicyTTL:
		if c.Credential.TTL <= 0 {
			return fmt.Errorf("CREDENTIAL_TTL must be positive")
		}
	default:
		return fmt.Errorf("CREDENTIAL_EXPIRY_POLICY must be %q or %q", ExpiryPolicyDailyReset, ExpiryPolicyTTL)
	}
	if c.Queue.MinDelay < 0 {
		return fmt.Errorf("QUEUE_MIN_DELAY must not be negative")
	}
	return nil
}

func getEnvOrViper(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnvOrViper(key, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnvOrViper(key, strconv.Itoa(defaultValue))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
