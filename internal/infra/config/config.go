package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values loaded from environment
// variables.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers     []string
	KafkaTopicPrefix string

	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayWebhookSecret string

	CheckoutSuccessURL string
	CheckoutCancelURL  string

	Timezone *time.Location

	OutboxPollInterval    time.Duration
	SchedulerPollInterval time.Duration
	SweepInterval         time.Duration

	CalendarFetchTimeout time.Duration
	CalendarMaxBytes     int64
	CalendarAllowedHosts []string
}

// Load parses configuration from the current environment. A .env file in the
// working directory is merged in first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:                  getEnv("APP_ENV", "dev"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		KafkaTopicPrefix:     getEnv("KAFKA_TOPIC_PREFIX", ""),
		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", "https://api.stripe.com"),
		GatewayAPIKey:        os.Getenv("GATEWAY_API_KEY"),
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),
		CheckoutSuccessURL:   getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
		CheckoutCancelURL:    getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
	}

	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	hosts := getEnv("CALENDAR_ALLOWED_HOSTS", "")
	if hosts != "" {
		for _, h := range strings.Split(hosts, ",") {
			if h = strings.TrimSpace(h); h != "" {
				cfg.CalendarAllowedHosts = append(cfg.CalendarAllowedHosts, h)
			}
		}
	}

	redisDB, err := parseIntEnv("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB = redisDB

	tzName := getEnv("TIMEZONE", "America/Mexico_City")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE %q: %w", tzName, err)
	}
	cfg.Timezone = loc

	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.SchedulerPollInterval, err = parseDurationEnv("SCHEDULER_POLL_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = parseDurationEnv("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.CalendarFetchTimeout, err = parseDurationEnv("CALENDAR_FETCH_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	maxBytes, err := parseIntEnv("CALENDAR_MAX_BYTES", 1<<20)
	if err != nil {
		return Config{}, err
	}
	cfg.CalendarMaxBytes = int64(maxBytes)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GatewayAPIKey == "" {
		return Config{}, fmt.Errorf("GATEWAY_API_KEY is required")
	}
	if cfg.GatewayWebhookSecret == "" {
		return Config{}, fmt.Errorf("GATEWAY_WEBHOOK_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d", &v); err != nil {
		return 0, fmt.Errorf("invalid %s integer: %q", key, raw)
	}
	return v, nil
}
