// Package config centralizes the environment variables used by the server binary.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config aggregates every tunable the API process needs.
type Config struct {
	HTTPAddress string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RelayChannelPrefix namespaces the pub/sub channels used to mirror
	// broadcasts to sibling processes. Empty disables the relay.
	RelayEnabled       bool
	RelayChannelPrefix string

	RateLimitEnabled       bool
	RateLimitMaxVotes      int
	RateLimitWindowSeconds int
	RateLimitKeyPrefix     string

	AutoMigrate bool
}

func Load() (Config, error) {
	// A local .env is a convenience for development; absence is not an error.
	_ = godotenv.Load()

	// Defaults favour local runs; env vars override them in Docker/K8s.
	cfg := Config{
		HTTPAddress:            getEnv("HTTP_ADDRESS", ":8080"),
		PostgresHost:           getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:           getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:           getEnv("POSTGRES_USER", "crowdpulse"),
		PostgresPassword:       getEnv("POSTGRES_PASSWORD", "crowdpulse"),
		PostgresDB:             getEnv("POSTGRES_DB", "crowdpulse"),
		PostgresSSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
		RedisAddr:              getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RelayEnabled:           getEnvAsBool("BROADCAST_RELAY_ENABLED", false),
		RelayChannelPrefix:     getEnv("BROADCAST_RELAY_PREFIX", "relay"),
		RateLimitEnabled:       getEnvAsBool("VOTE_RATE_LIMIT_ENABLED", true),
		RateLimitMaxVotes:      getEnvAsInt("VOTE_RATE_LIMIT_MAX", 30),
		RateLimitWindowSeconds: getEnvAsInt("VOTE_RATE_LIMIT_WINDOW", 60),
		RateLimitKeyPrefix:     getEnv("VOTE_RATE_LIMIT_PREFIX", "ratelimit"),
		AutoMigrate:            getEnvAsBool("DB_AUTO_MIGRATE", true),
	}

	dbStr := getEnv("REDIS_DB", "0")
	dbInt, err := strconv.Atoi(dbStr)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = dbInt

	return cfg, nil
}

func (c Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresSSLMode,
	)
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvAsInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvAsBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	switch value {
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return true
	}
}
