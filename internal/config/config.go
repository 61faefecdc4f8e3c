package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env       string
	Version   string
	LogLevel  string
	LogFormat string
	LogFile   string // client only; stdout belongs to the terminal

	// Client
	GatewayURL       string
	Token            string
	TokenFile        string
	EscapeKey        string
	PingInterval     time.Duration
	HandshakeTimeout time.Duration

	// Gateway
	RedisURL           string
	RedisAddr          string // host:port format for Asynq, empty disables the queue
	EncryptionKey      string
	SessionIdleTimeout time.Duration
	ConnectRate        int // relay connections accepted per second
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Env:                getEnv("ENV", "development"),
		Version:            getEnv("VERSION", "0.1.0"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "pretty"),
		LogFile:            getEnv("WEBTERM_LOG_FILE", ""),
		GatewayURL:         getEnv("WEBTERM_GATEWAY_URL", "http://127.0.0.1:8090"),
		Token:              getEnv("WEBTERM_TOKEN", ""),
		TokenFile:          getEnv("WEBTERM_TOKEN_FILE", ""),
		EscapeKey:          getEnv("WEBTERM_ESCAPE_KEY", "ctrl-]"),
		PingInterval:       getEnvAsDuration("WEBTERM_PING_INTERVAL", 0),
		HandshakeTimeout:   getEnvAsDuration("WEBTERM_HANDSHAKE_TIMEOUT", 0),
		RedisURL:           getEnv("REDIS_URL", ""),
		EncryptionKey:      getEnv("WEBTERM_ENCRYPTION_KEY", ""),
		SessionIdleTimeout: getEnvAsDuration("WEBTERM_SESSION_IDLE_TIMEOUT", 30*time.Minute),
		ConnectRate:        getEnvAsInt("WEBTERM_CONNECT_RATE", 10),
	}

	// REDIS_ADDR wins over REDIS_URL
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	if cfg.RedisAddr == "" && cfg.RedisURL != "" {
		cfg.RedisAddr = parseRedisAddr(cfg.RedisURL)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs := getEnvAsInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// parseRedisAddr extracts host:port from Redis URL
// Supports: redis://host:port, host:port, host
func parseRedisAddr(redisURL string) string {
	addr := strings.TrimPrefix(redisURL, "redis://")
	addr = strings.TrimPrefix(addr, "rediss://")
	addr = strings.TrimSuffix(addr, "/")

	// If no port specified, add default Redis port
	if !strings.Contains(addr, ":") {
		addr = addr + ":6379"
	}

	return addr
}
