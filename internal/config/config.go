package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Leaderboard computation
	RecomputeDebounce  time.Duration
	ResyncInterval     time.Duration
	RankingConcurrency int
	LeaderboardSize    int
	FetchTimeout       time.Duration

	// Upper bound of an uploaded task import
	MaxImportBytes int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	debounceMs, err := strconv.Atoi(getEnv("RECOMPUTE_DEBOUNCE_MS", "100"))
	if err != nil || debounceMs < 0 {
		return nil, fmt.Errorf("invalid RECOMPUTE_DEBOUNCE_MS: %q", os.Getenv("RECOMPUTE_DEBOUNCE_MS"))
	}
	config.RecomputeDebounce = time.Duration(debounceMs) * time.Millisecond

	config.ResyncInterval, err = time.ParseDuration(getEnv("RESYNC_INTERVAL", "5m"))
	if err != nil || config.ResyncInterval <= 0 {
		return nil, fmt.Errorf("invalid RESYNC_INTERVAL: %q", os.Getenv("RESYNC_INTERVAL"))
	}

	config.FetchTimeout, err = time.ParseDuration(getEnv("FETCH_TIMEOUT", "10s"))
	if err != nil || config.FetchTimeout < 0 {
		return nil, fmt.Errorf("invalid FETCH_TIMEOUT: %q", os.Getenv("FETCH_TIMEOUT"))
	}

	config.RankingConcurrency, err = strconv.Atoi(getEnv("RANKING_CONCURRENCY", "8"))
	if err != nil || config.RankingConcurrency < 1 {
		return nil, fmt.Errorf("invalid RANKING_CONCURRENCY: %q", os.Getenv("RANKING_CONCURRENCY"))
	}

	config.LeaderboardSize, err = strconv.Atoi(getEnv("LEADERBOARD_SIZE", "10"))
	if err != nil || config.LeaderboardSize < 1 {
		return nil, fmt.Errorf("invalid LEADERBOARD_SIZE: %q", os.Getenv("LEADERBOARD_SIZE"))
	}

	maxImportMB, err := strconv.Atoi(getEnv("MAX_IMPORT_MB", "5"))
	if err != nil || maxImportMB < 1 {
		return nil, fmt.Errorf("invalid MAX_IMPORT_MB: %q", os.Getenv("MAX_IMPORT_MB"))
	}
	config.MaxImportBytes = int64(maxImportMB) << 20

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
