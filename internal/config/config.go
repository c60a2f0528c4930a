package config

import (
	"os"
	"strconv"
)

type Config struct {
	// APP
	AppEnv string
	Port   string

	// Database
	DBHost      string
	DBPort      string
	DBUser      string
	DBPass      string
	DBName      string
	DatabaseURL string

	JWTSecret string

	// Toggl credentials. Token wins when both are set.
	TogglAPIToken string
	TogglEmail    string
	TogglPassword string

	// Admin login
	AdminUsername string
	AdminPassword string

	// Sync defaults
	HistoricalDays  int
	ChunkSizeDays   int
	ChunksPerCall   int
	RetentionMonths int
}

func Load() (*Config, error) {
	cfg := &Config{
		// App
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8002"),

		// DB
		DBHost:      getEnv("DB_HOST", "127.0.0.1"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPass:      getEnv("DB_PASS", "postgres"),
		DBName:      getEnv("DB_NAME", "toggl_mirror_db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "secret123"),

		// Toggl
		TogglAPIToken: getEnv("TOGGL_API_TOKEN", ""),
		TogglEmail:    getEnv("TOGGL_EMAIL", ""),
		TogglPassword: getEnv("TOGGL_PASSWORD", ""),

		// Admin login
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "toggl-mirror-2025"),

		// Sync defaults
		HistoricalDays:  getEnvInt("SYNC_HISTORICAL_DAYS", 365),
		ChunkSizeDays:   getEnvInt("SYNC_CHUNK_SIZE_DAYS", 30),
		ChunksPerCall:   getEnvInt("SYNC_CHUNKS_PER_CALL", 1),
		RetentionMonths: getEnvInt("SYNC_RETENTION_MONTHS", 12),
	}

	return cfg, nil
}

// getEnv returns environment variable or default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns int from env or default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
