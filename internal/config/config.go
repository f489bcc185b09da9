package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	MigrateOnStart bool

	// Redis
	RedisURL string

	// Ledger storage backend: memory, postgres or redis
	LedgerBackend string

	// Server
	Port        string
	FrontendURL string

	// Escrow
	GameFeeBps         int
	GameTimeoutMinutes int
	MinStakeAmount     int
	CASMaxAttempts     int

	// Exchange
	SwapFeePercent    int
	SwapMinGame       int
	SwapMinChessMicro int
	SwapDailyLimit    int

	// Background jobs
	ReconcileIntervalSecs int

	// Minting bridge
	MintBaseURL        string
	MintTokenURL       string
	MintClientID       string
	MintClientSecret   string
	MintTimeoutSeconds int
	MintPollSeconds    int
	MintMaxAttempts    int

	// Security
	JWTSecret  string
	RefereeKey string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		LedgerBackend: getEnv("LEDGER_BACKEND", "memory"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Escrow
		GameFeeBps:         getEnvInt("GAME_FEE_BPS", 250),
		GameTimeoutMinutes: getEnvInt("GAME_TIMEOUT_MINUTES", 30),
		MinStakeAmount:     getEnvInt("MIN_STAKE_AMOUNT", 1),
		CASMaxAttempts:     getEnvInt("CAS_MAX_ATTEMPTS", 5),

		// Exchange
		SwapFeePercent:    getEnvInt("SWAP_FEE_PERCENT", 1),
		SwapMinGame:       getEnvInt("SWAP_MIN_GAME", 10),
		SwapMinChessMicro: getEnvInt("SWAP_MIN_CHESS_MICRO", 1_000_000),
		SwapDailyLimit:    getEnvInt("SWAP_DAILY_LIMIT", 100_000),

		ReconcileIntervalSecs: getEnvInt("RECONCILE_INTERVAL_SECONDS", 60),

		// Minting bridge
		MintBaseURL:        getEnv("MINT_BASE_URL", ""),
		MintTokenURL:       getEnv("MINT_TOKEN_URL", "/oauth/token"),
		MintClientID:       getEnv("MINT_CLIENT_ID", ""),
		MintClientSecret:   getEnv("MINT_CLIENT_SECRET", ""),
		MintTimeoutSeconds: getEnvInt("MINT_TIMEOUT_SECONDS", 10),
		MintPollSeconds:    getEnvInt("MINT_POLL_SECONDS", 30),
		MintMaxAttempts:    getEnvInt("MINT_MAX_ATTEMPTS", 10),

		// Security
		JWTSecret:  getEnv("JWT_SECRET", "change-me-in-production"),
		RefereeKey: getEnv("REFEREE_KEY", ""),
	}
}

// MintEnabled reports whether the minting bridge is configured
func (c *Config) MintEnabled() bool {
	return c.MintBaseURL != "" && c.MintClientID != "" && c.MintClientSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
