package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the order engine.
type Config struct {
	Port string

	// Backend selection
	Broker       string // "paper", "zerodha", "smartapi"
	TradePairs   []string
	ProductType  string // "MIS", "CNC", "NRML"
	TickInterval time.Duration

	// Risk / trailing stop (fractions of price)
	StopDistance    float64
	TrailActivation float64
	TrailDistance   float64
	ExitDeadline    time.Duration

	// Per-pair fixed entry quantity, bypassing notional sizing.
	// Format: "NIFTY50/INR:50,BANKNIFTY/INR:15"
	FixedQuantities map[string]float64

	// Reconciliation
	ReconcileInterval time.Duration

	// Database
	DBPath string

	// Credential vault
	VaultPath string

	// Optional data files
	SymbolMapPath string
	HolidaysPath  string
	LotSizesPath  string

	// Auth
	JWTSecret     string
	AdminUser     string
	AdminPassHash string // bcrypt hash
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		Broker:            strings.ToLower(getEnv("BROKER", "paper")),
		TradePairs:        splitAndTrim(getEnv("TRADE_PAIRS", "NIFTY50/INR,BANKNIFTY/INR")),
		ProductType:       getEnv("PRODUCT_TYPE", "MIS"),
		TickInterval:      getEnvDuration("TICK_INTERVAL", 5*time.Second),
		StopDistance:      getEnvFloat("STOP_DISTANCE", 0.02),
		TrailActivation:   getEnvFloat("TRAIL_ACTIVATION", 0.01),
		TrailDistance:     getEnvFloat("TRAIL_DISTANCE", 0.005),
		ExitDeadline:      getEnvDuration("EXIT_DEADLINE", 15*time.Second),
		FixedQuantities:   parseQuantityMap(os.Getenv("FIXED_QUANTITIES")),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		DBPath:            getEnv("DB_PATH", "./data/broker.db"),
		VaultPath:         getEnv("VAULT_PATH", "./data/credentials.vault"),
		SymbolMapPath:     getEnv("SYMBOL_MAP_PATH", ""),
		HolidaysPath:      getEnv("HOLIDAYS_PATH", ""),
		LotSizesPath:      getEnv("LOT_SIZES_PATH", ""),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPassHash:     os.Getenv("ADMIN_PASS_HASH"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseQuantityMap(val string) map[string]float64 {
	if val == "" {
		return nil
	}
	out := make(map[string]float64)
	for _, entry := range strings.Split(val, ",") {
		pair, qty, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(qty, 64); err == nil && f > 0 {
			out[pair] = f
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
