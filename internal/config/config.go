// Package config reads engine configuration from environment variables,
// with a .env file loaded first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string
	Port     int
	DevMode  bool
	LogLevel string

	// Analysis universe
	Symbols      []string
	LookbackDays int
	Workers      int

	// Regime detection
	RegimeModel  string // "hmm" or "gmm"
	RegimeStates int

	// Macro factor proxies, factor name → quote symbol
	Factors map[string]string

	// Overnight gap prediction
	DomesticSymbol string
	ForeignMarkets []MarketConfig
	GapCorrelation float64

	// Session window, exchange-local hours
	EveningStartHour   int
	EveningStartMinute int
	MorningCutoffHour  int

	// Meta model
	MetaModelPath  string
	FeatureColumns []string

	// Background jobs
	BatchSchedule       string
	MaintenanceSchedule string
	RetentionDays       int
	BatchTimeoutMinutes int
}

// MarketConfig is one foreign market entry parsed from the environment
type MarketConfig struct {
	Name   string
	Symbol string
	Weight float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:  getEnv("DATA_DIR", "./data"),
		Port:     getEnvAsInt("PORT", 8090),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Symbols:      getEnvAsSlice("SYMBOLS", []string{"AAPL", "MSFT", "GOOG"}),
		LookbackDays: getEnvAsInt("LOOKBACK_DAYS", 365),
		Workers:      getEnvAsInt("WORKERS", 4),

		RegimeModel:  getEnv("REGIME_MODEL", "hmm"),
		RegimeStates: getEnvAsInt("REGIME_STATES", 3),

		Factors: parsePairs(getEnv("FACTORS", "market=^GSPC,rates=^TNX,energy=CL=F")),

		DomesticSymbol: getEnv("DOMESTIC_SYMBOL", "^GSPC"),
		ForeignMarkets: parseMarkets(getEnv("FOREIGN_MARKETS", "nikkei=^N225:1.0,hang_seng=^HSI:0.8,ftse=^FTSE:1.0")),
		GapCorrelation: getEnvAsFloat("GAP_CORRELATION", 0.35),

		EveningStartHour:   getEnvAsInt("EVENING_START_HOUR", 17),
		EveningStartMinute: getEnvAsInt("EVENING_START_MINUTE", 10),
		MorningCutoffHour:  getEnvAsInt("MORNING_CUTOFF_HOUR", 8),

		MetaModelPath:  getEnv("META_MODEL_PATH", "./data/meta_model.msgpack"),
		FeatureColumns: getEnvAsSlice("FEATURE_COLUMNS", []string{"return_1d", "rsi", "bollinger_position", "ema_distance", "vol_1d", "regime_id", "regime_confidence", "gap_sentiment", "beta_market", "cvar_95"}),

		BatchSchedule:       getEnv("BATCH_SCHEDULE", "0 0 3 * * *"),
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "@every 6h"),
		RetentionDays:       getEnvAsInt("RETENTION_DAYS", 90),
		BatchTimeoutMinutes: getEnvAsInt("BATCH_TIMEOUT_MINUTES", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required configuration
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must name at least one symbol")
	}
	if c.RegimeModel != "hmm" && c.RegimeModel != "gmm" {
		return fmt.Errorf("REGIME_MODEL must be hmm or gmm, got %q", c.RegimeModel)
	}
	if c.GapCorrelation <= 0 || c.GapCorrelation > 1 {
		return fmt.Errorf("GAP_CORRELATION must be in (0, 1], got %v", c.GapCorrelation)
	}
	return nil
}

// RunsDBPath returns the path of the runs database
func (c *Config) RunsDBPath() string {
	return c.DataDir + "/runs.db"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// parsePairs parses "name=value,name=value" into a map, skipping malformed
// entries
func parsePairs(raw string) map[string]string {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, ok := strings.Cut(entry, "=")
		if !ok || name == "" || value == "" {
			continue
		}
		pairs[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return pairs
}

// parseMarkets parses "name=symbol:weight,..." entries; weight defaults to 1
func parseMarkets(raw string) []MarketConfig {
	var markets []MarketConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		if !ok || name == "" || rest == "" {
			continue
		}

		symbol := rest
		weight := 1.0
		if sym, w, ok := strings.Cut(rest, ":"); ok {
			symbol = sym
			if parsed, err := strconv.ParseFloat(w, 64); err == nil && parsed > 0 {
				weight = parsed
			}
		}

		markets = append(markets, MarketConfig{
			Name:   strings.TrimSpace(name),
			Symbol: strings.TrimSpace(symbol),
			Weight: weight,
		})
	}
	return markets
}
