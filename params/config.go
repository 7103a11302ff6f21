package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Storage struct {
	// DataDir holds the pebble database with markets, ledgers, books,
	// vault balances and trade history.
	DataDir string
}

type Engine struct {
	// BookCapacity bounds the number of resting orders per book side.
	// A placement whose remainder would not fit is rejected whole.
	BookCapacity int

	// TradeHistoryLimit caps how many trades RecentFills returns.
	TradeHistoryLimit int
}

type Log struct {
	// File receives a JSON copy of the log stream next to stdout.
	// Empty means stdout only.
	File string
}

type Config struct {
	Storage Storage
	Engine  Engine
	Log     Log
}

func Default() Config {
	return Config{
		Storage: Storage{
			DataDir: "data/rapidflow.db",
		},
		Engine: Engine{
			BookCapacity:      128,
			TradeHistoryLimit: 100,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if dir := os.Getenv("RAPIDFLOW_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}

	if capacity := os.Getenv("RAPIDFLOW_BOOK_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil && n > 0 {
			cfg.Engine.BookCapacity = n
		}
	}

	if limit := os.Getenv("RAPIDFLOW_TRADE_HISTORY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			cfg.Engine.TradeHistoryLimit = n
		}
	}

	if file := os.Getenv("RAPIDFLOW_LOG_FILE"); file != "" {
		cfg.Log.File = file
	}

	return cfg
}
