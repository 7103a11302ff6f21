package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rapidflow/rapidflow/params"
	"github.com/rapidflow/rapidflow/pkg/app/core/engine"
	"github.com/rapidflow/rapidflow/pkg/app/core/vault"
	"github.com/rapidflow/rapidflow/pkg/storage"
	"github.com/rapidflow/rapidflow/pkg/util"
)

// Demo pair: two fixed asset identities standing in for real mints.
var (
	demoBase  = common.HexToAddress("0x0000000000000000000000000000000000000B01")
	demoQuote = common.HexToAddress("0x0000000000000000000000000000000000000901")
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	zlog, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()
	sugar := zlog.Sugar()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		sugar.Fatalw("open_store_failed", "dir", cfg.Storage.DataDir, "err", err)
	}
	defer store.Close()

	eng := engine.New(store, vault.New(), zlog, engine.Config{
		BookCapacity:     cfg.Engine.BookCapacity,
		FillHistoryLimit: cfg.Engine.TradeHistoryLimit,
	})
	if err := eng.Load(); err != nil {
		sugar.Fatalw("engine_load_failed", "err", err)
	}

	// Initialize the demo market on first run; reloads find it in the
	// store and skip this.
	authority := common.HexToAddress(os.Getenv("RAPIDFLOW_AUTHORITY"))
	if m, err := eng.InitializeMarket(authority, demoBase, demoQuote); err == nil {
		sugar.Infow("demo_market_ready", "market", m.Address.Hex())
	}

	sugar.Infow("rapidflow_up", "data_dir", cfg.Storage.DataDir, "book_capacity", cfg.Engine.BookCapacity)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	sugar.Infow("shutting_down")
}

func newLogger(cfg params.Config) (*zap.Logger, error) {
	if cfg.Log.File != "" {
		return util.NewLoggerWithFile(cfg.Log.File)
	}
	return util.NewLogger()
}
