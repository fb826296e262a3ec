package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deedmarket/config"
	"deedmarket/core/state"
	"deedmarket/native/assets"
	"deedmarket/native/market"
	"deedmarket/native/params"
	"deedmarket/native/payments"
	"deedmarket/observability/logging"
	"deedmarket/rpc"
	"deedmarket/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "Path to the TOML config file")
	env := flag.String("env", "", "Deployment environment label")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.Setup("marketd", *env, logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSize,
		MaxBackups: cfg.LogBackups,
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	vault, _ := config.ParseAddress(cfg.Vault)
	treasury, _ := config.ParseAddress(cfg.FeeTreasury)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	store := params.NewStore(manager)
	if err := store.SetFeePolicy(params.FeePolicy{FeeBps: cfg.FeeBps}); err != nil {
		logger.Error("seed fee policy", "err", err)
		os.Exit(1)
	}
	if err := store.SetInstruments(cfg.Instruments); err != nil {
		logger.Error("seed instruments", "err", err)
		os.Exit(1)
	}
	if err := store.SetPauses(params.Pauses{Market: cfg.PauseMarket}); err != nil {
		logger.Error("seed pauses", "err", err)
		os.Exit(1)
	}
	if err := manager.Commit(); err != nil {
		logger.Error("commit genesis parameters", "err", err)
		os.Exit(1)
	}

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetRegistry(assets.NewRegistry(manager))
	engine.SetPayments(payments.NewLedger(manager, vault))
	engine.SetParams(store)
	engine.SetPauses(store)
	engine.SetVault(vault)
	engine.SetFeeTreasury(treasury)

	go func() {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info("starting metrics endpoint", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil {
			logger.Error("metrics endpoint stopped", "err", err)
		}
	}()

	server := rpc.NewServer(engine, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}
