package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/regime-engine/internal/beta"
	"github.com/aristath/regime-engine/internal/clients/yahoo"
	"github.com/aristath/regime-engine/internal/config"
	"github.com/aristath/regime-engine/internal/database"
	"github.com/aristath/regime-engine/internal/engine"
	"github.com/aristath/regime-engine/internal/history"
	"github.com/aristath/regime-engine/internal/meta"
	"github.com/aristath/regime-engine/internal/regime"
	"github.com/aristath/regime-engine/internal/scheduler"
	"github.com/aristath/regime-engine/internal/server"
	"github.com/aristath/regime-engine/internal/session"
	"github.com/aristath/regime-engine/internal/volatility"
	"github.com/aristath/regime-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet; use a default one for the fatal
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Int("symbols", len(cfg.Symbols)).
		Str("regime_model", cfg.RegimeModel).
		Msg("Starting regime engine")

	// runs.db - stored analysis batches
	runsDB, err := database.New(database.Config{
		Path:    cfg.RunsDBPath(),
		Profile: database.ProfileStandard,
		Name:    "runs",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize runs database")
	}
	defer runsDB.Close()

	runStore, err := history.NewStore(runsDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize run store")
	}

	// Market data clients
	historyClient := yahoo.NewHistoryClient(log)
	snapshotClient := yahoo.NewSnapshotClient(log)

	// Analysis components
	betaCalc := beta.NewCalculator(beta.Config{
		Factors: cfg.Factors,
	}, historyClient, log)

	forecaster := volatility.NewForecaster(volatility.Config{}, log)

	foreignMarkets := make([]session.Market, len(cfg.ForeignMarkets))
	for i, m := range cfg.ForeignMarkets {
		foreignMarkets[i] = session.Market{Name: m.Name, Symbol: m.Symbol, Weight: m.Weight}
	}
	predictor := session.NewPredictor(session.Config{
		DomesticSymbol: cfg.DomesticSymbol,
		ForeignMarkets: foreignMarkets,
		Correlation:    cfg.GapCorrelation,
		Window: session.WindowConfig{
			EveningStartHour:   cfg.EveningStartHour,
			EveningStartMinute: cfg.EveningStartMinute,
			MorningCutoffHour:  cfg.MorningCutoffHour,
		},
	}, snapshotClient, log)

	metaModel := meta.NewModel(cfg.MetaModelPath, cfg.FeatureColumns, log)

	eng := engine.New(engine.Config{
		Symbols:      cfg.Symbols,
		LookbackDays: cfg.LookbackDays,
		Workers:      cfg.Workers,
		Regime: regime.Config{
			Model:  cfg.RegimeModel,
			States: cfg.RegimeStates,
		},
	}, historyClient, betaCalc, forecaster, predictor, metaModel, log)

	// Background jobs
	sched := scheduler.New(log)

	batchJob := scheduler.NewAnalysisBatchJob(eng, runStore,
		time.Duration(cfg.BatchTimeoutMinutes)*time.Minute, log)
	if err := sched.AddJob(cfg.BatchSchedule, batchJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register analysis batch job")
	}

	maintenanceJob := scheduler.NewMaintenanceJob(runsDB, runStore, cfg.RetentionDays, log)
	if err := sched.AddJob(cfg.MaintenanceSchedule, maintenanceJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}

	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Store:     runStore,
		DB:        runsDB,
		Predictor: predictor,
		Scheduler: sched,
		BatchJob:  batchJob,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
