package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/api"
	"github.com/acme/campaign-dialer/internal/app"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/telemetry"
	"github.com/acme/campaign-dialer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.App.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal("telemetry setup failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	container := app.New(cfg, log)
	defer container.Close(context.Background())

	distributionSvc, err := container.DistributionService(ctx)
	if err != nil {
		log.Fatal("distribution service init failed", zap.Error(err))
	}
	dispositionSvc, err := container.DispositionService(ctx)
	if err != nil {
		log.Fatal("disposition service init failed", zap.Error(err))
	}
	campaignSvc, err := container.CampaignService(ctx)
	if err != nil {
		log.Fatal("campaign service init failed", zap.Error(err))
	}
	importerSvc, err := container.ImporterService(ctx)
	if err != nil {
		log.Fatal("importer service init failed", zap.Error(err))
	}
	states, err := container.AgentStates()
	if err != nil {
		log.Fatal("agent state store init failed", zap.Error(err))
	}
	contacts, err := container.ContactRepository(ctx)
	if err != nil {
		log.Fatal("contact repository init failed", zap.Error(err))
	}
	qualifications, err := container.QualificationRepository(ctx)
	if err != nil {
		log.Fatal("qualification repository init failed", zap.Error(err))
	}
	history, err := container.HistoryStore()
	if err != nil {
		log.Fatal("history store init failed", zap.Error(err))
	}
	checks, err := container.HealthChecks(ctx)
	if err != nil {
		log.Fatal("health checks init failed", zap.Error(err))
	}

	server := api.NewServer(cfg.HTTP, cfg.App, log,
		api.NewHealthHandler(checks),
		api.NewAgentsHandler(distributionSvc, dispositionSvc, states),
		api.NewCampaignsHandler(campaignSvc, dispositionSvc, history),
		api.NewContactsHandler(importerSvc, contacts),
		api.NewQualificationsHandler(qualifications),
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("api listening", zap.Int("port", cfg.HTTP.Port))
	if err := server.Listen(); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
