package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/app"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/telemetry"
	"github.com/acme/campaign-dialer/internal/worker/dial"
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
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	container := app.New(cfg, log)
	defer container.Close(context.Background())

	kafka, err := container.Kafka()
	if err != nil {
		log.Fatal("kafka init failed", zap.Error(err))
	}
	limiter, err := container.DialLimiter()
	if err != nil {
		log.Fatal("limiter init failed", zap.Error(err))
	}
	states, err := container.AgentStates()
	if err != nil {
		log.Fatal("agent state store init failed", zap.Error(err))
	}
	contacts, err := container.ContactRepository(ctx)
	if err != nil {
		log.Fatal("contact repository init failed", zap.Error(err))
	}

	if err := kafka.EnsureTopics(ctx, []string{cfg.Kafka.DialTopic, cfg.Kafka.EventTopic}, 3, 1); err != nil {
		log.Warn("topic creation failed", zap.Error(err))
	}

	reader := kafka.NewReader(cfg.Kafka.DialTopic, cfg.Kafka.ConsumerGroupID)
	defer reader.Close()

	worker := dial.NewWorker(reader, limiter, container.TelephonyProvider(),
		states, contacts, log.Named("dialworker"), cfg.Dial.RequestTimeout)

	if err := worker.Run(ctx); err != nil {
		log.Fatal("dial worker stopped", zap.Error(err))
	}
}
