package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Domenick1991/airreserve/config"
	"github.com/Domenick1991/airreserve/internal/bootstrap"
	"github.com/Domenick1991/airreserve/internal/email"
	"github.com/Domenick1991/airreserve/internal/kafka"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := pflag.StringP("config", "c", "", "path to config file (default $CONFIG_PATH or config.yaml)")
	pflag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*cfgPath))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := bootstrap.NewLogger(cfg.Log, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	g, ctx := errgroup.WithContext(ctx)

	consume := len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.NotificationsTopic != ""
	if app.ReclaimsInProcess() {
		// In-memory bookings live in the API process, which sweeps them itself.
		if !consume {
			logger.Error("nothing to run: memory storage is swept by the api process and kafka is not configured")
			os.Exit(1)
		}
		logger.Warn("memory storage, reclaimer disabled in worker")
	} else {
		g.Go(func() error {
			return app.Reclaimer().Run(ctx)
		})
	}

	if consume {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic)
		defer consumer.Close()

		sender := email.NewSender(logger)
		g.Go(func() error {
			return consumer.Consume(ctx, sender.Handle)
		})
	} else {
		logger.Warn("kafka not configured, notifications consumer disabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}
