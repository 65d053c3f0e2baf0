package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/rassi0429/eew4reso/internal/adapter/http"
	kafkaadapter "github.com/rassi0429/eew4reso/internal/adapter/kafka"
	"github.com/rassi0429/eew4reso/internal/adapter/misskey"
	"github.com/rassi0429/eew4reso/internal/config"
	"github.com/rassi0429/eew4reso/internal/delivery"
	"github.com/rassi0429/eew4reso/internal/observability"
	"github.com/rassi0429/eew4reso/internal/pipeline"
	"github.com/rassi0429/eew4reso/internal/render"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	sink := misskey.NewClient(cfg.MisskeyURL, cfg.MisskeyToken, cfg.MisskeyTimeout, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// An unreachable sink is worth a warning, not an exit: the instance
	// may simply come up before Misskey does.
	if !sink.TestConnectivity(ctx) {
		logger.Warn("misskey connectivity probe failed", "url", cfg.MisskeyURL)
	} else {
		logger.Info("misskey connectivity verified", "url", cfg.MisskeyURL)
	}

	queue := delivery.New(sink, render.Note, delivery.Options{
		Spacing:    cfg.RateLimitInterval,
		Visibility: cfg.NoteVisibility,
	}, logger, metrics)

	p := pipeline.New(cfg.Policy(), queue, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the delivery drain loop.
	go queue.Run(ctx)

	// Start the Kafka source when brokers are configured.
	var reader *kafkaadapter.Reader
	if cfg.KafkaEnabled() {
		reader = kafkaadapter.NewReader(cfg, logger)
		logger.Info("kafka source enabled",
			"brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic, "group_id", cfg.KafkaGroupID)
		go func() {
			if err := p.RunSource(ctx, reader, cfg.KafkaBatchSize); err != nil {
				logger.Error("kafka source error", "error", err)
			}
		}()
	} else {
		logger.Info("kafka source disabled, http ingest only")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
