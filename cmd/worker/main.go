// Command worker consumes extraction jobs from Kafka, extracts the text of
// each PDF into markdown and records the outcome in the durable store and
// the status cache. Failed attempts are republished to the retry topic.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/app"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting extraction worker",
		"topic", cfg.Kafka.Topics.Extract,
		"retry_topic", cfg.Kafka.Topics.ExtractRetry,
		"max_attempts", cfg.Worker.MaxAttempts,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, m)
		defer shutdownMetrics(context.Background())
	}

	st, closeStore, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	cache, closeCache, err := app.OpenStatusCache(cfg, m)
	if err != nil {
		slog.Error("failed to open status cache", "error", err)
		os.Exit(1)
	}
	defer closeCache()

	broker := queue.NewKafkaBroker(cfg.Kafka)
	defer broker.Close()

	observer := events.Multi{events.Log{}}
	if m != nil {
		observer = append(observer, events.Prometheus{M: m})
	}

	w := worker.New(st, cache, broker, extractor.NewPDF(), cfg.Worker, observer)
	if err := w.Run(ctx, broker); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("extraction worker stopped")
}
