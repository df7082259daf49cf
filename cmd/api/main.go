// Command api starts the document HTTP service.
//
// Uploads are fingerprinted, recorded in the status cache and dispatched to
// the extraction queue. Document, processed-document and task endpoints read
// the durable store. With -embedded-worker the queue is in-process and an
// extraction worker runs alongside the server, so no Kafka is needed.
//
// Usage:
//
//	go run ./cmd/api [-config configs/development.yaml] [-embedded-worker]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/api"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/app"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/events"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/extractor"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/queue"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/worker"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/middleware"
)

type broker interface {
	dispatcher.Publisher
	worker.Subscriber
	worker.RetryPublisher
	Close() error
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	embedded := flag.Bool("embedded-worker", false, "run an in-process queue and worker instead of Kafka")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting api service", "port", cfg.Server.Port, "embedded_worker", *embedded)

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

	observer := events.Multi{events.Log{}}
	if m != nil {
		observer = append(observer, events.Prometheus{M: m})
	}

	checker := health.NewChecker()
	checker.Register("database", health.PingCheck(st.Ping))
	checker.Register("cache", health.DegradedCheck(cache.Ping))

	var b broker
	if *embedded {
		mem := queue.NewMemoryBroker(cfg.Worker.PoolSize, 1024)
		b = mem
		w := worker.New(st, cache, mem, extractor.NewPDF(), cfg.Worker, observer)
		go func() {
			if err := w.Run(ctx, mem); err != nil {
				slog.Error("embedded worker stopped", "error", err)
			}
		}()
	} else {
		kb := queue.NewKafkaBroker(cfg.Kafka)
		b = kb
		checker.Register("queue", health.PingCheck(kb.Ping))
	}
	defer b.Close()

	d := dispatcher.New(b, cache, cfg.Dispatcher, observer)
	h := api.NewHandler(d, st, resolver.New(st, cache), cache, api.NewValidator(cfg.Upload))
	routerCfg := api.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        m,
	}
	if n := cfg.Upload.RateLimitPerMinute; n > 0 {
		routerCfg.UploadLimiter = middleware.NewLimiter(n, time.Minute)
	}
	router := api.NewRouter(h, checker, routerCfg)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("api service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("api service stopped")
}
