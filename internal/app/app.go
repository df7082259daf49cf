// Package app holds the wiring shared by the service binaries: opening the
// durable store and the configured status cache backend.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/statuscache"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/redis"
)

// OpenStore connects to the configured database and applies migrations.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (*store.Store, func() error, error) {
	if cfg.Driver == database.DriverSQLite && cfg.Path != "" && cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
	}
	db, err := database.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", cfg.Driver, err)
	}
	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrating %s: %w", cfg.Driver, err)
	}
	slog.Info("durable store ready", "driver", cfg.Driver)
	return st, db.Close, nil
}

// OpenStatusCache builds the status cache over the configured backend.
// m may be nil.
func OpenStatusCache(cfg *config.Config, m *metrics.Metrics) (*statuscache.Cache, func() error, error) {
	var (
		backend statuscache.Backend
		closer  = func() error { return nil }
	)
	switch cfg.Cache.Backend {
	case "redis":
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		backend, closer = statuscache.NewRedisBackend(client), client.Close
	case "badger":
		db, err := statuscache.OpenBadger(cfg.Cache.BadgerDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening badger at %q: %w", cfg.Cache.BadgerDir, err)
		}
		backend, closer = db, db.Close
	case "memory":
		backend = statuscache.NewMemoryBackend()
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}

	var opts []statuscache.Option
	if m != nil {
		opts = append(opts, statuscache.WithMetrics(m))
	}
	slog.Info("status cache ready", "backend", cfg.Cache.Backend, "ttl", cfg.Cache.TTL)
	return statuscache.New(backend, cfg.Cache, opts...), closer, nil
}
