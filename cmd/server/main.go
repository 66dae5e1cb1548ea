package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-dispatch/internal/config"
	"github.com/example/roadside-dispatch/internal/directory"
	"github.com/example/roadside-dispatch/internal/dispatch"
	httpapi "github.com/example/roadside-dispatch/internal/http"
	"github.com/example/roadside-dispatch/internal/ingest"
	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/notify"
	"github.com/example/roadside-dispatch/internal/storage"
)

// providerDirectory is what the server needs from whichever directory backs it.
type providerDirectory interface {
	directory.Directory
	directory.Locator
	directory.Writer
}

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var dir providerDirectory
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		dir = directory.NewRedisDirectory(rc, cfg.RedisGeoKey).WithRadius(cfg.ProviderSearchRadiusKm)
		logger.Info("provider directory: redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey, "radius_km", cfg.ProviderSearchRadiusKm)
	} else {
		dir = directory.NewIndex()
		logger.Info("provider directory: in-memory")
	}

	wsreg := notify.NewWSRegistry(logger)
	fan := notify.NewFanout().Add("ws", &notify.Broadcaster{WS: wsreg, Locator: dir, TopN: cfg.NotifyTopN, Logger: logger})

	opts := httpapi.Options{
		Providers:   dir,
		WSReg:       wsreg,
		Store:       store,
		Logger:      logger,
		AutoApprove: cfg.AutoApproveProviders,
	}
	if len(cfg.KafkaBrokers) > 0 {
		events := notify.NewEventPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer events.Close()
		fan.Add("kafka", events)

		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
		defer kp.Close()
		opts.Kafka = kp
		logger.Info("kafka enabled", "brokers", cfg.KafkaBrokers, "events_topic", cfg.KafkaEventsTopic, "location_topic", cfg.KafkaLocationTopic)
	}

	logger.Info("notifiers configured", "sinks", fan.Len())
	opts.Engine = &dispatch.Engine{Store: store, Directory: dir, Notifier: fan, Logger: logger}
	handler := httpapi.NewServer(opts)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("roadside-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// openStore picks Postgres when PG_DSN is set, Mongo when MONGO_URI is set,
// and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.RequestStore, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch {
	case cfg.PGDSN != "":
		db, err := storage.OpenPostgres(connectCtx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.RunMigrations {
			if err := migrate(connectCtx, db, logger); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		logger.Info("request store: postgres")
		return storage.NewPostgresStore(db), func() { _ = db.Close() }, nil

	case cfg.MongoURI != "":
		client, err := storage.ConnectMongo(connectCtx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		ms := storage.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := ms.EnsureIndexes(connectCtx); err != nil {
			logger.Warn("mongo index creation failed", "error", err)
		}
		logger.Info("request store: mongo", "database", cfg.MongoDatabase)
		return ms, func() { _ = client.Disconnect(context.Background()) }, nil

	default:
		logger.Info("request store: in-memory")
		return storage.NewMemoryStore(), func() {}, nil
	}
}

func migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	const name = "001_create_emergency_requests.sql"
	b, err := os.ReadFile(filepath.Join("migrations", name))
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	logger.Info("migration applied", "file", name)
	return nil
}
