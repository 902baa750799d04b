package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"web/clustermap/archive"
	"web/clustermap/config"
	"web/clustermap/graceful"
	"web/clustermap/logger"
	"web/clustermap/notify"
	"web/clustermap/server"
	"web/clustermap/session"
	"web/clustermap/store"
	"web/clustermap/store/memory"
	"web/clustermap/store/postgres"
	"web/clustermap/store/redisgeo"
)

type backend struct {
	store   store.RecordStore
	records server.RecordWriter
	close   func()
}

func openMemory(cfg config.Store) (backend, error) {
	st := memory.New()
	opts := memory.DatasetOptions{
		EncryptionKey: encryptionKey(cfg),
		SchemaVersion: cfg.SchemaVersion,
		ReadOnly:      cfg.ReadOnly,
	}
	b := backend{store: st, close: func() {}}

	if cfg.InMemoryIdentifier != "" {
		ds := st.Create(cfg.InMemoryIdentifier, opts)
		if !cfg.ReadOnly {
			b.records = server.MemoryRecords{Dataset: ds}
		}
		return b, nil
	}

	path, err := memory.FilePath(cfg.FileURL)
	if err != nil {
		return backend{}, err
	}
	var ds *memory.Dataset
	if _, err := os.Stat(path); err == nil {
		if ds, err = st.Load(cfg.FileURL, path, opts.EncryptionKey); err != nil {
			return backend{}, err
		}
		logger.L().Info("dataset_loaded", "path", path)
	} else {
		ds = st.Create(cfg.FileURL, opts)
	}
	if !cfg.ReadOnly {
		b.records = server.MemoryRecords{Dataset: ds}
		b.close = func() {
			if err := st.Save(cfg.FileURL, path); err != nil {
				logger.L().Error("dataset_save_failed", "path", path, "error", err)
				return
			}
			logger.L().Info("dataset_saved", "path", path)
		}
	}
	return b, nil
}

func encryptionKey(cfg config.Store) []byte {
	if cfg.EncryptionKey == "" {
		return nil
	}
	return []byte(cfg.EncryptionKey)
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory, "":
		return openMemory(cfg.Store)
	case config.BackendPostgres:
		pg := postgres.New(cfg.Store.PostgresDSN, postgres.WithKeyColumn(cfg.Store.PostgresKeyColumn))
		b := backend{store: pg, close: func() {}}
		if !cfg.Store.ReadOnly {
			b.records = server.PostgresRecords{Store: pg}
		}
		return b, nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.L().Warn("redis_unreachable", "addr", cfg.Store.Redis.Addr, "error", err)
		}
		rs := redisgeo.New(rdb)
		b := backend{store: rs, close: func() { _ = rdb.Close() }}
		if !cfg.Store.ReadOnly {
			b.records = server.RedisRecords{Store: rs, LatitudeField: cfg.Map.LatitudeField, LongitudeField: cfg.Map.LongitudeField}
		}
		return b, nil
	}
	return backend{}, errors.New("unknown store backend " + string(cfg.Store.Backend))
}

func main() {
	config.LoadEnv()
	logger.Setup()
	cfg := config.Load()

	ctx, cancel := graceful.Context(context.Background())
	defer cancel()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		logger.L().Error("store_open_failed", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer b.close()

	sessions := session.NewManager(server.ViewFactory(b.store, cfg.Map, cfg.Store), cfg.MaxSessions, cfg.SessionIdle)
	defer sessions.Close()

	deps := server.Deps{
		Sessions:       sessions,
		Snapshots:      archive.NewLocal(cfg.SnapshotDir),
		Records:        b.records,
		Entity:         cfg.Map.Entity,
		KeyField:       cfg.Store.PostgresKeyColumn,
		SessionSecret:  cfg.SessionSecret,
		RefreshTimeout: cfg.RefreshTimeout,
	}

	if cfg.MinIO.Enabled() {
		uploader, err := archive.NewUploader(cfg.MinIO)
		if err == nil {
			bctx, bcancel := context.WithTimeout(ctx, 10*time.Second)
			err = uploader.EnsureBucket(bctx)
			bcancel()
		}
		if err != nil {
			logger.L().Warn("minio_disabled", "endpoint", cfg.MinIO.Endpoint, "error", err)
		} else {
			deps.Uploader = uploader
		}
	}

	if cfg.Kafka.Enabled() {
		publisher := notify.NewPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer publisher.Close()
		deps.Publisher = publisher

		consumer := notify.NewConsumer(
			notify.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID),
			notify.RefreshSessions(sessions),
		)
		consumer.Start(ctx)
		defer consumer.Stop()
		logger.L().Info("notify_consumer_started", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.L().Info("http_listening", "addr", cfg.HTTPAddr, "backend", cfg.Store.Backend, "entity", cfg.Map.Entity)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Error("http_server_failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.L().Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L().Error("http_shutdown_failed", "error", err)
	}
	logger.L().Info("server_stopped")
}
