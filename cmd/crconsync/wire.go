package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crconsync/internal/exporter"
	"crconsync/pkg/config"
	"crconsync/pkg/delivery"
	"crconsync/pkg/extract"
	"crconsync/pkg/logger"
	"crconsync/pkg/source"
	"crconsync/pkg/state"
)

// openStore returns the configured cursor store and a function releasing it.
func openStore(cfg *config.AppConfig, l *logger.Logger) (state.Store, func(), error) {
	switch cfg.State.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.State.RedisAddr})
		return state.NewRedisStore(client, cfg.State.RedisKey, l), func() { client.Close() }, nil
	case config.BackendFile, "":
		return state.NewFileStore(cfg.State.FilePath(), l), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
}

func newSender(cfg *config.AppConfig, l *logger.Logger) delivery.Sender {
	if cfg.Delivery.Sink == config.SinkKafka {
		return delivery.NewKafkaSender(delivery.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Delivery.Timeout(),
			MaxRetries:   cfg.Delivery.MaxRetries,
			RetryDelay:   cfg.Delivery.RetryDelay(),
		}, l)
	}
	return delivery.NewHTTPSender(delivery.HTTPConfig{
		URL:        cfg.Delivery.URL,
		APIKey:     cfg.Delivery.APIKey,
		Timeout:    cfg.Delivery.Timeout(),
		MaxRetries: cfg.Delivery.MaxRetries,
		RetryDelay: cfg.Delivery.RetryDelay(),
	}, l)
}

// connectSource opens the CRCON database and logs its version.
func connectSource(ctx context.Context, cfg *config.AppConfig, l *logger.Logger) (*sql.DB, error) {
	db, err := source.Open(ctx, source.Config{
		DSN:              cfg.Database.DSN(),
		ConnectTimeout:   cfg.Database.ConnectTimeout(),
		StatementTimeout: cfg.Database.StatementTimeout(),
	})
	if err != nil {
		l.Error("no DB connection", err,
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name))
		return nil, err
	}

	versionCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout())
	defer cancel()
	v, err := source.Version(versionCtx, db)
	if err != nil {
		db.Close()
		l.Error("DB connection failed", err)
		return nil, err
	}
	l.Info("DB connection successful", zap.String("version", v))
	return db, nil
}

type runtime struct {
	svc     *exporter.Service
	db      *sql.DB
	release func()
}

func (r *runtime) Close() {
	if r.db != nil {
		r.db.Close()
	}
	r.release()
}

// build wires the exporter. With db nil the service can only report status and reset.
func build(cfg *config.AppConfig, l *logger.Logger, db *sql.DB) (*runtime, error) {
	store, release, err := openStore(cfg, l)
	if err != nil {
		return nil, err
	}
	sender := newSender(cfg, l)

	var assembler *exporter.Assembler
	if db != nil {
		src := extract.New(db, extract.Config{
			Dialect:         "postgres",
			ServerNumbers:   cfg.Sync.ServerNumbers(),
			ServerNames:     extract.ServerNames(cfg.Sync.ServerNames),
			SessionLookback: cfg.Sync.SessionLookback(),
		}, l)
		assembler = exporter.NewAssembler(src, cfg.Sync.ServerID, cfg.Sync.BatchSize, cfg.Sync.ParallelExtract, l)
	}

	svc := exporter.NewService(cfg, store, assembler, sender, l)
	return &runtime{
		svc: svc,
		db:  db,
		release: func() {
			sender.Close()
			release()
		},
	}, nil
}
