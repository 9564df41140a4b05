package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"

	"entgo.io/ent/dialect/sql"
	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/formbricks/webhook-engine/internal/api"
	"github.com/formbricks/webhook-engine/internal/config"
	"github.com/formbricks/webhook-engine/internal/engine"
	"github.com/formbricks/webhook-engine/internal/httpclient"
	"github.com/formbricks/webhook-engine/internal/store"
	"github.com/formbricks/webhook-engine/internal/store/ent"
)

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, cfg *config.Config) {
		logLevel := slog.LevelInfo
		switch cfg.LogLevel {
		case "debug":
			logLevel = slog.LevelDebug
		case "warn":
			logLevel = slog.LevelWarn
		case "error":
			logLevel = slog.LevelError
		}
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

		drv, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}

		db := drv.DB()
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Minute)

		logger.Info("database connected",
			"max_open_conns", cfg.DBMaxOpenConns,
			"max_idle_conns", cfg.DBMaxIdleConns)

		client := ent.NewClient(ent.Driver(drv))
		if err := client.Schema.Create(context.Background()); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		webhooks := store.NewWebhookRepo(client)
		events := store.NewEventRepo(client, cfg.PollEvery(), logger)
		ingester := store.NewIngestRepo(client)
		transport := httpclient.New(cfg.RequestTimeout())

		engineCfg := engine.Config{
			Retry: engine.RetryConfig{
				Capacity:          cfg.RetryQueueCapacity,
				ExponentialBase:   cfg.RetryBase(),
				ExponentialFactor: cfg.RetryFactor,
				Timeout:           cfg.RetryTimeout(),
			},
		}
		if cfg.BatchingEnabled {
			engineCfg.Batching = &engine.BatchingConfig{
				Capacity:    cfg.BatchCapacity,
				MaxSize:     cfg.BatchMaxSize,
				MaxWaitTime: cfg.BatchMaxWait(),
			}
		}

		eng := engine.NewServer(webhooks, events, transport, engineCfg, logger)
		apiServer := api.NewServer(cfg, eng, ingester, logger)

		hooks.OnStart(func() {
			logger.Info("starting webhook engine",
				"port", cfg.Port,
				"environment", cfg.Environment,
				"docs_url", fmt.Sprintf("http://localhost:%d/docs", cfg.Port),
				"openapi_url", fmt.Sprintf("http://localhost:%d/openapi.json", cfg.Port))

			ctx := context.Background()
			if err := eng.Start(ctx); err != nil {
				logger.Error("engine failed to start", "error", err)
				os.Exit(1)
			}

			if err := apiServer.Start(ctx); err != nil {
				logger.Error("server error", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down gracefully...")

			if err := eng.Shutdown(context.Background(), 30*time.Second); err != nil {
				logger.Error("engine shutdown error", "error", err)
			}

			if err := client.Close(); err != nil {
				logger.Error("failed to close database connection", "error", err)
			}
		})
	})

	cli.Run()
}
