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

	"github.com/hibiken/asynq"

	"github.com/p-arndt/setzkasten/internal/api"
	"github.com/p-arndt/setzkasten/internal/clock"
	"github.com/p-arndt/setzkasten/internal/config"
	"github.com/p-arndt/setzkasten/internal/metastore"
	"github.com/p-arndt/setzkasten/internal/render"
	"github.com/p-arndt/setzkasten/internal/session"
	"github.com/p-arndt/setzkasten/internal/sweeper"
	"github.com/p-arndt/setzkasten/internal/tasks"
)

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	cfgPath := flag.String("config", "", "path to setzkasten.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	var store metastore.Store
	switch cfg.MetaStore {
	case "redis":
		store, err = metastore.NewRedis(cfg.RedisURL)
	case "sqlite":
		store, err = metastore.NewSQLite(cfg.DBPath)
	default:
		logger.Error("unknown metastore backend", "metastore", cfg.MetaStore)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("open metastore", "metastore", cfg.MetaStore, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	clk := clock.System{}
	mgr, err := session.NewManager(store, clk, cfg.WorkingDirectory, cfg.InstanceKey, float64(cfg.SessionTTLSec))
	if err != nil {
		logger.Error("session manager", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// With Redis metadata the compile jobs and the sweep run in the worker
	// binary; with sqlite the server is self-contained and runs both
	// in-process.
	var queue api.TaskQueue
	if cfg.MetaStore == "redis" {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Error("parse redis url", "error", err)
			os.Exit(1)
		}
		client := tasks.NewClient(redisOpt)
		defer client.Close()
		queue = client
	} else {
		renderer := render.New(mgr, logger, time.Duration(cfg.CompileTimeoutSec)*time.Second)
		local := tasks.NewLocal(renderer, 64, logger)
		go local.Run(ctx)
		queue = local

		sw := sweeper.New(mgr, clk, time.Duration(cfg.ClearExpiredIntervalSec)*time.Second, logger)
		go sw.Run(ctx)
	}

	srv := api.NewServer(mgr, queue, clk, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // product downloads can be large
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening",
		"addr", cfg.Listen, "metastore", cfg.MetaStore, "working_directory", cfg.WorkingDirectory)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
