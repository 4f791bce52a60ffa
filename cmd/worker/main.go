// The worker consumes compile jobs from the Redis queue and runs the
// periodic expiry sweep. It shares the working directory and the metastore
// with the API server.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

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

	store, err := metastore.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	clk := clock.System{}
	mgr, err := session.NewManager(store, clk, cfg.WorkingDirectory, cfg.InstanceKey, float64(cfg.SessionTTLSec))
	if err != nil {
		logger.Error("session manager", "error", err)
		os.Exit(1)
	}

	renderer := render.New(mgr, logger, time.Duration(cfg.CompileTimeoutSec)*time.Second)
	sw := sweeper.New(mgr, clk, time.Duration(cfg.ClearExpiredIntervalSec)*time.Second, logger)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis url", "error", err)
		os.Exit(1)
	}

	scheduler, err := tasks.NewScheduler(redisOpt, time.Duration(cfg.ClearExpiredIntervalSec)*time.Second, logger)
	if err != nil {
		logger.Error("scheduler", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	srv := tasks.NewServer(redisOpt, cfg.WorkerConcurrency, logger)
	mux := tasks.NewServeMux(renderer, sw, logger)

	logger.Info("worker started",
		"concurrency", cfg.WorkerConcurrency, "working_directory", cfg.WorkingDirectory)

	// Run handles SIGTERM/SIGINT itself and drains in-flight jobs.
	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
		os.Exit(1)
	}
	scheduler.Shutdown()
}
