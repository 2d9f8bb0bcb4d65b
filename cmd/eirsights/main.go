package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eirsights/eirsights/pkg/collector"
	"github.com/eirsights/eirsights/pkg/log"
	"github.com/eirsights/eirsights/pkg/server"
	"github.com/eirsights/eirsights/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	c := collector.Configured(s)

	// init server
	srv := server.Configured(s, c)

	cycleInterval := lflag.Duration("cycle-interval", time.Hour, "How often to attempt a collection cycle")

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// collection loop; the collector's own throttle decides whether a tick
	// actually fetches anything
	go func() {
		if err := c.Collect(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "collection cycle failed", "error", err)
		}
		ticker := time.NewTicker(*cycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Collect(ctx); err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "collection cycle failed", "error", err)
				}
			}
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
