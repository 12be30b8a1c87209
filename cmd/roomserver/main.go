// Command roomserver runs the reference chat room server, a local target for
// loadgen.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper/chat-loadgen/internal/config"
	"github.com/whisper/chat-loadgen/internal/metrics"
	"github.com/whisper/chat-loadgen/internal/rlimit"
	"github.com/whisper/chat-loadgen/internal/roomserver"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogLevel, os.Stderr)

	if limit, err := rlimit.Raise(cfg.NoFile); err != nil {
		log.Warn("could not raise open file limit", "err", err)
	} else {
		log.Debug("open file limit", "limit", limit)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Error("metrics server", "err", err)
			}
		}()
	}

	server := roomserver.New(roomserver.Config{
		ListenAddr:     cfg.ListenAddr,
		Path:           cfg.Path,
		PingInterval:   cfg.PingInterval,
		PingTimeout:    cfg.PingTimeout,
		MaxConnections: cfg.MaxConnections,
		Logger:         log,
	})

	// Graceful shutdown.
	go func() {
		<-ctx.Done()
		log.Info("received signal, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "err", err)
		}
	}()

	if err := server.Start(); err != nil {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
}
