// Command loadgen simulates pairs of users chatting through a Socket.IO chat
// service.
//
// Usage:
//
//	loadgen [pairs]
//
// The target is taken from HOST and PORT (default localhost:8080).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/chat-loadgen/internal/config"
	"github.com/whisper/chat-loadgen/internal/content"
	"github.com/whisper/chat-loadgen/internal/messaging"
	"github.com/whisper/chat-loadgen/internal/metrics"
	"github.com/whisper/chat-loadgen/internal/orchestrator"
	"github.com/whisper/chat-loadgen/internal/rlimit"
	"github.com/whisper/chat-loadgen/internal/rooms"
	"github.com/whisper/chat-loadgen/internal/transport"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [pairs]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogLevel, os.Stderr)

	pairs := orchestrator.ParsePairCount(flag.Arg(0), orchestrator.DefaultPairs, log)
	runID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	// --- File descriptors ---
	if limit, err := rlimit.Raise(cfg.NoFile); err != nil {
		log.Warn("could not raise open file limit", "err", err)
	} else if need := uint64(2*pairs + 64); limit < need {
		log.Warn("open file limit may be too low", "limit", limit, "sessions", 2*pairs)
	}

	// --- Metrics ---
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Error("metrics server", "err", err)
			}
		}()
	}

	opts := []orchestrator.Option{orchestrator.WithLogger(log)}

	// --- NATS ---
	var publisher *messaging.Publisher
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "loadgen-" + runID
		publisher, err = messaging.NewPublisher(natsConfig, runID, log)
		if err != nil {
			log.Warn("lifecycle events disabled", "err", err)
		} else {
			defer publisher.Close()
			opts = append(opts, orchestrator.WithReporter(publisher))
		}
	}

	// --- Redis ---
	var reservations *rooms.Store
	if cfg.RedisAddr != "" {
		reservations, err = rooms.NewStore(ctx, cfg.RedisAddr, runID, log)
		if err != nil {
			log.Warn("room reservation disabled", "err", err)
		} else {
			defer reservations.Close()
			opts = append(opts, orchestrator.WithReserver(reservations))
		}
	}

	provider := content.New(cfg.Seed)
	dial := orchestrator.TransportDialer(transport.Config{
		URL:         cfg.Endpoint(),
		EngineIO:    cfg.EngineIO,
		DialTimeout: cfg.DialTimeout,
		Logger:      log,
	})
	orch := orchestrator.New(orchestrator.Config{
		Pairs:       pairs,
		RoomMin:     cfg.RoomMin,
		RoomMax:     cfg.RoomMax,
		MinMessages: cfg.MinMessages,
		MaxMessages: cfg.MaxMessages,
	}, provider, dial, content.NewPacer(provider, cfg.MinDelay, cfg.MaxDelay), opts...)

	log.Info("load generator starting",
		"run", runID,
		"endpoint", cfg.Endpoint(),
		"pairs", pairs,
		"seed", provider.Seed(),
	)
	if publisher != nil {
		if err := publisher.PublishRun(messaging.RunEvent{Phase: "start", Pairs: pairs}); err != nil {
			log.Warn("publish run start", "err", err)
		}
	}

	if err := orch.Run(ctx); err != nil {
		log.Error("could not start sessions", "err", err)
		os.Exit(1)
	}
	sum := orch.Wait()

	outcomes := make(map[string]int, len(sum.Outcomes))
	for o, n := range sum.Outcomes {
		outcomes[string(o)] = n
	}
	log.Info("all sessions finished",
		"sessions", sum.Sessions,
		"outcomes", outcomes,
		"sent", sum.Sent,
		"received", sum.Received,
		"elapsed", sum.Elapsed.Round(time.Millisecond),
	)

	if publisher != nil {
		if err := publisher.PublishRun(messaging.RunEvent{Phase: "finish", Pairs: pairs, Outcomes: outcomes}); err != nil {
			log.Warn("publish run finish", "err", err)
		}
	}
	if reservations != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		reservations.ReleaseAll(releaseCtx, orch.RoomIDs())
		cancel()
	}
}
