// Package metrics provides Prometheus instrumentation for the load generator.
// It exposes a gauge for live sessions, counters for session outcomes and
// message throughput, and a histogram for connect latency.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message directions for MessagesTotal.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

var (
	// SessionsStarted counts sessions that began connecting.
	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loadgen_sessions_started_total",
		Help: "Total number of simulated sessions started",
	})

	// SessionsActive tracks sessions whose Run has not returned yet.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loadgen_sessions_active",
		Help: "Current number of running simulated sessions",
	})

	// SessionsFinished counts finished sessions by outcome: "completed",
	// "rejected", "failed", "dropped" or "cancelled".
	SessionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_sessions_finished_total",
		Help: "Total number of simulated sessions finished",
	}, []string{"outcome"})

	// MessagesTotal counts chat messages, labeled by direction.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loadgen_messages_total",
		Help: "Total number of chat messages sent or received",
	}, []string{"direction"}) // direction = "sent", "received"

	// ConnectLatency records time from dial to an open Engine.IO session.
	ConnectLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loadgen_connect_latency_seconds",
		Help:    "Time to establish a transport connection",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// RoomsServed tracks rooms held open by the reference room server.
	RoomsServed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loadgen_roomserver_rooms",
		Help: "Current number of rooms on the reference room server",
	})
)

func init() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsActive,
		SessionsFinished,
		MessagesTotal,
		ConnectLatency,
		RoomsServed,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
