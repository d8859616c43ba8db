package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imapfeed"

type Metrics struct {
	Session *SessionMetrics
	Ingest  *IngestMetrics
}

type SessionMetrics struct {
	// Commands is labelled with "command" and "result".
	Commands   metrics.Counter
	Connects   metrics.Counter
	Reconnects metrics.Counter
	Cancelled  metrics.Counter
}

type IngestMetrics struct {
	Passes   metrics.Counter
	Messages metrics.Counter
	// Parts is labelled with "content_type" and "handled".
	Parts metrics.Counter
	// Events is labelled with "type".
	Events metrics.Counter
}

// Discard returns metrics that record nothing.
func Discard() *Metrics {
	return &Metrics{
		Session: &SessionMetrics{
			Commands:   discard.NewCounter(),
			Connects:   discard.NewCounter(),
			Reconnects: discard.NewCounter(),
			Cancelled:  discard.NewCounter(),
		},
		Ingest: &IngestMetrics{
			Passes:   discard.NewCounter(),
			Messages: discard.NewCounter(),
			Parts:    discard.NewCounter(),
			Events:   discard.NewCounter(),
		},
	}
}

// New returns prometheus backed metrics registered with the default
// registry, or discarding metrics when addr is empty.
func New(addr string) *Metrics {
	if addr == "" {
		return Discard()
	}

	counter := func(subsystem, name, help string, labels ...string) metrics.Counter {
		return prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Metrics{
		Session: &SessionMetrics{
			Commands:   counter("session", "commands_total", "Number of executed IMAP commands", "command", "result"),
			Connects:   counter("session", "connects_total", "Number of successful IMAP logins"),
			Reconnects: counter("session", "connection_failures_total", "Number of failed or lost IMAP connections"),
			Cancelled:  counter("session", "cancelled_commands_total", "Number of commands skipped because the caller went away"),
		},
		Ingest: &IngestMetrics{
			Passes:   counter("ingest", "passes_total", "Number of completed search and ingest passes"),
			Messages: counter("ingest", "messages_total", "Number of messages marked seen"),
			Parts:    counter("ingest", "parts_total", "Number of leaf parts walked", "content_type", "handled"),
			Events:   counter("ingest", "events_total", "Number of events handed to the sink", "type"),
		},
	}
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	log := logger.GetLogger()

	if addr == "" {
		log.Debug("metrics addr is empty, not exposing prometheus metrics")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("prometheus handler listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warnw("failed to serve prometheus metrics", "error", err)
		return err
	}

	return nil
}
