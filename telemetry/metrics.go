// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsDispatched  prometheus.Counter
	DispatchErrors      prometheus.Counter
	ChatPolls           prometheus.Counter
	ChatPollErrors      prometheus.Counter
	ChatReprimes        prometheus.Counter
	MessagesReceived    prometheus.Counter
	MessagesHandled     prometheus.Counter
	AnnouncementsSent   prometheus.Counter
	AnnouncementsFailed prometheus.Counter
	AccountPauses       prometheus.Counter

	// Histograms (seconds)
	DispatchDuration prometheus.Observer
	PollDuration     prometheus.Observer

	// Gauges
	ConnectedGauge prometheus.Gauge
	PausedGauge    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsDispatched = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_commands_dispatched_total", Help: "Commands resolved and executed"})
		DispatchErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_dispatch_errors_total", Help: "Handler errors or panics caught at the dispatch boundary"})
		ChatPolls = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_chat_polls_total", Help: "Live chat poll cycles"})
		ChatPollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_chat_poll_errors_total", Help: "Live chat poll fetch errors"})
		ChatReprimes = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_chat_reprimes_total", Help: "Cursor invalidations recovered by re-priming"})
		MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_chat_messages_received_total", Help: "Items returned by live chat polls"})
		MessagesHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_chat_messages_handled_total", Help: "Items dispatched after kind/history filtering"})
		AnnouncementsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_announcements_sent_total", Help: "Scheduled announcements sent"})
		AnnouncementsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_announcements_failed_total", Help: "Scheduled announcement send failures"})
		AccountPauses = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_account_pauses_total", Help: "Accounts paused by the announcement circuit breaker"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_dispatch_duration_seconds", Help: "Command dispatch duration seconds", Buckets: prometheus.DefBuckets})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_poll_duration_seconds", Help: "Live chat poll duration seconds", Buckets: prometheus.DefBuckets})
		ConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_accounts_connected", Help: "Accounts with an active poll loop"})
		PausedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_accounts_paused", Help: "Accounts paused by the circuit breaker"})
	})
}

// SetConnected records the number of accounts with an active poll loop.
func SetConnected(n int) {
	if ConnectedGauge != nil {
		ConnectedGauge.Set(float64(n))
	}
}

// SetPaused records the number of accounts currently paused.
func SetPaused(n int) {
	if PausedGauge != nil {
		PausedGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
