package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	commandsTotal     *prometheus.CounterVec
	replaysTotal      *prometheus.CounterVec
	lockWaitSeconds   prometheus.Histogram
	outboxPublished   prometheus.Counter
	outboxFailed      prometheus.Counter
	consumerMessages  *prometheus.CounterVec
	deadLettersTotal  prometheus.Counter
	holdsExpiredTotal prometheus.Counter
	resumedTotal      prometheus.Counter
}

// New registers the ledger collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "commands_total",
				Help:      "Commands processed partitioned by transaction type and resulting status.",
			},
			[]string{"type", "status"},
		),
		replaysTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "idempotent_replays_total",
				Help:      "Commands answered from an existing transaction record.",
			},
			[]string{"type"},
		),
		lockWaitSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ledger",
				Subsystem: "engine",
				Name:      "lock_wait_seconds",
				Help:      "Time spent acquiring account locks.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),
		outboxPublished: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "outbox",
				Name:      "published_total",
				Help:      "Completion events relayed to the broker.",
			},
		),
		outboxFailed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "outbox",
				Name:      "publish_failures_total",
				Help:      "Failed relay attempts.",
			},
		),
		consumerMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "consumer",
				Name:      "messages_total",
				Help:      "Command messages consumed partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		deadLettersTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "consumer",
				Name:      "dead_letters_total",
				Help:      "Messages routed to the dead-letter topic.",
			},
		),
		holdsExpiredTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "sweep",
				Name:      "holds_expired_total",
				Help:      "Expired holds reversed by the sweep.",
			},
		),
		resumedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "sweep",
				Name:      "resumed_total",
				Help:      "Stale INIT/PENDING transactions re-driven by the sweep.",
			},
		),
	}
}

// Nop returns collectors bound to a private registry.
func Nop() *Metrics { return New(prometheus.NewRegistry()) }

func (m *Metrics) ObserveCommand(typ, status string) {
	m.commandsTotal.WithLabelValues(typ, status).Inc()
}

func (m *Metrics) ObserveReplay(typ string) { m.replaysTotal.WithLabelValues(typ).Inc() }

func (m *Metrics) ObserveLockWait(d time.Duration) { m.lockWaitSeconds.Observe(d.Seconds()) }

func (m *Metrics) ObservePublish(err error) {
	if err != nil {
		m.outboxFailed.Inc()
		return
	}
	m.outboxPublished.Inc()
}

func (m *Metrics) ObserveConsumed(outcome string) { m.consumerMessages.WithLabelValues(outcome).Inc() }

func (m *Metrics) ObserveDeadLetter() { m.deadLettersTotal.Inc() }

func (m *Metrics) ObserveExpiredHold() { m.holdsExpiredTotal.Inc() }

func (m *Metrics) ObserveResumed() { m.resumedTotal.Inc() }
