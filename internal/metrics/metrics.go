// Package metrics exposes Prometheus collectors for the operation log.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pebblestore "github.com/rzbill/oplog/internal/storage/pebble"
)

const namespace = "oplog"

// Metrics holds every collector. Build one per registry with New.
type Metrics struct {
	enqueued         *prometheus.CounterVec
	dispatched       *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	flushes          *prometheus.CounterVec
	flushDuration    prometheus.Histogram
	queueDepth       *prometheus.GaugeVec
	overflowWakeups  *prometheus.CounterVec
	replayed         *prometheus.CounterVec

	storageWriteBytes prometheus.Counter
	storageReadBytes  prometheus.Counter
	storageCommits    prometheus.Histogram
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_enqueued_total",
			Help:      "Operations accepted by the processor",
		}, []string{"session"}),
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_dispatched_total",
			Help:      "Operations acknowledged by the backend",
		}, []string{"session"}),
		dispatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Batches the backend did not accept",
		}, []string{"session"}),
		dispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in successful backend calls",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_flushes_total",
			Help:      "Queue flushes by result",
		}, []string{"result"}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_flush_duration_seconds",
			Help:      "Time to persist the in-memory tail",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Undispatched operations per session",
		}, []string{"session"}),
		overflowWakeups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflow_wakeups_total",
			Help:      "Early worker wake-ups caused by queue overflow",
		}, []string{"session"}),
		replayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_replayed_total",
			Help:      "Operations replayed by offline sync",
		}, []string{"session"}),
		storageWriteBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_write_bytes_total",
			Help:      "Bytes written through point writes",
		}),
		storageReadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_read_bytes_total",
			Help:      "Bytes read through point reads",
		}),
		storageCommits: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_batch_commit_seconds",
			Help:      "Pebble batch commit latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

func (m *Metrics) Enqueued(session string) { m.enqueued.WithLabelValues(session).Inc() }

func (m *Metrics) Dispatched(session string, ops int, elapsed time.Duration) {
	m.dispatched.WithLabelValues(session).Add(float64(ops))
	m.dispatchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) DispatchFailed(session string) { m.dispatchFailures.WithLabelValues(session).Inc() }

func (m *Metrics) Flushed(_ string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.flushes.WithLabelValues(result).Inc()
	m.flushDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) QueueDepth(session string, depth int) {
	m.queueDepth.WithLabelValues(session).Set(float64(depth))
}

func (m *Metrics) OverflowWakeup(session string) { m.overflowWakeups.WithLabelValues(session).Inc() }

func (m *Metrics) Replayed(session string, ops int) { m.replayed.WithLabelValues(session).Add(float64(ops)) }

// Forget drops per-session series once a session is closed.
func (m *Metrics) Forget(session string) {
	for _, v := range []*prometheus.CounterVec{m.enqueued, m.dispatched, m.dispatchFailures, m.overflowWakeups, m.replayed} {
		v.DeleteLabelValues(session)
	}
	m.queueDepth.DeleteLabelValues(session)
}

// Storage adapts the collectors to the Pebble metrics hook.
func (m *Metrics) Storage() pebblestore.MetricsHook { return storageHook{m} }

type storageHook struct{ m *Metrics }

func (h storageHook) ObserveWrite(_ time.Duration, bytes int) {
	h.m.storageWriteBytes.Add(float64(bytes))
}

func (h storageHook) ObserveRead(_ time.Duration, bytes int) {
	h.m.storageReadBytes.Add(float64(bytes))
}

func (h storageHook) ObserveBatchCommit(elapsed time.Duration, _ int, _ int) {
	h.m.storageCommits.Observe(elapsed.Seconds())
}

// Handler serves /metrics from g and a trivial /healthz.
func Handler(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
