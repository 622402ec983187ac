// Package metrics holds the Prometheus collectors of the node. Every recorder
// is nil-safe so components can run without metrics in tests.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type SequencerMetrics struct {
	blocks        prometheus.Counter
	height        prometheus.Gauge
	blockTxs      prometheus.Histogram
	blockDuration prometheus.Histogram
	txResults     *prometheus.CounterVec
	mempool       *prometheus.GaugeVec
}

type APIMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	wsClients prometheus.Gauge
}

var (
	sequencerOnce sync.Once
	sequencerReg  *SequencerMetrics

	apiOnce sync.Once
	apiReg  *APIMetrics
)

// Sequencer returns the lazily registered block production metrics.
func Sequencer() *SequencerMetrics {
	sequencerOnce.Do(func() {
		sequencerReg = &SequencerMetrics{
			blocks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakedex",
				Subsystem: "sequencer",
				Name:      "blocks_total",
				Help:      "Blocks finalized by the sequencer.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakedex",
				Subsystem: "sequencer",
				Name:      "height",
				Help:      "Height of the last committed block.",
			}),
			blockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "stakedex",
				Subsystem: "sequencer",
				Name:      "block_txs",
				Help:      "Actions per finalized block.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			}),
			blockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "stakedex",
				Subsystem: "sequencer",
				Name:      "block_duration_seconds",
				Help:      "Time spent executing and committing a block.",
				Buckets:   prometheus.DefBuckets,
			}),
			txResults: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakedex",
				Subsystem: "exchange",
				Name:      "actions_total",
				Help:      "Executed actions segmented by kind and result code.",
			}, []string{"kind", "code"}),
			mempool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stakedex",
				Subsystem: "mempool",
				Name:      "pending",
				Help:      "Pending actions per mempool class.",
			}, []string{"class"}),
		}
		prometheus.MustRegister(
			sequencerReg.blocks,
			sequencerReg.height,
			sequencerReg.blockTxs,
			sequencerReg.blockDuration,
			sequencerReg.txResults,
			sequencerReg.mempool,
		)
	})
	return sequencerReg
}

func (m *SequencerMetrics) ObserveBlock(height int64, txs int, took time.Duration) {
	if m == nil {
		return
	}
	m.blocks.Inc()
	m.height.Set(float64(height))
	m.blockTxs.Observe(float64(txs))
	m.blockDuration.Observe(took.Seconds())
}

func (m *SequencerMetrics) ObserveAction(kind string, code uint32) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.txResults.WithLabelValues(kind, strconv.FormatUint(uint64(code), 10)).Inc()
}

func (m *SequencerMetrics) SetPending(class string, n int) {
	if m == nil {
		return
	}
	m.mempool.WithLabelValues(class).Set(float64(n))
}

// API returns the lazily registered HTTP metrics.
func API() *APIMetrics {
	apiOnce.Do(func() {
		apiReg = &APIMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakedex",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakedex",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakedex",
				Subsystem: "api",
				Name:      "ws_clients",
				Help:      "Connected websocket clients.",
			}),
		}
		prometheus.MustRegister(apiReg.requests, apiReg.latency, apiReg.wsClients)
	})
	return apiReg
}

func (m *APIMetrics) Observe(route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(took.Seconds())
}

func (m *APIMetrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}
