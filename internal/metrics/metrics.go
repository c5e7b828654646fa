// Package metrics registers the Prometheus collectors the orchestrator,
// minter, and ledger update at runtime.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles every collector under one registry so the RPC server can
// expose them on a single /metrics endpoint.
type Set struct {
	registry *prometheus.Registry

	TipHeight    prometheus.Gauge
	MempoolSize  prometheus.Gauge
	MempoolBytes prometheus.Gauge
	PeerCount    prometheus.Gauge
	QuorumGate   prometheus.Gauge
	MinterHashes prometheus.Gauge
	ApplyLatency prometheus.Histogram
	TxRejected   *prometheus.CounterVec
}

// New creates and registers the full collector set.
func New() *Set {
	reg := prometheus.NewRegistry()

	s := &Set{
		registry: reg,
		TipHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botho_ledger_tip_height",
			Help: "Height of the most recently applied block.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botho_mempool_transactions",
			Help: "Number of pending transactions in the mempool.",
		}),
		MempoolBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botho_mempool_bytes",
			Help: "Total encoded size of pending transactions.",
		}),
		PeerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botho_network_peers",
			Help: "Number of connected peers.",
		}),
		QuorumGate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botho_minter_quorum_gate",
			Help: "1 while the quorum is satisfiable and the minter may run, 0 otherwise.",
		}),
		MinterHashes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botho_minter_hashes_total",
			Help: "Cumulative proof-of-work attempts across all minter workers.",
		}),
		ApplyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botho_ledger_apply_seconds",
			Help:    "Latency of atomic block application.",
			Buckets: prometheus.DefBuckets,
		}),
		TxRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botho_tx_rejected_total",
			Help: "Transactions rejected at admission, by error kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(s.TipHeight, s.MempoolSize, s.MempoolBytes, s.PeerCount,
		s.QuorumGate, s.MinterHashes, s.ApplyLatency, s.TxRejected)
	return s
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
