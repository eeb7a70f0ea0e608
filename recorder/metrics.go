package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// recordsTotal counts every connection folded into the histograms, a
	// Prometheus-side mirror of Recorder.Count() for dashboards.
	recordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ncps_recorder_connections_total",
			Help: "Total connections recorded by the connection recorder.",
		})

	// retransConnsTotal counts connections with at least one SYN retransmit.
	retransConnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ncps_recorder_retransmitted_connections_total",
			Help: "Connections whose SYN was retransmitted at least once.",
		})

	// rttHistogram mirrors the fixed-bin rttMap as a Prometheus histogram so
	// operators get live percentile dashboards without waiting for the final
	// summarize() report.
	rttHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "ncps_syn_rtt_seconds",
			Help: "SYN RTT distribution, in seconds.",
			Buckets: []float64{
				.0001, .00025, .0005, .001, .0025, .005,
				.01, .025, .05, .1, .25, .5,
				1, 2.5, 5, 10,
			},
		})
)
