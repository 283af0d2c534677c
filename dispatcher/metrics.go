package dispatcher

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "oasis_runtime_sdk_batch_size",
			Help: "Number of transactions in the last executed batch.",
		},
	)
	txsExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "oasis_runtime_sdk_txs_executed",
			Help: "Total number of transactions executed.",
		},
	)
	messagesEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "oasis_runtime_sdk_messages_emitted",
			Help: "Total number of outbound consensus messages emitted.",
		},
	)
	dispatcherCollectors = []prometheus.Collector{
		batchSize,
		txsExecuted,
		messagesEmitted,
	}

	metricsOnce sync.Once
)

// registerMetrics registers this package's collectors with the default
// registry. Safe to call more than once; only the first call has effect.
func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(dispatcherCollectors...)
	})
}
