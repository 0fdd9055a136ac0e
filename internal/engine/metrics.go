package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность операции ядра вместе с единицей работы хранилища
	OperationDuration *prometheus.HistogramVec

	// Traffic: операции по исходу (code = OK или код ошибки)
	OperationsTotal *prometheus.CounterVec

	// Объем: сколько списано с authority и сколько ушло в комиссию
	TransferVolume prometheus.Counter
	FeesCollected  prometheus.Counter

	// Эскроу по терминальному переходу
	EscrowSettled *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		OperationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentwallet_operation_duration_seconds",
			Help:    "Histogram of engine operation latencies.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),

		OperationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentwallet_operations_total",
			Help: "Total number of engine operations by outcome code.",
		}, []string{"op", "code"}),

		TransferVolume: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agentwallet_transfer_volume_total",
			Help: "Sum of accepted transfer amounts debited from authorities.",
		}),

		FeesCollected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agentwallet_fees_collected_total",
			Help: "Sum of platform fees moved to the fee wallet.",
		}),

		EscrowSettled: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentwallet_escrow_settled_total",
			Help: "Escrows that reached a terminal state.",
		}, []string{"outcome"}), // released, refunded
	}
}
