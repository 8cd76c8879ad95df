package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionTotal 秒杀准入结果：reserved / exhausted / closed / duplicate / conflict / released / error
	AdmissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesync_flash_admission_total",
			Help: "Flash-sale admission attempts by outcome",
		},
		[]string{"outcome"},
	)

	// GroupTransitions 拼团状态迁移次数
	GroupTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesync_group_transitions_total",
			Help: "Group-buy state transitions by target state and cause",
		},
		[]string{"to", "cause"},
	)

	IndexRecompute = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesync_index_recompute_total",
			Help: "Index row recomputations by channel and resulting status",
		},
		[]string{"channel", "status"},
	)

	StockUnderflow = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesync_stock_underflow_total",
			Help: "Stock deltas clamped at zero and flagged for manual review",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesync_outbox_published_total",
			Help: "Outbox events relayed to Kafka by result",
		},
		[]string{"result"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salesync_sweep_duration_seconds",
			Help:    "Background sweep duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)
