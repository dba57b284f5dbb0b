package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "otp_delivery",
			Name:      "queue_depth",
			Help:      "Delivery jobs not yet completed, including the one in flight.",
		},
	)

	jobsEnqueuedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "otp_delivery",
			Name:      "jobs_enqueued_total",
			Help:      "Total delivery jobs enqueued.",
		},
	)

	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "otp_delivery",
			Name:      "jobs_processed_total",
			Help:      "Total delivery jobs completed.",
		},
		[]string{"provider_name", "status"}, // status: sent, failed, rejected
	)

	deliveryDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "otp_delivery",
			Name:      "send_duration_seconds",
			Help:      "Duration of a single transport send.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_name"},
	)
)
