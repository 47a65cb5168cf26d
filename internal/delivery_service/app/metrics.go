package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ums_delivery_attempts_total",
		Help: "Delivery attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	deliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ums_delivery_duration_seconds",
		Help:    "Time from picking a message up to the provider verdict.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})

	statusCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ums_delivery_status_callbacks_total",
		Help: "Asynchronous provider status callbacks by reported status.",
	}, []string{"status"})
)
