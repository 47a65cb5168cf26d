package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ums_gateway_messages_accepted_total",
		Help: "Messages admitted and queued for delivery, by channel.",
	}, []string{"channel"})

	admissionRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ums_gateway_admission_rejections_total",
		Help: "Messages rejected at admission, by error code.",
	}, []string{"code"})

	idempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ums_gateway_idempotent_replays_total",
		Help: "Admission requests answered from a previously admitted message.",
	})

	admissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ums_gateway_admission_duration_seconds",
		Help:    "End-to-end admission latency.",
		Buckets: prometheus.DefBuckets,
	})
)
