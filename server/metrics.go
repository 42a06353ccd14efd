package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trtlite_classify_requests_total",
		Help: "Classify requests by HTTP status code",
	}, []string{"code"})

	imagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trtlite_classified_images_total",
		Help: "Images classified",
	})

	inferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trtlite_inference_duration_seconds",
		Help:    "Time spent running one batch on a session",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	batchFill = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trtlite_batch_images",
		Help:    "Images per executed batch",
		Buckets: prometheus.LinearBuckets(1, 1, 32),
	})

	sessionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trtlite_sessions_in_use",
		Help: "Sessions checked out of the pool",
	})
)
