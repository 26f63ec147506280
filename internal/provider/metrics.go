package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "novel_engine_provider_requests_total",
			Help: "Total number of requests to generative providers.",
		},
		[]string{"provider", "status"}, // status: success / error / error_empty_response / fallback
	)
	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novel_engine_provider_request_duration_seconds",
			Help:    "Histogram of provider request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	providerPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novel_engine_provider_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"provider"},
	)
	providerCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "novel_engine_provider_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"provider"},
	)
)
