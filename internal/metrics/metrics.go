package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_scans_total",
			Help: "Completed scans by final risk level",
		},
		[]string{"risk_level"},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verdict_scan_duration_seconds",
			Help:    "End-to-end scan pipeline duration",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	CollectorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verdict_collector_duration_seconds",
			Help:    "Per-collector evidence gathering duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"collector"},
	)

	CollectorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_collector_failures_total",
			Help: "Collector failures by collector and kind (timeout, error)",
		},
		[]string{"collector", "kind"},
	)

	Stage2Invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_stage2_invocations_total",
			Help: "Stage-2 deep analysis runs by trigger outcome (ran, skipped, fallback)",
		},
		[]string{"outcome"},
	)

	PolicyOverrides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_policy_overrides_total",
			Help: "Policy overrides applied by rule name",
		},
		[]string{"rule"},
	)

	IntelIndicators = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "verdict_intel_indicators",
			Help: "Active threat indicators held in the store by type",
		},
		[]string{"type"},
	)

	IntelSyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_intel_sync_errors_total",
			Help: "Malformed or failed records during intel feed sync by source",
		},
		[]string{"source"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verdict_queue_depth",
			Help: "Scan jobs currently waiting in the queue",
		},
	)

	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_job_retries_total",
			Help: "Scan job retry attempts by terminal outcome (retried, exhausted)",
		},
		[]string{"outcome"},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_llm_requests_total",
			Help: "LLM generation calls by tier and status",
		},
		[]string{"tier", "status"},
	)
)
