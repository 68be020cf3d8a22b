package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookchat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "bookchat_http_request_duration_seconds",
			Help: "Duration of HTTP requests",
		},
		[]string{"method", "endpoint"},
	)
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookchat_turns_total",
			Help: "Chat turns by outcome",
		},
		[]string{"outcome"},
	)
	TurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookchat_turn_duration_seconds",
			Help:    "End-to-end duration of one chat turn",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)
	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookchat_routing_decisions_total",
			Help: "Router decisions by route and source (model, rules, fallback)",
		},
		[]string{"route", "source"},
	)
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookchat_tool_calls_total",
			Help: "Tool executions by tool and status",
		},
		[]string{"tool", "status"},
	)
	LLMCostUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookchat_llm_cost_usd_total",
			Help: "Accumulated LLM cost in USD by model",
		},
		[]string{"model"},
	)
	IngestionJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookchat_ingestion_jobs_total",
			Help: "Ingestion jobs by final status",
		},
		[]string{"status"},
	)
	IngestedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookchat_ingested_chunks_total",
			Help: "Chunks embedded and published across all ingestion jobs",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(TurnsTotal)
	prometheus.MustRegister(TurnDuration)
	prometheus.MustRegister(RoutingDecisionsTotal)
	prometheus.MustRegister(ToolCallsTotal)
	prometheus.MustRegister(LLMCostUSD)
	prometheus.MustRegister(IngestionJobsTotal)
	prometheus.MustRegister(IngestedChunksTotal)
}
