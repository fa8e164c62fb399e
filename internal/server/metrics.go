package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "levercore",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"route", "method", "code"},
)

var positionsOpened = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "levercore",
		Subsystem: "positions",
		Name:      "opened_total",
		Help:      "Total positions opened",
	},
)

var positionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "levercore",
		Subsystem: "positions",
		Name:      "closed_total",
		Help:      "Total positions finalized",
	},
	[]string{"outcome"}, // closed, liquidated
)

var poolUtilization = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "levercore",
		Subsystem: "pool",
		Name:      "utilization_wad",
		Help:      "Pool utilization, WAD-scaled",
	},
	[]string{"asset"},
)
