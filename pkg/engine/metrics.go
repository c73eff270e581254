package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

type metrics struct {
	logicalPlanning  prometheus.Histogram
	optimization     prometheus.Histogram
	physicalPlanning prometheus.Histogram
	execution        prometheus.Histogram

	queries *prometheus.CounterVec
	rows    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	histogram := func(name, help string) prometheus.Histogram {
		return promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: name,
			Help: help,

			Buckets:                         prometheus.DefBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: time.Hour,
		})
	}

	return &metrics{
		logicalPlanning:  histogram("planprobe_engine_logical_planning_seconds", "Time spent parsing SQL and building logical plans."),
		optimization:     histogram("planprobe_engine_optimization_seconds", "Time spent optimizing logical plans."),
		physicalPlanning: histogram("planprobe_engine_physical_planning_seconds", "Time spent creating and optimizing physical plans."),
		execution:        histogram("planprobe_engine_execution_seconds", "Time spent executing physical plans, including collecting all records."),

		queries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "planprobe_engine_queries_total",
			Help: "Total number of executed physical plans by status.",
		}, []string{"status"}),
		rows: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "planprobe_engine_result_rows_total",
			Help: "Total number of rows returned by successfully executed plans.",
		}),
	}
}
