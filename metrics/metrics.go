// Package metrics exposes Prometheus collectors for operator and adapter activity.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var registry = prometheus.NewRegistry()

var (
	TilesProduced = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoflow_tiles_produced_total",
			Help: "Raster tiles emitted by adapters.",
		},
		[]string{"adapter"},
	)

	SubQueries = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "geoflow_subqueries_total",
			Help: "Sub-queries issued against source processors.",
		},
	)

	MergedChunks = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "geoflow_merged_chunks_total",
			Help: "Feature collections emitted by the chunk merger.",
		},
	)

	WorkerTaskDuration = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geoflow_worker_task_duration_seconds",
			Help:    "Duration of tasks run on the worker pool.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)

	OperatorInitializations = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoflow_operator_initializations_total",
			Help: "Initialized operators by type.",
		},
		[]string{"operator"},
	)

	cacheResults = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoflow_metadata_cache_results_total",
			Help: "Metadata cache lookups by outcome.",
		},
		[]string{"outcome"},
	)
)

func IncCacheHit() {
	cacheResults.WithLabelValues("hit").Inc()
}

func IncCacheMiss() {
	cacheResults.WithLabelValues("miss").Inc()
}

// RegisterRuntime adds the go and process collectors, for long running commands.
func RegisterRuntime() {
	_ = registry.Register(collectors.NewGoCollector())
	_ = registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// WriteText dumps all metrics in the Prometheus text format.
func WriteText(w io.Writer) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err = expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
