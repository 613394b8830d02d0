// Package metrics registers the engine's prometheus collectors and
// mounts them, alongside the status IPC surface, on one HTTP router —
// the same router-registration shape the ingestion APIs use.
package metrics

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth reports the current item count of a ProcessQueue or
	// SenderQueue, labeled by routing key and queue role.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "logtail_queue_depth",
		Help: "current item count of a process or sender queue",
	}, []string{"routing_key", "role"})

	// ReaderBytesRead counts bytes read per file config.
	ReaderBytesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtail_reader_bytes_read_total",
		Help: "count of bytes read from source files",
	}, []string{"config"})

	// ReaderRecordsRead counts records extracted per file config.
	ReaderRecordsRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtail_reader_records_read_total",
		Help: "count of records extracted by the framer per file config",
	}, []string{"config"})

	// CheckpointDumpDuration observes how long one checkpoint dump took.
	CheckpointDumpDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logtail_checkpoint_dump_duration_seconds",
		Help:    "time spent performing one checkpoint aggregate dump",
		Buckets: prometheus.DefBuckets,
	})

	// CheckpointOverflow counts entries dropped from a dump due to
	// capacity overflow.
	CheckpointOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logtail_checkpoint_overflow_total",
		Help: "count of checkpoint entries dropped across all dumps due to capacity overflow",
	})

	// QueueRejected counts TryPush calls rejected for being over
	// capacity, labeled by routing key.
	QueueRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logtail_queue_rejected_total",
		Help: "count of enqueue attempts rejected because a queue was full",
	}, []string{"routing_key", "role"})
)

// Mount registers the /metrics endpoint on router, matching the
// ingestion APIs' pattern of handing a sub-router to srv.HTTPMux.
func Mount(router *mux.Router) {
	router.Path("/metrics").Methods("GET").Handler(promhttp.Handler())
}

// NewRouter returns a standalone router serving only /metrics, for
// callers that don't already own a mux.Router (e.g. the CLI binary).
func NewRouter() *mux.Router {
	var router = mux.NewRouter()
	Mount(router)
	return router
}
