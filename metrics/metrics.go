// Package metrics holds the Prometheus collectors of the retrieval
// orchestrator. They register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Retrievals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomfetch_retrievals_total",
		Help: "The total number of retrievals, labelled by result: archive_hit, done, received, failed, timeout",
	}, []string{"result"})

	RetrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dicomfetch_retrieval_duration_seconds",
		Help:    "Time a caller waited for a retrieval, labelled by query level",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"level"})

	ArchiveHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicomfetch_archive_hits_total",
		Help: "The number of retrievals served from the local archive without network traffic",
	})

	ObjectsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dicomfetch_objects_received_total",
		Help: "The number of objects received by the storage listener and archived",
	})

	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomfetch_storage_errors_total",
		Help: "The number of received objects that could not be archived, labelled by DIMSE status",
	}, []string{"status"})

	MoveResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dicomfetch_move_responses_total",
		Help: "C-MOVE responses received from the peer, labelled by phase: PENDING, DONE, FAILED",
	}, []string{"phase"})

	Waiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dicomfetch_waiting_retrievals",
		Help: "Retrieve calls currently waiting for events",
	})

	QueryCache = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dicomfetch_query_cache",
		Help: "Statistics of the C-FIND result cache",
	}, []string{"type"}) // type: insertions, hits, misses, evictions, total
)
