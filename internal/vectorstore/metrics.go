package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: backend (chromem, chroma, pgvector), operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pyramidpy",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"backend", "operation", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pyramidpy",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// DocumentsWritten counts documents accepted by Add calls.
	DocumentsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pyramidpy",
			Subsystem: "vectorstore",
			Name:      "documents_written_total",
			Help:      "Total number of documents written to vector stores",
		},
		[]string{"backend"},
	)

	// HealthStatus indicates current backend health (1=healthy, 0=degraded).
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pyramidpy",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Current backend health status (1=healthy, 0=degraded)",
		},
		[]string{"backend"},
	)
)

// RecordOperation records the outcome and duration of a store operation.
func RecordOperation(backend, operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(backend, operation, result).Inc()
	OperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordDocumentsWritten records how many documents an Add call persisted.
func RecordDocumentsWritten(backend string, count int) {
	if count > 0 {
		DocumentsWritten.WithLabelValues(backend).Add(float64(count))
	}
}

// RecordHealthStatus records the outcome of a connectivity probe.
func RecordHealthStatus(backend string, healthy bool) {
	if healthy {
		HealthStatus.WithLabelValues(backend).Set(1)
	} else {
		HealthStatus.WithLabelValues(backend).Set(0)
	}
}
