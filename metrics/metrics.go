package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClientOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabletstore_client_operations_total",
		Help: "Total number of cluster operations by operation and status.",
	}, []string{"operation", "status"})
	ClientOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tabletstore_client_operation_duration_seconds",
		Help:    "Duration of cluster operations in seconds, retries included.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"operation"})
	ClientRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabletstore_client_retries_total",
		Help: "Total number of retried transient failures by operation.",
	}, []string{"operation"})
	SessionBufferedMutations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tabletstore_session_buffered_mutations",
		Help: "Mutations currently buffered by all open sessions.",
	})
	SessionFlushedMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabletstore_session_flushed_mutations_total",
		Help: "Total number of flushed mutations by kind and status.",
	}, []string{"kind", "status"})
	ScannerRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tabletstore_scanner_rows_total",
		Help: "Total number of rows returned by scanners.",
	})
)

// ObserveOperation records the outcome and duration of a cluster operation.
func ObserveOperation(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ClientOperationsTotal.WithLabelValues(operation, status).Inc()
	ClientOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Serve serves prometheus metrics on the given address under /metrics
func Serve(addr string) error {
	router := http.NewServeMux()
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
<head><title>tabletstore-metrics</title></head>
<body>
<h1>tabletstore-metrics</h1>
<p><a href='/metrics'>metrics</a></p>
</body>
</html>`))
	}))
	srv := &http.Server{
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		Handler:      router,
		Addr:         addr,
	}

	return srv.ListenAndServe()
}
