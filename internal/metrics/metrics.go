// Package metrics exposes Prometheus instrumentation for scans and monitor cycles.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/kalshioracle/internal/logger"
)

const namespace = "kalshioracle"

var (
	MarketsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "markets_evaluated_total",
		Help:      "Markets passed to the scorer or movement detector.",
	}, []string{"mode"})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_emitted_total",
		Help:      "Anomaly signals and movement alerts produced.",
	}, []string{"kind"})

	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Failed upstream fetches by endpoint.",
	}, []string{"endpoint"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Kalshi API requests by endpoint and status class.",
	}, []string{"endpoint", "status"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of a scan or monitor cycle.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"mode"})

	CycleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycle_failures_total",
		Help:      "Scan or monitor cycles that returned an error.",
	}, []string{"mode"})
)

// NewRouter serves /metrics and /healthz.
func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// Serve runs the metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("Serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
}
