// Package metrics exposes the Prometheus metrics of sitebackup.
// All metrics are defined in their respective packages (transport, client,
// ratelimit, checkpoint, pagination, sqlite) via promauto; this package serves
// them and documents the catalogue.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by sitebackup.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is where the metrics handler is mounted.
const Path = "/metrics"

// Metrics Documentation
//
// Request Metrics (pkg/transport):
//   - sitebackup_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - sitebackup_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//
// Retry Metrics (pkg/client):
//   - sitebackup_retries_total{error_class} (Counter): Retry attempts by error class
//   - sitebackup_retry_exhausted_total{error_class} (Counter): Calls that exhausted the retry budget
//   - sitebackup_remote_errors_total{method} (Counter): Remote logical errors by RPC method
//
// Throttle Metrics (pkg/ratelimit):
//   - sitebackup_throttle_wait_seconds (Histogram): Time spent waiting for the throttle
//   - sitebackup_throttled_calls_total (Counter): Calls that passed through the throttle
//
// Progress Metrics (pkg/checkpoint, pkg/pagination, pkg/sqlite):
//   - sitebackup_checkpoint_writes_total{backend, result} (Counter): Checkpoint writes
//   - sitebackup_pages_fetched_total (Counter): Pages fetched by the pagination driver
//   - sitebackup_records_stored_total{task, result} (Counter): Records created, updated or unchanged
//
// Example Prometheus Queries:
//
//   # Rate limiting pressure
//   sum(rate(sitebackup_retries_total{error_class="rate_limit"}[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(sitebackup_request_duration_seconds_bucket[5m]))
//
//   # Share of unchanged records on a re-run
//   sum(rate(sitebackup_records_stored_total{result="unchanged"}[5m])) /
//   sum(rate(sitebackup_records_stored_total[5m]))

// Handler returns the HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(Path, Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
