package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"modelgate/internal/domain"
)

// Metrics tracks dispatch counters for the status API and /metrics.
type Metrics struct {
	GenerateTotal    atomic.Int64
	StreamTotal      atomic.Int64
	FallbackTotal    atomic.Int64
	FailureTotal     atomic.Int64
	InterruptedTotal atomic.Int64
}

func (m *Metrics) observeResult(res *domain.GenerationResult) {
	if res != nil && res.UsedFallback {
		m.FallbackTotal.Add(1)
	}
}

func (m *Metrics) observeError(err error) {
	switch {
	case errors.Is(err, domain.ErrStreamInterrupted):
		m.InterruptedTotal.Add(1)
	case errors.Is(err, domain.ErrAllCandidatesExhausted):
		m.FailureTotal.Add(1)
	}
}

// metricsHandler serves GET /metrics in the Prometheus text format without
// pulling in the full client library.
func metricsHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
		}
		gauge := func(name, help string, v float64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, v)
		}

		counter("modelgate_generate_requests_total", "Non-streaming generation requests.", metrics.GenerateTotal.Load())
		counter("modelgate_stream_requests_total", "Streaming generation requests.", metrics.StreamTotal.Load())
		counter("modelgate_fallback_total", "Requests answered by the cloud fallback.", metrics.FallbackTotal.Load())
		counter("modelgate_dispatch_failures_total", "Requests that exhausted every candidate and the fallback.", metrics.FailureTotal.Load())
		counter("modelgate_stream_interrupted_total", "Streams that failed after partial output.", metrics.InterruptedTotal.Load())

		snap := deps.Health.Snapshot()
		ids := make([]string, 0, len(snap))
		for id := range snap {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		fmt.Fprintf(w, "# HELP modelgate_backend_healthy Cached health of each backend (1 healthy, 0 not).\n")
		fmt.Fprintf(w, "# TYPE modelgate_backend_healthy gauge\n")
		for _, id := range ids {
			v := 0
			if snap[id].Healthy {
				v = 1
			}
			fmt.Fprintf(w, "modelgate_backend_healthy{backend=%q} %d\n", id, v)
		}

		gauge("modelgate_uptime_seconds", "Seconds since the gateway started.", deps.Now().Sub(startTime).Seconds())
		gauge("modelgate_goroutines", "Number of goroutines.", float64(runtime.NumGoroutine()))
	}
}
