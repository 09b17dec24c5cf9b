package gateway

import (
	"net/http"
	"time"

	"modelgate/internal/usecase/scheduling"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service       string                `json:"service"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Backends      BackendCounts         `json:"backends"`
	Agents        int                   `json:"agents"`
	Fallback      bool                  `json:"fallback"`
	Usage         bool                  `json:"usage"`
	Requests      RequestCounts         `json:"requests"`
	Jobs          []scheduling.JobStats `json:"jobs,omitempty"`
}

// BackendCounts summarizes the cached health view.
type BackendCounts struct {
	Total   int `json:"total"`
	Healthy int `json:"healthy"`
}

// RequestCounts mirrors the dispatch counters in Metrics.
type RequestCounts struct {
	Generate    int64 `json:"generate"`
	Stream      int64 `json:"stream"`
	Fallbacks   int64 `json:"fallbacks"`
	Failures    int64 `json:"failures"`
	Interrupted int64 `json:"interrupted"`
}

func statusHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Health.Snapshot()
		healthy := 0
		for _, st := range snap {
			if st.Healthy {
				healthy++
			}
		}
		resp := StatusResponse{
			Service:       "modelgate",
			Version:       deps.Version,
			UptimeSeconds: int64(deps.Now().Sub(startTime).Seconds()),
			Backends:      BackendCounts{Total: len(snap), Healthy: healthy},
			Agents:        len(deps.Agents),
			Fallback:      deps.Dispatcher.HasFallback(),
			Usage:         deps.Usage != nil,
			Requests: RequestCounts{
				Generate:    metrics.GenerateTotal.Load(),
				Stream:      metrics.StreamTotal.Load(),
				Fallbacks:   metrics.FallbackTotal.Load(),
				Failures:    metrics.FailureTotal.Load(),
				Interrupted: metrics.InterruptedTotal.Load(),
			},
		}
		if deps.Jobs != nil {
			resp.Jobs = deps.Jobs.Stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
