package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"modelgate/internal/domain"
	"modelgate/internal/infra/middleware"
	"modelgate/internal/usecase/scheduling"
)

const (
	maxRequestBody   = 1 << 20
	defaultUsageDays = 7
	maxUsageDays     = 366
)

// Dispatcher is the generation surface the gateway serves.
type Dispatcher interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
	Stream(ctx context.Context, req domain.GenerationRequest, onChunk func(domain.Chunk) error) (*domain.GenerationResult, error)
	HasFallback() bool
}

// HealthReporter exposes cached backend health without probing.
type HealthReporter interface {
	Snapshot() map[string]domain.BackendStatus
	AnyHealthy() bool
}

// UsageReader reads daily usage aggregates.
type UsageReader interface {
	Since(ctx context.Context, since time.Time) ([]domain.UsageRecord, error)
}

// JobReporter exposes maintenance job counters.
type JobReporter interface {
	Stats() []scheduling.JobStats
}

// HandlerDeps holds dependencies needed by the HTTP handlers.
type HandlerDeps struct {
	Dispatcher Dispatcher
	Health     HealthReporter
	Usage      UsageReader // can be nil (usage accounting disabled)
	Jobs       JobReporter // can be nil (no background jobs)
	Agents     []string    // mapped agent names, for the status endpoint
	Version    string
	Logger     *slog.Logger
	Now        func() time.Time
}

// statusFor maps a dispatch error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrAllCandidatesExhausted),
		errors.Is(err, domain.ErrFallbackFailed),
		errors.Is(err, domain.ErrStreamInterrupted):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (domain.GenerationRequest, error) {
	var req domain.GenerationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, domain.NewDomainError("gateway.decode", domain.ErrInvalidInput, err.Error())
	}
	return req, nil
}

func generateHandler(deps HandlerDeps, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeRequest(w, r)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err)
			return
		}
		metrics.GenerateTotal.Add(1)
		res, err := deps.Dispatcher.Generate(r.Context(), req)
		if err != nil {
			metrics.observeError(err)
			middleware.WriteError(w, statusFor(err), err)
			return
		}
		metrics.observeResult(res)
		writeJSON(w, http.StatusOK, res)
	}
}

// streamHandler serves application/x-ndjson: one line per chunk, then a
// final done or error line. Once the first line is written the status is
// 200 and failures are reported in-band.
func streamHandler(deps HandlerDeps, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeRequest(w, r)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err)
			return
		}
		metrics.StreamTotal.Add(1)

		rc := http.NewResponseController(w)
		enc := json.NewEncoder(w)
		started := false
		start := func() {
			if !started {
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.WriteHeader(http.StatusOK)
				started = true
			}
		}

		res, err := deps.Dispatcher.Stream(r.Context(), req, func(c domain.Chunk) error {
			start()
			if err := enc.Encode(StreamLine{Chunk: c.Text, Backend: c.Backend}); err != nil {
				return err
			}
			return rc.Flush()
		})
		if err != nil {
			metrics.observeError(err)
			if !started && res == nil {
				middleware.WriteError(w, statusFor(err), err)
				return
			}
			start()
			_ = enc.Encode(StreamLine{Error: err.Error(), Code: domain.ErrorCodeOf(err), Result: res})
			_ = rc.Flush()
			return
		}
		metrics.observeResult(res)
		start()
		_ = enc.Encode(StreamLine{Done: true, Result: res})
		_ = rc.Flush()
	}
}

func healthHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Health.Snapshot())
	}
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyzHandler reports ready when some backend is healthy or a cloud
// fallback can take the traffic.
func readyzHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health.AnyHealthy() || deps.Dispatcher.HasFallback() {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

// UsageResponse is the JSON body returned by GET /api/v1/usage.
type UsageResponse struct {
	Since   string               `json:"since"`
	Days    int                  `json:"days"`
	Records []domain.UsageRecord `json:"records"`
}

func usageHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Usage == nil {
			middleware.WriteError(w, http.StatusNotFound, errors.New("usage accounting is disabled"))
			return
		}
		days := defaultUsageDays
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxUsageDays {
				middleware.WriteError(w, http.StatusBadRequest,
					domain.NewDomainError("gateway.usage", domain.ErrInvalidInput, fmt.Sprintf("days must be 1..%d", maxUsageDays)))
				return
			}
			days = n
		}
		now := deps.Now().UTC()
		since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

		records, err := deps.Usage.Since(r.Context(), since)
		if err != nil {
			deps.Logger.Warn("usage query failed", "error", err)
			middleware.WriteError(w, http.StatusInternalServerError, err)
			return
		}
		if records == nil {
			records = []domain.UsageRecord{}
		}
		writeJSON(w, http.StatusOK, UsageResponse{Since: since.Format("2006-01-02"), Days: days, Records: records})
	}
}
