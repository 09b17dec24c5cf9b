// Package dispatch routes generation requests for an agent across its
// ordered candidate backends and falls back to a cloud provider when every
// candidate fails.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"modelgate/internal/domain"
	"modelgate/internal/infra/tracer"
)

// DefaultRequestTimeout bounds a single backend send.
const DefaultRequestTimeout = 30 * time.Second

const usageRecordTimeout = 5 * time.Second

// RouteTable resolves an agent to its ordered candidate backends.
type RouteTable interface {
	RouteFor(agent string) []domain.BackendDescriptor
}

// PayloadBuilder converts a request into the wire payload for one backend.
type PayloadBuilder func(domain.BackendDescriptor, domain.GenerationRequest) domain.BackendPayload

// Deps holds the dispatcher's collaborators.
type Deps struct {
	Routes          RouteTable
	Backends        map[string]domain.Backend
	BuildPayload    PayloadBuilder
	FallbackOptions func(domain.GenerationRequest) domain.FallbackOptions // optional
	Health          domain.HealthChecker                                  // optional, nil = every candidate is tried
	Fallback        domain.FallbackProvider                               // optional, nil = no cloud fallback
	Usage           domain.UsageRecorder                                  // optional, nil = no accounting
	RequestTimeout  time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// Dispatcher tries an agent's candidates strictly in order, one at a time.
// It keeps no per-request state between calls and is safe for concurrent use.
type Dispatcher struct {
	deps Deps
}

// NewDispatcher validates deps and fills in defaults.
func NewDispatcher(deps Deps) (*Dispatcher, error) {
	if deps.Routes == nil {
		return nil, domain.NewDomainError("NewDispatcher", domain.ErrInvalidInput, "route table is required")
	}
	if deps.BuildPayload == nil {
		return nil, domain.NewDomainError("NewDispatcher", domain.ErrInvalidInput, "payload builder is required")
	}
	if deps.FallbackOptions == nil {
		deps.FallbackOptions = func(req domain.GenerationRequest) domain.FallbackOptions {
			return domain.FallbackOptions{Agent: req.AgentName}
		}
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = DefaultRequestTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Dispatcher{deps: deps}, nil
}

// HasFallback reports whether a cloud fallback is configured.
func (d *Dispatcher) HasFallback() bool { return d.deps.Fallback != nil }

// run is the state of one dispatch.
type run struct {
	id       string
	req      domain.GenerationRequest
	start    time.Time
	logger   *slog.Logger
	span     trace.Span
	attempts []domain.Attempt
}

func (d *Dispatcher) begin(ctx context.Context, op string, req domain.GenerationRequest) (context.Context, *run) {
	r := &run{
		id:    ulid.Make().String(),
		req:   req,
		start: d.deps.Now(),
	}
	ctx, r.span = tracer.StartSpan(ctx, op,
		trace.WithAttributes(
			tracer.StringAttr("request.id", r.id),
			tracer.StringAttr("agent", req.AgentName),
		),
	)
	r.logger = d.deps.Logger.With("request_id", r.id, "agent", req.AgentName)
	return domain.ContextWithRequestID(ctx, r.id), r
}

func validateRequest(op string, req domain.GenerationRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "empty prompt")
	}
	return nil
}

// Generate runs the failover state machine for req and returns the first
// successful reply, or a *DispatchError once the candidates and fallback are
// exhausted.
func (d *Dispatcher) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if err := validateRequest("Dispatcher.Generate", req); err != nil {
		return nil, err
	}
	ctx, r := d.begin(ctx, "dispatch.generate", req)
	defer r.span.End()

	for _, desc := range d.deps.Routes.RouteFor(req.AgentName) {
		b, ok := d.admit(ctx, r, desc)
		if !ok {
			continue
		}
		resp, err := d.send(ctx, r, desc, func(ctx context.Context, payload domain.BackendPayload) (*domain.BackendResponse, error) {
			return b.Generate(ctx, payload)
		})
		if err != nil {
			continue
		}
		res := d.backendResult(r, desc, resp, resp.Text)
		d.finish(ctx, r, res, nil)
		return res, nil
	}

	fb := d.deps.Fallback
	if fb == nil {
		return nil, d.fail(ctx, r, "", nil)
	}
	r.logger.Warn("all candidates failed, using fallback",
		"fallback", fb.Name(), "attempts", len(r.attempts))

	fctx, span := tracer.StartSpan(ctx, "dispatch.fallback",
		trace.WithAttributes(tracer.StringAttr("fallback.provider", fb.Name())))
	text, err := fb.Complete(fctx, req.Prompt, d.deps.FallbackOptions(req))
	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		return nil, d.fail(ctx, r, fb.Name(), err)
	}
	tracer.SetOK(span)
	span.End()

	res := d.fallbackResult(r, fb, text)
	d.finish(ctx, r, res, nil)
	return res, nil
}

// admit returns the client for desc when it may be called and records a
// skipped attempt otherwise. Unhealthy candidates are never retried within
// the same request.
func (d *Dispatcher) admit(ctx context.Context, r *run, desc domain.BackendDescriptor) (domain.Backend, bool) {
	b, ok := d.deps.Backends[desc.ID]
	if !ok {
		r.attempts = append(r.attempts, domain.Attempt{Backend: desc.ID, Skipped: true, Error: "no client configured"})
		r.logger.Warn("backend has no client, skipping", "backend", desc.ID)
		return nil, false
	}
	if d.deps.Health != nil && !d.deps.Health.IsHealthy(ctx, desc.ID) {
		r.attempts = append(r.attempts, domain.Attempt{Backend: desc.ID, Skipped: true, Error: domain.ErrBackendUnavailable.Error()})
		r.logger.Warn("backend unhealthy, skipping", "backend", desc.ID)
		return nil, false
	}
	return b, true
}

type sendFunc func(ctx context.Context, payload domain.BackendPayload) (*domain.BackendResponse, error)

// send performs one bounded attempt against desc and records its outcome.
func (d *Dispatcher) send(ctx context.Context, r *run, desc domain.BackendDescriptor, fn sendFunc) (*domain.BackendResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "dispatch.attempt",
		trace.WithAttributes(
			tracer.StringAttr("backend.id", desc.ID),
			tracer.IntAttr("attempt", len(r.attempts)+1),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, d.deps.RequestTimeout)
	defer cancel()

	start := d.deps.Now()
	resp, err := fn(ctx, d.deps.BuildPayload(desc, r.req))
	att := domain.Attempt{Backend: desc.ID, Duration: d.deps.Now().Sub(start)}
	if err != nil {
		att.Error = err.Error()
		r.attempts = append(r.attempts, att)
		tracer.RecordError(span, err)
		if _, rejected := asChunkRejected(err); !rejected {
			r.logger.Warn("backend request failed",
				"backend", desc.ID, "error", err, "duration", att.Duration)
		}
		return nil, err
	}
	r.attempts = append(r.attempts, att)
	tracer.SetOK(span)
	return resp, nil
}

func (d *Dispatcher) backendResult(r *run, desc domain.BackendDescriptor, resp *domain.BackendResponse, text string) *domain.GenerationResult {
	model := resp.Model
	if model == "" {
		model = desc.Model
	}
	return &domain.GenerationResult{
		RequestID:       r.id,
		Text:            text,
		BackendUsed:     desc.ID,
		Model:           model,
		TokensGenerated: resp.EvalCount,
		ProcessingTime:  d.deps.Now().Sub(r.start),
		Attempts:        r.attempts,
	}
}

func (d *Dispatcher) fallbackResult(r *run, fb domain.FallbackProvider, text string) *domain.GenerationResult {
	return &domain.GenerationResult{
		RequestID:      r.id,
		Text:           text,
		BackendUsed:    fallbackLabel(fb),
		Model:          fallbackModel(fb),
		ProcessingTime: d.deps.Now().Sub(r.start),
		UsedFallback:   true,
		Attempts:       r.attempts,
	}
}

func fallbackLabel(fb domain.FallbackProvider) string {
	return "fallback:" + fb.Name()
}

func fallbackModel(fb domain.FallbackProvider) string {
	if m, ok := fb.(interface{ Model() string }); ok {
		return fb.Name() + ":" + m.Model()
	}
	return fb.Name()
}

// fail builds the terminal error, records it, and closes out the run.
func (d *Dispatcher) fail(ctx context.Context, r *run, fallback string, fbErr error) error {
	err := &DispatchError{
		RequestID: r.id,
		Agent:     r.req.AgentName,
		Attempts:  r.attempts,
		Fallback:  fallback,
		Err:       fbErr,
	}
	r.logger.Error("dispatch failed", "error", err)
	d.finish(ctx, r, nil, err)
	return err
}

// finish annotates the dispatch span and reports usage. Recorder failures
// are logged and never reach the caller.
func (d *Dispatcher) finish(ctx context.Context, r *run, res *domain.GenerationResult, err error) {
	r.span.SetAttributes(tracer.IntAttr("dispatch.attempts", len(r.attempts)))
	if err != nil {
		tracer.RecordError(r.span, err)
	} else if res != nil {
		r.span.SetAttributes(
			tracer.StringAttr("dispatch.backend_used", res.BackendUsed),
			tracer.BoolAttr("dispatch.used_fallback", res.UsedFallback),
		)
		tracer.SetOK(r.span)
		r.logger.Info("dispatch completed",
			"backend", res.BackendUsed,
			"used_fallback", res.UsedFallback,
			"tokens", res.TokensGenerated,
			"duration", res.ProcessingTime)
	}

	if d.deps.Usage == nil {
		return
	}
	ev := domain.UsageEvent{
		At:             r.start,
		Agent:          r.req.AgentName,
		ProcessingTime: d.deps.Now().Sub(r.start),
		Failed:         err != nil,
	}
	if res != nil {
		ev.Backend = res.BackendUsed
		ev.Tokens = res.TokensGenerated
		ev.UsedFallback = res.UsedFallback
	}
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageRecordTimeout)
	defer cancel()
	if rerr := d.deps.Usage.Record(uctx, ev); rerr != nil {
		r.logger.Warn("usage record failed", "error", rerr)
	}
}
