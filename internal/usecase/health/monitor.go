// Package health tracks backend liveness behind a TTL cache.
package health

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"modelgate/internal/domain"
	"modelgate/internal/infra/config"
	"modelgate/internal/infra/tracer"
)

// Catalog lists the registered backends.
type Catalog interface {
	Backends() []domain.BackendDescriptor
}

const (
	defaultInterval     = 60 * time.Second
	defaultProbeTimeout = 5 * time.Second
	defaultConcurrency  = 4
)

var _ domain.HealthChecker = (*Monitor)(nil)

// Monitor answers "is this backend usable" from a TTL cache and probes on
// a miss. Concurrent misses for one backend share a single probe.
type Monitor struct {
	catalog      Catalog
	backends     map[string]domain.Backend
	cache        *Cache
	group        singleflight.Group
	interval     time.Duration
	probeTimeout time.Duration
	concurrency  int
	now          func() time.Time
	logger       *slog.Logger
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor over the backends in catalog. backends maps
// each id to its client; ids without a client are always unhealthy.
func NewMonitor(catalog Catalog, backends map[string]domain.Backend, cfg config.HealthConfig, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		catalog:      catalog,
		backends:     backends,
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
		concurrency:  cfg.Concurrency,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interval <= 0 {
		m.interval = defaultInterval
	}
	if m.probeTimeout <= 0 {
		m.probeTimeout = defaultProbeTimeout
	}
	if m.concurrency <= 0 {
		m.concurrency = defaultConcurrency
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.cache = NewCache(m.interval, m.now)
	return m
}

// Interval returns the freshness window of a health record.
func (m *Monitor) Interval() time.Duration { return m.interval }

// IsHealthy reports whether id is usable. A fresh cached record is returned
// without probing; otherwise the backend is probed and the record replaced.
// It never fails: probe errors and unknown ids read as unhealthy.
func (m *Monitor) IsHealthy(ctx context.Context, id string) bool {
	if _, ok := m.backends[id]; !ok {
		return false
	}
	if rec, ok := m.cache.Fresh(id); ok {
		return rec.Healthy
	}
	return m.probe(ctx, id).Healthy
}

// Check probes id now, bypassing the cache, and returns the new record.
func (m *Monitor) Check(ctx context.Context, id string) domain.HealthRecord {
	if _, ok := m.backends[id]; !ok {
		return domain.HealthRecord{CheckedAt: m.now(), Error: domain.ErrBackendNotFound.Error()}
	}
	return m.probe(ctx, id)
}

// probe runs or joins the in-flight probe for id. The probe itself is
// detached from the caller's cancellation and bounded by probeTimeout, so a
// caller that gives up early gets false while the real result is still
// cached for everyone else.
func (m *Monitor) probe(ctx context.Context, id string) domain.HealthRecord {
	ch := m.group.DoChan(id, func() (any, error) {
		return m.runProbe(context.WithoutCancel(ctx), id), nil
	})
	select {
	case res := <-ch:
		return res.Val.(domain.HealthRecord)
	case <-ctx.Done():
		return domain.HealthRecord{CheckedAt: m.now(), Error: ctx.Err().Error()}
	}
}

func (m *Monitor) runProbe(ctx context.Context, id string) domain.HealthRecord {
	ctx, span := tracer.StartSpan(ctx, "health.probe")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("backend.id", id))

	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	err := m.backends[id].Probe(ctx)
	rec := domain.HealthRecord{
		Healthy:   err == nil,
		CheckedAt: m.now(),
		Latency:   time.Since(start),
	}
	if err != nil {
		rec.Error = err.Error()
		tracer.RecordError(span, err)
		m.logger.Debug("backend probe failed", "backend", id, "error", err, "latency", rec.Latency)
	} else {
		tracer.SetOK(span)
	}

	if prev, ok := m.cache.Get(id); ok && prev.Healthy != rec.Healthy {
		m.logger.Info("backend health changed", "backend", id, "healthy", rec.Healthy)
	}
	m.cache.Set(id, rec)
	return rec
}

// Sweep probes every registered backend with bounded concurrency, then drops
// records for backends that are gone or older than twice the interval.
func (m *Monitor) Sweep(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(m.concurrency)

	var probed, healthy atomic.Int32
	for _, d := range m.catalog.Backends() {
		if _, ok := m.backends[d.ID]; !ok {
			continue
		}
		id := d.ID
		g.Go(func() error {
			probed.Add(1)
			if m.probe(ctx, id).Healthy {
				healthy.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	dropped := m.cache.Retain(func(id string) bool {
		_, ok := m.backends[id]
		return ok
	})
	dropped += m.cache.EvictExpired(2 * m.interval)

	m.logger.Debug("health sweep finished", "probed", probed.Load(), "healthy", healthy.Load(), "evicted", dropped)
	return ctx.Err()
}

// Snapshot reports the cached state of every registered backend without
// probing. Backends never checked read as unhealthy with no LastChecked.
func (m *Monitor) Snapshot() map[string]domain.BackendStatus {
	out := make(map[string]domain.BackendStatus)
	for _, d := range m.catalog.Backends() {
		st := domain.BackendStatus{
			Endpoint:     d.Endpoint,
			Model:        d.Model,
			Capabilities: d.Capabilities,
		}
		if rec, ok := m.cache.Get(d.ID); ok {
			checked := rec.CheckedAt
			st.Healthy = rec.Healthy
			st.LastChecked = &checked
			st.Error = rec.Error
		}
		out[d.ID] = st
	}
	return out
}

// AnyHealthy reports whether the cache holds at least one healthy record.
func (m *Monitor) AnyHealthy() bool {
	for _, st := range m.Snapshot() {
		if st.Healthy {
			return true
		}
	}
	return false
}
