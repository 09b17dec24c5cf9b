package llm

import (
	"net"
	"net/http"
	"time"

	"modelgate/internal/infra/config"
)

// defaultPool suits a handful of local hosts with modest concurrency.
var defaultPool = config.PoolConfig{
	MaxIdleConns:        20,
	MaxIdleConnsPerHost: 4,
	MaxConnsPerHost:     16,
	IdleConnTimeout:     90 * time.Second,
	ConnTimeout:         5 * time.Second,
}

func orDefault[T int | uint32 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// resolvePool fills zero or negative fields of p from defaultPool.
func resolvePool(p config.PoolConfig) config.PoolConfig {
	return config.PoolConfig{
		MaxIdleConns:        orDefault(p.MaxIdleConns, defaultPool.MaxIdleConns),
		MaxIdleConnsPerHost: orDefault(p.MaxIdleConnsPerHost, defaultPool.MaxIdleConnsPerHost),
		MaxConnsPerHost:     orDefault(p.MaxConnsPerHost, defaultPool.MaxConnsPerHost),
		IdleConnTimeout:     orDefault(p.IdleConnTimeout, defaultPool.IdleConnTimeout),
		ConnTimeout:         orDefault(p.ConnTimeout, defaultPool.ConnTimeout),
	}
}

// NewPooledTransport returns a keep-alive transport shared by every backend
// client.
func NewPooledTransport(pool config.PoolConfig) *http.Transport {
	p := resolvePool(pool)
	dialer := &net.Dialer{Timeout: p.ConnTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        p.MaxIdleConns,
		MaxIdleConnsPerHost: p.MaxIdleConnsPerHost,
		MaxConnsPerHost:     p.MaxConnsPerHost,
		IdleConnTimeout:     p.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// NewHTTPClient returns a client on a pooled transport with no overall
// timeout. Streams are bounded per call by context.
func NewHTTPClient(pool config.PoolConfig) *http.Client {
	return &http.Client{Transport: NewPooledTransport(pool)}
}
