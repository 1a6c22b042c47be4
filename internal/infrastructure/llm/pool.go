package llm

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// PoolConfig tunes the shared HTTP clients.
type PoolConfig struct {
	MaxSockets     int           // per-host connection bound (default 50)
	IdleKeepAlive  time.Duration // idle connection lifetime (default 30s)
	RequestTimeout time.Duration // non-streaming request wall clock (default 60s)
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxSockets <= 0 {
		c.MaxSockets = 50
	}
	if c.IdleKeepAlive <= 0 {
		c.IdleKeepAlive = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// ClientPool owns the process-wide keep-alive HTTP clients. One client
// serves batch requests with a full-request timeout; a separate client
// serves SSE endpoints with no body-read timeout, since streams may be
// long-lived; those are bounded by context deadlines instead.
type ClientPool struct {
	batch  *http.Client
	stream *http.Client
}

// NewClientPool builds the shared clients.
func NewClientPool(cfg PoolConfig) *ClientPool {
	cfg = cfg.withDefaults()

	transport := func() *http.Transport {
		return &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: cfg.IdleKeepAlive,
			}).DialContext,
			TLSHandshakeTimeout: 15 * time.Second,
			IdleConnTimeout:     cfg.IdleKeepAlive,
			MaxIdleConns:        cfg.MaxSockets,
			MaxIdleConnsPerHost: cfg.MaxSockets,
			MaxConnsPerHost:     cfg.MaxSockets,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	batchTransport := transport()
	batchTransport.ResponseHeaderTimeout = cfg.RequestTimeout

	return &ClientPool{
		batch: &http.Client{
			Transport: batchTransport,
			Timeout:   cfg.RequestTimeout,
		},
		stream: &http.Client{
			Transport: transport(),
			// No Timeout: SSE bodies stay open; the per-dispatch context
			// deadline is the only wall clock.
		},
	}
}

// Batch returns the client for non-streaming requests.
func (p *ClientPool) Batch() *http.Client { return p.batch }

// Stream returns the client for SSE requests.
func (p *ClientPool) Stream() *http.Client { return p.stream }

// Close tears down idle connections on both clients.
func (p *ClientPool) Close() {
	if t, ok := p.batch.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	if t, ok := p.stream.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
