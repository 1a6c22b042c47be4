// Package metrics tracks dispatch outcomes: per-provider attempt counters
// and latency histograms, fallback accounting by reason, token totals, and
// an estimated-cost-savings counter for traffic that landed on a local
// provider. Everything is registered on a private prometheus registry and
// mirrored in an internal snapshot for health checks and tests.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config tunes the cost model.
type Config struct {
	// CloudRatePerMTok is the $/1M-token rate charged as "saved" when a
	// request lands on a local provider instead of the cloud.
	CloudRatePerMTok float64
}

// DefaultCloudRatePerMTok approximates a mid-tier cloud model's blended
// price.
const DefaultCloudRatePerMTok = 5.0

// Collector is the process-lifetime metrics sink.
type Collector struct {
	cfg      Config
	registry *prometheus.Registry

	attempts  *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	tokens    *prometheus.CounterVec
	savings   prometheus.Counter
	latency   *prometheus.HistogramVec

	mu   sync.Mutex
	snap Snapshot
}

// Snapshot is a read-only copy of the counters, keyed by provider.
type Snapshot struct {
	Providers       map[string]ProviderStats `json:"providers"`
	Fallback        FallbackStats            `json:"fallback"`
	TokensIn        int64                    `json:"tokens_in"`
	TokensOut       int64                    `json:"tokens_out"`
	EstimatedSaved  float64                  `json:"estimated_saved_usd"`
	TotalRequests   int64                    `json:"total_requests"`
	TotalSuccesses  int64                    `json:"total_successes"`
}

// ProviderStats is one provider's attempt accounting.
type ProviderStats struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// FallbackStats tracks dispatcher-level fallbacks by reason.
type FallbackStats struct {
	Attempts  int64            `json:"attempts"`
	Successes int64            `json:"successes"`
	Failures  int64            `json:"failures"`
	ByReason  map[string]int64 `json:"by_reason"`
}

// NewCollector builds the collector and registers its series.
func NewCollector(cfg Config) *Collector {
	if cfg.CloudRatePerMTok <= 0 {
		cfg.CloudRatePerMTok = DefaultCloudRatePerMTok
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		cfg:      cfg,
		registry: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_provider_attempts_total",
			Help: "Upstream attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_fallback_total",
			Help: "Dispatcher fallbacks by reason and outcome.",
		}, []string{"reason", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaygate_tokens_total",
			Help: "Tokens processed by provider and direction.",
		}, []string{"provider", "direction"}),
		savings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaygate_estimated_savings_usd_total",
			Help: "Estimated cost avoided by serving requests locally.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaygate_provider_latency_seconds",
			Help:    "Upstream call latency by provider.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),
		snap: Snapshot{
			Providers: make(map[string]ProviderStats),
			Fallback:  FallbackStats{ByReason: make(map[string]int64)},
		},
	}

	registry.MustRegister(c.attempts, c.fallbacks, c.tokens, c.savings, c.latency)
	return c
}

// RecordAttempt counts one upstream attempt and its latency.
func (c *Collector) RecordAttempt(provider string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.attempts.WithLabelValues(provider, outcome).Inc()
	c.latency.WithLabelValues(provider).Observe(elapsed.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.snap.Providers[provider]
	stats.Attempts++
	c.snap.TotalRequests++
	if success {
		stats.Successes++
		c.snap.TotalSuccesses++
	} else {
		stats.Failures++
	}
	c.snap.Providers[provider] = stats
}

// RecordFallback counts one dispatcher-level fallback.
func (c *Collector) RecordFallback(reason string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.fallbacks.WithLabelValues(reason, outcome).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Fallback.Attempts++
	if success {
		c.snap.Fallback.Successes++
	} else {
		c.snap.Fallback.Failures++
	}
	c.snap.Fallback.ByReason[reason]++
}

// RecordTokens counts token usage. Local traffic also accrues estimated
// savings at the configured cloud rate.
func (c *Collector) RecordTokens(provider string, inputTokens, outputTokens int, local bool) {
	c.tokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	c.tokens.WithLabelValues(provider, "output").Add(float64(outputTokens))

	saved := 0.0
	if local {
		saved = float64(inputTokens+outputTokens) / 1_000_000 * c.cfg.CloudRatePerMTok
		c.savings.Add(saved)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.TokensIn += int64(inputTokens)
	c.snap.TokensOut += int64(outputTokens)
	c.snap.EstimatedSaved += saved
}

// Snapshot returns a deep copy of the internal counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.snap
	out.Providers = make(map[string]ProviderStats, len(c.snap.Providers))
	for k, v := range c.snap.Providers {
		out.Providers[k] = v
	}
	out.Fallback.ByReason = make(map[string]int64, len(c.snap.Fallback.ByReason))
	for k, v := range c.snap.Fallback.ByReason {
		out.Fallback.ByReason[k] = v
	}
	return out
}

// Handler serves the prometheus exposition endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
