package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/domain/message"
	"github.com/relaygate/relaygate/internal/domain/routing"
	"github.com/relaygate/relaygate/internal/domain/tool"
)

// Recorder receives dispatch telemetry. Satisfied by metrics.Collector; a
// nil recorder is replaced with a no-op.
type Recorder interface {
	RecordAttempt(provider string, success bool, elapsed time.Duration)
	RecordFallback(reason string, success bool)
	RecordTokens(provider string, inputTokens, outputTokens int, local bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(string, bool, time.Duration) {}
func (nopRecorder) RecordFallback(string, bool)               {}
func (nopRecorder) RecordTokens(string, int, int, bool)       {}

// DispatcherConfig tunes the dispatch pipeline.
type DispatcherConfig struct {
	Retry   RetryPolicy
	Breaker BreakerConfig

	// FallbackProvider receives one full re-dispatch when the primary is a
	// local provider and fails with a fallback-eligible error.
	FallbackEnabled  bool
	FallbackProvider string

	// InjectLocalTools allows catalog injection for local providers.
	InjectLocalTools bool

	// Selection tunes smart tool selection for injected catalogs.
	Selection tool.SelectionConfig
}

// Result is a completed dispatch: exactly one of Response or Stream is set.
// Decision reflects the provider that actually served the request, including
// any fallback diversion.
type Result struct {
	Response *message.Response
	Stream   *StreamHandle
	Decision routing.Decision
}

// Dispatcher owns the full request lifecycle against upstream providers:
// breaker admission, tool injection, translation (inside the provider),
// bounded retries, and the single-hop local-to-cloud fallback.
type Dispatcher struct {
	cfg         DispatcherConfig
	descriptors map[string]Descriptor
	pool        *ClientPool
	breakers    *BreakerRegistry
	recorder    Recorder
	logger      *zap.Logger

	mu        sync.Mutex
	providers map[string]Provider // keyed by identifier + "\x00" + model
}

// NewDispatcher builds a dispatcher over the configured provider
// descriptors. Provider instances are created lazily because tier routing
// can request model overrides the descriptors do not list.
func NewDispatcher(cfg DispatcherConfig, descriptors map[string]Descriptor, pool *ClientPool, recorder Recorder, logger *zap.Logger) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:         cfg,
		descriptors: descriptors,
		pool:        pool,
		breakers:    NewBreakerRegistry(cfg.Breaker),
		recorder:    recorder,
		logger:      logger,
		providers:   make(map[string]Provider),
	}
}

// Breakers exposes the breaker registry for the readiness endpoint.
func (d *Dispatcher) Breakers() *BreakerRegistry { return d.breakers }

// providerFor resolves a provider instance, overriding the descriptor's
// model when the routing decision carries one (tier targets).
func (d *Dispatcher) providerFor(identifier, model string) (Provider, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := identifier + "\x00" + model
	if p, ok := d.providers[key]; ok {
		return p, nil
	}

	desc, ok := d.descriptors[identifier]
	if !ok {
		return nil, NewError(ErrKindConfig, identifier, "provider not configured")
	}
	if model != "" {
		desc.Model = model
	}
	p, err := NewProvider(desc, d.pool, d.logger)
	if err != nil {
		return nil, WrapError(ErrKindConfig, identifier, err)
	}
	d.providers[key] = p
	return p, nil
}

// Dispatch runs one request end to end. The routing decision names the
// primary provider; classification feeds smart tool selection when the
// catalog is injected.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request, decision routing.Decision, classification string) (*Result, error) {
	machine := NewDispatchMachine(decision.Provider)

	res, err := d.attempt(ctx, req, decision, classification, machine, false)
	if err == nil {
		return res, nil
	}

	kind := Classify(err, decision.Provider).Kind
	if !d.shouldFallback(decision.Provider, kind) {
		_ = machine.Transition(StateFailed)
		return nil, err
	}

	reason := fallbackReason(kind)
	fb := decision
	fb.Provider = d.cfg.FallbackProvider
	fb.Model = "" // fallback uses the provider's configured model
	fb.Method = routing.MethodFallback
	fb.FallbackReason = reason

	d.logger.Warn("Diverting to fallback provider",
		zap.String("primary", decision.Provider),
		zap.String("fallback", fb.Provider),
		zap.String("reason", reason),
		zap.Error(err),
	)

	_ = machine.Transition(StateFallbackTranslating)
	res, fbErr := d.attempt(ctx, req, fb, classification, machine, true)
	d.recorder.RecordFallback(reason, fbErr == nil)
	if fbErr != nil {
		_ = machine.Transition(StateFailed)
		return nil, fbErr
	}
	return res, nil
}

// attempt runs the full pipeline against one provider: breaker admission,
// tool injection, then either the retry loop (batch) or a single streaming
// call.
func (d *Dispatcher) attempt(ctx context.Context, req *message.Request, decision routing.Decision, classification string, machine *DispatchMachine, isFallback bool) (*Result, error) {
	identifier := decision.Provider
	breaker := d.breakers.Get(identifier)
	if !breaker.Allow() {
		return nil, NewError(ErrKindCircuitOpen, identifier, "circuit breaker is open")
	}

	prov, perr := d.providerFor(identifier, decision.Model)
	if perr != nil {
		return nil, perr
	}

	prepared := d.prepare(req, identifier, classification)

	if !isFallback {
		_ = machine.Transition(StateTranslating)
		_ = machine.Transition(StateAwaiting)
	} else {
		_ = machine.Transition(StateFallbackAwaiting)
	}

	if prepared.Stream {
		return d.streamOnce(ctx, prov, prepared, decision, machine)
	}
	return d.completeWithRetry(ctx, prov, prepared, decision, machine)
}

// localToolCap is the hard ceiling on injected tools for local providers.
// Ollama degrades badly past eight tool declarations.
const localToolCap = 8

// selectionFor returns the selection config for one provider, clamping the
// tool cap for local providers regardless of what was configured.
func (d *Dispatcher) selectionFor(identifier string) tool.SelectionConfig {
	sel := d.cfg.Selection
	if IsLocal(identifier) && (sel.MaxTools == 0 || sel.MaxTools > localToolCap) {
		sel.MaxTools = localToolCap
	}
	return sel
}

// prepare copies the request and injects the tool catalog when the request
// carries none and injection is allowed for this provider.
func (d *Dispatcher) prepare(req *message.Request, identifier, classification string) *message.Request {
	out := *req
	if tool.ShouldInject(req.Tools, IsLocal(identifier), d.cfg.InjectLocalTools) {
		selected := tool.Select(classification, tool.Catalog(), d.selectionFor(identifier))
		out.Tools = selected
		d.logger.Debug("Injected tool catalog",
			zap.String("provider", identifier),
			zap.String("classification", classification),
			zap.Int("tools", len(selected)),
		)
	}
	return &out
}

// completeWithRetry runs the non-streaming path under the retry policy.
// Every attempt is recorded against the breaker and metrics.
func (d *Dispatcher) completeWithRetry(ctx context.Context, prov Provider, req *message.Request, decision routing.Decision, machine *DispatchMachine) (*Result, error) {
	identifier := decision.Provider
	breaker := d.breakers.Get(identifier)

	var resp *message.Response
	err := d.cfg.Retry.Do(ctx, identifier, d.logger, func() error {
		if !breaker.Allow() {
			return NewError(ErrKindCircuitOpen, identifier, "circuit breaker opened mid-retry")
		}

		start := time.Now()
		r, callErr := prov.Complete(ctx, req)
		d.recorder.RecordAttempt(identifier, callErr == nil, time.Since(start))
		if callErr != nil {
			if Classify(callErr, identifier).Kind.CountsForBreaker() {
				breaker.RecordFailure()
			}
			return callErr
		}
		breaker.RecordSuccess()
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = machine.Transition(StateTranslatingBack)
	_ = machine.Transition(StateDone)

	d.recorder.RecordTokens(identifier, resp.Usage.InputTokens, resp.Usage.OutputTokens, IsLocal(identifier))
	return &Result{Response: resp, Decision: decision}, nil
}

// streamOnce runs the streaming path: one attempt, never retried. The raw
// handle goes back untranslated.
func (d *Dispatcher) streamOnce(ctx context.Context, prov Provider, req *message.Request, decision routing.Decision, machine *DispatchMachine) (*Result, error) {
	identifier := decision.Provider
	if !prov.SupportsStreaming() {
		return nil, NewError(ErrKindInvalidRequest, identifier, "provider does not support streaming")
	}

	breaker := d.breakers.Get(identifier)
	start := time.Now()
	handle, err := prov.Stream(ctx, req)
	d.recorder.RecordAttempt(identifier, err == nil, time.Since(start))
	if err != nil {
		if Classify(err, identifier).Kind.CountsForBreaker() {
			breaker.RecordFailure()
		}
		return nil, err
	}
	breaker.RecordSuccess()

	_ = machine.Transition(StateDone)
	return &Result{Stream: handle, Decision: decision}, nil
}

// shouldFallback gates the single-hop diversion: fallback must be
// configured, the primary must be local, and the failure kind eligible.
func (d *Dispatcher) shouldFallback(primary string, kind ErrorKind) bool {
	if !d.cfg.FallbackEnabled || d.cfg.FallbackProvider == "" {
		return false
	}
	if d.cfg.FallbackProvider == primary {
		return false
	}
	if !IsLocal(primary) {
		return false
	}
	return kind.FallbackEligible()
}

// fallbackReason labels the diversion for metrics and the decision record.
func fallbackReason(kind ErrorKind) string {
	if kind == ErrKindCircuitOpen {
		return "circuit_breaker"
	}
	return kind.String()
}
