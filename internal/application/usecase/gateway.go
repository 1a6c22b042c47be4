// Package usecase orchestrates the per-request pipeline: analyze, route,
// enrich with memory, dispatch, capture.
package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/domain/message"
	"github.com/relaygate/relaygate/internal/domain/routing"
	"github.com/relaygate/relaygate/internal/infrastructure/llm"
	"github.com/relaygate/relaygate/internal/infrastructure/memory"
	"github.com/relaygate/relaygate/pkg/safego"
)

// memoryRecallLimit bounds how many stored memories are folded into the
// system prompt per request.
const memoryRecallLimit = 5

// Pipeline is the reloadable part of the gateway: everything derived from
// configuration. Config hot-reload builds a fresh pipeline and swaps it in;
// in-flight requests finish on the one they started with.
type Pipeline struct {
	Analyzer   *routing.Analyzer
	Router     *routing.Router
	Dispatcher *llm.Dispatcher
}

// Gateway runs one request through the full pipeline. Safe for concurrent
// use; Swap may run concurrently with Handle.
type Gateway struct {
	mu       sync.RWMutex
	pipeline Pipeline

	memory *memory.Store // nil when memory is disabled
	logger *zap.Logger
}

// NewGateway assembles the gateway. store may be nil.
func NewGateway(p Pipeline, store *memory.Store, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{pipeline: p, memory: store, logger: logger}
}

// Swap replaces the pipeline. Used by config hot-reload.
func (g *Gateway) Swap(p Pipeline) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pipeline = p
}

func (g *Gateway) current() Pipeline {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pipeline
}

// HealthChecks reports the current dispatcher's breaker states plus the
// memory store's connectivity for the readiness probe.
func (g *Gateway) HealthChecks() map[string]string {
	checks := g.current().Dispatcher.Breakers().States()

	switch {
	case g.memory == nil:
		checks["memory"] = "disabled"
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.memory.Ping(ctx); err != nil {
			checks["memory"] = "error"
		} else {
			checks["memory"] = "ok"
		}
	}
	return checks
}

// Handle processes one canonical request end to end. The returned result
// carries either a batch response or a stream handle, plus the routing
// decision that served it.
func (g *Gateway) Handle(ctx context.Context, req *message.Request) (*llm.Result, error) {
	p := g.current()

	req.Messages = message.Normalize(req.Messages)
	if len(req.Messages) == 0 {
		return nil, llm.NewError(llm.ErrKindInvalidRequest, "", "messages must not be empty")
	}

	analysis := p.Analyzer.Analyze(ctx, req)
	decision := p.Router.Route(analysis)

	g.logger.Debug("Routing decision",
		zap.String("provider", decision.Provider),
		zap.String("method", string(decision.Method)),
		zap.Int("score", decision.Score),
		zap.String("classification", analysis.Classification),
	)

	sessionID := sessionIDOf(req)
	g.injectMemories(ctx, req, sessionID)

	result, err := p.Dispatcher.Dispatch(ctx, req, decision, analysis.Classification)
	if err != nil {
		return nil, err
	}

	if g.memory != nil && result.Response != nil {
		g.captureAsync(sessionID, result.Response)
	}
	return result, nil
}

// injectMemories folds stored context into the system prompt. Recall is
// best-effort; an empty result leaves the request untouched.
func (g *Gateway) injectMemories(ctx context.Context, req *message.Request, sessionID *string) {
	if g.memory == nil {
		return
	}
	query := message.LastUserText(req.Messages)
	if query == "" {
		return
	}

	records := g.memory.Search(ctx, query, memory.Filters{
		SessionID: sessionID,
		Limit:     memoryRecallLimit,
	})
	if len(records) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("Relevant context from prior sessions:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "- [%s] %s\n", r.Type, r.Content)
	}

	if req.System != "" {
		req.System += "\n\n" + b.String()
	} else {
		req.System = b.String()
	}
	g.logger.Debug("Injected memories", zap.Int("count", len(records)))
}

// captureAsync extracts memories from the assistant's reply off the request
// path. The HTTP response never waits on memory writes.
func (g *Gateway) captureAsync(sessionID *string, resp *message.Response) {
	text := responseText(resp)
	if text == "" {
		return
	}
	turnID := uuid.NewString()

	safego.Go(g.logger, "memory-capture", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n := g.memory.Capture(ctx, sessionID, turnID, text)
		if n > 0 {
			g.logger.Debug("Captured memories", zap.Int("count", n))
		}
	})
}

// sessionIDOf pulls the caller's session identifier from request metadata.
func sessionIDOf(req *message.Request) *string {
	if req.Metadata == nil {
		return nil
	}
	for _, key := range []string{"session_id", "user_id"} {
		if v, ok := req.Metadata[key].(string); ok && v != "" {
			return &v
		}
	}
	return nil
}

// responseText flattens the assistant's text blocks for memory extraction.
func responseText(resp *message.Response) string {
	var parts []string
	for _, block := range resp.Content {
		if block.Type == message.BlockText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
