// Package tinyfish implements the browser-automation family. A request
// carries a target URL and a natural-language goal; the upstream streams
// progress as SSE and finishes with a COMPLETE event whose resultJson
// payload becomes the canonical response text.
package tinyfish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relaygate/relaygate/internal/domain/message"
	llm "github.com/relaygate/relaygate/internal/infrastructure/llm"
	"go.uber.org/zap"
)

func init() {
	llm.RegisterFactory(llm.FamilyTinyFishSSE, func(desc llm.Descriptor, pool *llm.ClientPool, logger *zap.Logger) llm.Provider {
		return New(desc, pool, logger)
	})
}

// Request is the agent invocation body.
type Request struct {
	URL            string `json:"url"`
	Goal           string `json:"goal"`
	BrowserProfile string `json:"browserProfile"`
	Proxy          string `json:"proxy,omitempty"`
}

// completeEvent is the payload of the terminal COMPLETE event.
type completeEvent struct {
	Status     string          `json:"status"`
	ResultJSON json.RawMessage `json:"resultJson"`
	Message    string          `json:"message"`
}

// Provider runs browser-automation goals against a TinyFish agent endpoint.
type Provider struct {
	desc   llm.Descriptor
	pool   *llm.ClientPool
	logger *zap.Logger
}

// New creates a TinyFish provider.
func New(desc llm.Descriptor, pool *llm.ClientPool, logger *zap.Logger) *Provider {
	return &Provider{
		desc:   desc,
		pool:   pool,
		logger: logger.With(zap.String("provider", desc.Identifier), zap.String("family", string(desc.Family))),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Descriptor() llm.Descriptor { return p.desc }

// SupportsStreaming: the SSE stream is consumed internally; callers always
// receive a batch response.
func (p *Provider) SupportsStreaming() bool { return false }

// buildRequest maps a canonical request onto an agent invocation. The goal
// is the last user message's text; the target URL and optional proxy ride
// in request metadata.
func (p *Provider) buildRequest(req *message.Request) (*Request, *llm.Error) {
	goal := message.LastUserText(req.Messages)
	if goal == "" {
		return nil, llm.NewError(llm.ErrKindInvalidRequest, p.desc.Identifier, "request carries no goal text")
	}

	out := &Request{Goal: goal, BrowserProfile: "default"}
	if v, ok := req.Metadata["url"].(string); ok {
		out.URL = v
	}
	if v, ok := req.Metadata["browser_profile"].(string); ok && v != "" {
		out.BrowserProfile = v
	}
	if v, ok := req.Metadata["proxy"].(string); ok {
		out.Proxy = v
	}
	if out.URL == "" {
		return nil, llm.NewError(llm.ErrKindInvalidRequest, p.desc.Identifier, "metadata.url is required for browser automation")
	}
	return out, nil
}

// Complete implements llm.Provider: POST the goal, drain the SSE stream,
// and surface the COMPLETE event's result as a single text block.
func (p *Provider) Complete(ctx context.Context, req *message.Request) (*message.Response, error) {
	if p.desc.BaseURL == "" {
		return nil, llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "endpoint URL not configured")
	}
	if p.desc.APIKey == "" {
		return nil, llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "API key not configured")
	}

	agentReq, aerr := p.buildRequest(req)
	if aerr != nil {
		return nil, aerr
	}

	body, err := json.Marshal(agentReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.desc.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", p.desc.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	// Agent runs outlive the batch deadline; use the long-lived client.
	resp, err := p.pool.Stream().Do(httpReq)
	if err != nil {
		return nil, llm.Classify(err, p.desc.Identifier)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, llm.FromStatus(p.desc.Identifier, resp.StatusCode, string(respBody))
	}

	result, err := p.drainEvents(resp.Body)
	if err != nil {
		return nil, err
	}

	blocks := []message.ContentBlock{message.TextBlock(result)}
	return message.NewResponse(req.Model, blocks, message.StopEndTurn, message.Usage{}), nil
}

// drainEvents consumes the SSE stream until the terminal COMPLETE event.
// Reads can split events anywhere, so undecoded bytes carry over between
// chunks.
func (p *Provider) drainEvents(body io.Reader) (string, error) {
	var carry []byte
	buf := make([]byte, 4096)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			carry = append(carry, buf[:n]...)
			for {
				event, data, rest, ok := nextEvent(carry)
				if !ok {
					break
				}
				carry = rest
				if !strings.EqualFold(event, "COMPLETE") {
					p.logger.Debug("Agent progress event", zap.String("event", event))
					continue
				}
				return p.finishEvent(data)
			}
		}
		if readErr == io.EOF {
			return "", llm.NewError(llm.ErrKindServerError, p.desc.Identifier, "stream ended without a COMPLETE event")
		}
		if readErr != nil {
			return "", llm.Classify(readErr, p.desc.Identifier)
		}
	}
}

// finishEvent validates the terminal payload.
func (p *Provider) finishEvent(data string) (string, error) {
	var done completeEvent
	if err := json.Unmarshal([]byte(data), &done); err != nil {
		return "", llm.WrapError(llm.ErrKindServerError, p.desc.Identifier, err)
	}
	switch strings.ToUpper(done.Status) {
	case "COMPLETED", "SUCCESS":
		return string(done.ResultJSON), nil
	default:
		msg := done.Message
		if msg == "" {
			msg = "agent run finished with status " + done.Status
		}
		return "", llm.NewError(llm.ErrKindServerError, p.desc.Identifier, msg)
	}
}

// nextEvent extracts one complete SSE event (terminated by a blank line)
// from the front of raw. Returns ok=false when no full event is buffered.
func nextEvent(raw []byte) (event, data string, rest []byte, ok bool) {
	idx := bytes.Index(raw, []byte("\n\n"))
	if idx < 0 {
		return "", "", raw, false
	}
	block := raw[:idx]
	rest = raw[idx+2:]

	var dataLines []string
	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return event, strings.Join(dataLines, "\n"), rest, true
}

// Stream is unsupported: agent progress events are not chat deltas.
func (p *Provider) Stream(ctx context.Context, req *message.Request) (*llm.StreamHandle, error) {
	return nil, llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "streaming not supported for this family")
}
