// Package anthropic implements the passthrough family: the upstream speaks
// the gateway's canonical wire format, so translation reduces to identity
// plus response hygiene (model echo, never-empty content).
package anthropic

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

// anthropicVersion is the API version header the upstream requires.
const anthropicVersion = "2023-06-01"

func init() {
	llm.RegisterFactory(llm.FamilyAnthropicNative, func(desc llm.Descriptor, pool *llm.ClientPool, logger *zap.Logger) llm.Provider {
		return New(desc, pool, logger)
	})
}

// Provider dispatches to an Anthropic-native endpoint (including Azure
// Anthropic deployments). The endpoint path comes from configuration.
type Provider struct {
	desc   llm.Descriptor
	pool   *llm.ClientPool
	logger *zap.Logger
}

// New creates an Anthropic-native provider.
func New(desc llm.Descriptor, pool *llm.ClientPool, logger *zap.Logger) *Provider {
	desc.BaseURL = strings.TrimRight(desc.BaseURL, "/")
	return &Provider{
		desc:   desc,
		pool:   pool,
		logger: logger.With(zap.String("provider", desc.Identifier), zap.String("family", string(desc.Family))),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Descriptor() llm.Descriptor { return p.desc }

// SupportsStreaming: the upstream emits canonical SSE frames, which the
// passthrough path forwards untouched.
func (p *Provider) SupportsStreaming() bool { return true }

// endpointURL returns the configured path, defaulting to /v1/messages when
// the base URL names only a host.
func (p *Provider) endpointURL() string {
	if strings.Contains(p.desc.BaseURL, "/messages") {
		return p.desc.BaseURL
	}
	return p.desc.BaseURL + "/v1/messages"
}

func (p *Provider) validate() *llm.Error {
	if p.desc.BaseURL == "" {
		return llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "endpoint URL not configured")
	}
	if p.desc.APIKey == "" {
		return llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "API key not configured")
	}
	return nil
}

func (p *Provider) buildBody(req *message.Request, stream bool) ([]byte, error) {
	wire := *req
	if p.desc.Model != "" {
		wire.Model = p.desc.Model
	}
	if wire.MaxTokens == 0 {
		// The native API requires max_tokens.
		wire.MaxTokens = 4096
	}
	wire.Stream = stream
	return json.Marshal(&wire)
}

func (p *Provider) headers(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.desc.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *message.Request) (*message.Response, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpointURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.headers(httpReq)

	resp, err := p.pool.Batch().Do(httpReq)
	if err != nil {
		return nil, llm.Classify(err, p.desc.Identifier)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.Classify(err, p.desc.Identifier)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.FromStatus(p.desc.Identifier, resp.StatusCode, string(respBody))
	}

	var out message.Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, llm.WrapError(llm.ErrKindNoChoices, p.desc.Identifier, err)
	}
	// Response hygiene: echo the caller's model, never surface an empty
	// content array.
	out.Model = req.Model
	if len(out.Content) == 0 {
		out.Content = []message.ContentBlock{message.TextBlock("")}
	}
	if out.ID == "" {
		out.ID = message.NewResponseID()
	}
	return &out, nil
}

// Stream implements llm.Provider with a single non-retried POST.
func (p *Provider) Stream(ctx context.Context, req *message.Request) (*llm.StreamHandle, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	body, err := p.buildBody(req, true)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, p.endpointURL(), bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.headers(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.pool.Stream().Do(httpReq)
	if err != nil {
		cancel()
		return nil, llm.Classify(err, p.desc.Identifier)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, llm.FromStatus(p.desc.Identifier, resp.StatusCode, string(respBody))
	}

	return &llm.StreamHandle{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Cancel:      cancel,
	}, nil
}
