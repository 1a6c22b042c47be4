package openai

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
	llm.RegisterFactory(llm.FamilyOpenAIChat, func(desc llm.Descriptor, pool *llm.ClientPool, logger *zap.Logger) llm.Provider {
		return New(desc, pool, logger)
	})
	llm.RegisterFactory(llm.FamilyAzureResponses, func(desc llm.Descriptor, pool *llm.ClientPool, logger *zap.Logger) llm.Provider {
		return New(desc, pool, logger)
	})
}

// Provider dispatches to any OpenAI-compatible chat-completions endpoint:
// OpenAI, Azure deployments, OpenRouter, LM Studio, llama.cpp-server, and
// the Azure Responses variant.
type Provider struct {
	desc   llm.Descriptor
	pool   *llm.ClientPool
	logger *zap.Logger
}

// New creates an OpenAI-family provider.
func New(desc llm.Descriptor, pool *llm.ClientPool, logger *zap.Logger) *Provider {
	desc.BaseURL = strings.TrimRight(desc.BaseURL, "/")
	return &Provider{
		desc:   desc,
		pool:   pool,
		logger: logger.With(zap.String("provider", desc.Identifier), zap.String("family", string(desc.Family))),
	}
}

// Compile-time interface check
var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Descriptor() llm.Descriptor { return p.desc }

// SupportsStreaming: chat-completions endpoints stream SSE natively; the
// Responses variant is batch-only here.
func (p *Provider) SupportsStreaming() bool {
	return p.desc.Family == llm.FamilyOpenAIChat
}

// endpointURL builds the family-specific URL.
func (p *Provider) endpointURL() string {
	if p.desc.Family == llm.FamilyAzureResponses {
		url := p.desc.BaseURL + "/openai/responses"
		if p.desc.APIVersion != "" {
			url += "?api-version=" + p.desc.APIVersion
		}
		return url
	}
	url := p.desc.BaseURL + "/chat/completions"
	if p.desc.Identifier == "azure-openai" && p.desc.APIVersion != "" {
		url += "?api-version=" + p.desc.APIVersion
	}
	return url
}

// buildHeaders applies the family's authentication style.
func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	switch {
	case p.desc.APIKey == "":
		// Local servers (LM Studio, llama.cpp) accept unauthenticated calls.
	case p.desc.Identifier == "azure-openai":
		req.Header.Set("api-key", p.desc.APIKey)
	case p.desc.Family == llm.FamilyAzureResponses:
		// services.ai.azure.com endpoints take Bearer; legacy resource
		// endpoints take api-key.
		if strings.Contains(p.desc.BaseURL, "services.ai.azure.com") {
			req.Header.Set("Authorization", "Bearer "+p.desc.APIKey)
		} else {
			req.Header.Set("api-key", p.desc.APIKey)
		}
	default:
		req.Header.Set("Authorization", "Bearer "+p.desc.APIKey)
	}
}

// validate checks the descriptor before any network work.
func (p *Provider) validate() *llm.Error {
	if p.desc.BaseURL == "" {
		return llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "endpoint URL not configured")
	}
	if p.desc.APIKey == "" && !llm.IsLocal(p.desc.Identifier) {
		return llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "API key not configured")
	}
	return nil
}

// buildBody marshals the translated request for this family.
func (p *Provider) buildBody(req *message.Request, stream bool) ([]byte, error) {
	model := req.Model
	if p.desc.Model != "" {
		model = p.desc.Model
	}

	chatReq := ToChatRequest(req, model)
	if llm.IsLocal(p.desc.Identifier) {
		msgs, merged := CompactSameRole(chatReq.Messages)
		if merged > 0 {
			p.logger.Warn("Merged consecutive same-role messages for local upstream",
				zap.Int("merged", merged))
		}
		chatReq.Messages = msgs
	}

	if p.desc.Family == llm.FamilyAzureResponses {
		return json.Marshal(&ResponsesRequest{
			Model:               chatReq.Model,
			Messages:            chatReq.Messages,
			MaxCompletionTokens: chatReq.MaxTokens,
			Temperature:         chatReq.Temperature,
			TopP:                chatReq.TopP,
			Tools:               chatReq.Tools,
		})
	}
	chatReq.Stream = stream
	return json.Marshal(chatReq)
}

// Complete implements llm.Provider (non-streaming).
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
	p.buildHeaders(httpReq)

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

	return FromChatResponse(respBody, req.Model, p.desc.Identifier)
}

// Stream implements llm.Provider: a single non-retried POST whose SSE body
// is handed back untranslated.
func (p *Provider) Stream(ctx context.Context, req *message.Request) (*llm.StreamHandle, error) {
	if !p.SupportsStreaming() {
		return nil, llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "streaming not supported for this family")
	}
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
	p.buildHeaders(httpReq)
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
