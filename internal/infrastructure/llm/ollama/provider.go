package ollama

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
	llm.RegisterFactory(llm.FamilyOllamaNative, func(desc llm.Descriptor, pool *llm.ClientPool, logger *zap.Logger) llm.Provider {
		return New(desc, pool, logger)
	})
}

// Provider dispatches to a local Ollama daemon over its native /api/chat
// endpoint. No authentication; content is a plain string per message.
type Provider struct {
	desc   llm.Descriptor
	pool   *llm.ClientPool
	logger *zap.Logger
}

// New creates an Ollama-native provider.
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

// SupportsStreaming: the native endpoint streams NDJSON, not SSE, so the
// passthrough path cannot serve it.
func (p *Provider) SupportsStreaming() bool { return false }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *message.Request) (*message.Response, error) {
	if p.desc.BaseURL == "" {
		return nil, llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "endpoint URL not configured")
	}

	model := req.Model
	if p.desc.Model != "" {
		model = p.desc.Model
	}

	native := ToNativeRequest(req, model)
	msgs, merged := CompactSameRole(native.Messages)
	if merged > 0 {
		p.logger.Warn("Merged consecutive same-role messages for local upstream",
			zap.Int("merged", merged))
	}
	native.Messages = msgs

	body, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.desc.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var native2 Response
	if err := json.Unmarshal(respBody, &native2); err != nil {
		return nil, llm.WrapError(llm.ErrKindNoChoices, p.desc.Identifier, err)
	}
	return FromNativeResponse(&native2, req.Model), nil
}

// Stream is unsupported for the native family.
func (p *Provider) Stream(ctx context.Context, req *message.Request) (*llm.StreamHandle, error) {
	return nil, llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "streaming not supported for this family")
}
