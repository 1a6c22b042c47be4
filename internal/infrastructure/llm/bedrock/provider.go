package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/relaygate/relaygate/internal/domain/message"
	llm "github.com/relaygate/relaygate/internal/infrastructure/llm"
	"go.uber.org/zap"
)

func init() {
	llm.RegisterFactory(llm.FamilyBedrockConverse, func(desc llm.Descriptor, pool *llm.ClientPool, logger *zap.Logger) llm.Provider {
		return New(desc, pool, logger)
	})
}

// Provider dispatches to the Bedrock runtime Converse endpoint using
// API-key (Bearer) authentication rather than SigV4 request signing.
type Provider struct {
	desc   llm.Descriptor
	pool   *llm.ClientPool
	logger *zap.Logger
}

// New creates a Bedrock Converse provider.
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

// SupportsStreaming: converse-stream uses AWS event-stream framing, not
// SSE, so streaming is not offered for this family.
func (p *Provider) SupportsStreaming() bool { return false }

func (p *Provider) validate() *llm.Error {
	if p.desc.BaseURL == "" {
		return llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "endpoint URL not configured")
	}
	if p.desc.APIKey == "" {
		return llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "API key not configured")
	}
	return nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *message.Request) (*message.Response, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	model := req.Model
	if p.desc.Model != "" {
		model = p.desc.Model
	}
	// Model ids carry dots and colons; escape them for the path segment.
	endpoint := p.desc.BaseURL + "/model/" + url.PathEscape(model) + "/converse"

	body, err := json.Marshal(ToConverseRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.desc.APIKey)

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

	var converse Response
	if err := json.Unmarshal(respBody, &converse); err != nil {
		return nil, llm.WrapError(llm.ErrKindNoChoices, p.desc.Identifier, err)
	}
	return FromConverseResponse(&converse, req.Model, p.desc.Identifier)
}

// Stream is unsupported for the Converse family.
func (p *Provider) Stream(ctx context.Context, req *message.Request) (*llm.StreamHandle, error) {
	return nil, llm.NewError(llm.ErrKindConfig, p.desc.Identifier, "streaming not supported for this family")
}
