package llm

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/relaygate/relaygate/internal/domain/message"
	"go.uber.org/zap"
)

// Family identifies a wire-format family. Providers in the same family
// share translation and dispatch code.
type Family string

const (
	FamilyOpenAIChat      Family = "openai-chat"
	FamilyAzureResponses  Family = "azure-responses"
	FamilyAnthropicNative Family = "anthropic-native"
	FamilyBedrockConverse Family = "bedrock-converse"
	FamilyOllamaNative    Family = "ollama-native"
	FamilyTinyFishSSE     Family = "tinyfish-sse"
)

// Descriptor configures one upstream provider instance.
type Descriptor struct {
	Identifier string // e.g. "openai", "azure-openai", "ollama"
	Family     Family
	BaseURL    string
	APIKey     string
	Model      string        // default model or Azure deployment name
	APIVersion string        // Azure api-version query parameter
	Timeout    time.Duration // per-request deadline, 0 = pool default
}

// identifierFamilies maps the recognized provider identifiers to their
// wire families. Unknown identifiers abort startup during validation.
var identifierFamilies = map[string]Family{
	"openai":           FamilyOpenAIChat,
	"azure-openai":     FamilyOpenAIChat,
	"openrouter":       FamilyOpenAIChat,
	"lmstudio":         FamilyOpenAIChat,
	"llamacpp":         FamilyOpenAIChat,
	"azure-responses":  FamilyAzureResponses,
	"anthropic-native": FamilyAnthropicNative,
	"bedrock":          FamilyBedrockConverse,
	"ollama":           FamilyOllamaNative,
	"tinyfish":         FamilyTinyFishSSE,
}

// localIdentifiers are providers served from the local machine. They are
// fallback sources, never fallback targets, and control tool injection.
var localIdentifiers = map[string]bool{
	"ollama":   true,
	"llamacpp": true,
	"lmstudio": true,
}

// FamilyOf resolves a provider identifier to its family.
func FamilyOf(identifier string) (Family, bool) {
	f, ok := identifierFamilies[identifier]
	return f, ok
}

// IsLocal reports whether the identifier names a local provider.
func IsLocal(identifier string) bool { return localIdentifiers[identifier] }

// ValidIdentifiers returns the sorted list of recognized identifiers,
// used in startup error messages.
func ValidIdentifiers() []string {
	out := make([]string, 0, len(identifierFamilies))
	for id := range identifierFamilies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StreamHandle is the opaque streaming result handed back to the HTTP
// front door. The dispatcher performs no translation on streams; the body
// is the upstream's SSE byte stream.
type StreamHandle struct {
	Body        io.ReadCloser
	ContentType string
	Cancel      context.CancelFunc
}

// Close drains nothing and releases the stream.
func (h *StreamHandle) Close() error {
	if h.Cancel != nil {
		h.Cancel()
	}
	if h.Body != nil {
		return h.Body.Close()
	}
	return nil
}

// Provider is the per-family capability set: translate the canonical
// request out, perform the upstream call, translate the response back.
type Provider interface {
	// Descriptor returns the provider's configuration.
	Descriptor() Descriptor

	// Complete performs one non-streaming upstream call. Implementations
	// translate req to the family wire shape, POST it, and translate the
	// result back to canonical form. Errors are classified *Error values.
	Complete(ctx context.Context, req *message.Request) (*message.Response, error)

	// Stream performs one streaming upstream call and returns the raw
	// SSE handle. Families that cannot stream return a config error.
	Stream(ctx context.Context, req *message.Request) (*StreamHandle, error)

	// SupportsStreaming reports whether Stream is usable for this family.
	SupportsStreaming() bool
}

// --- Provider factory registry ---
// Families register themselves via init() in their own package. Adding a
// new family = implement Provider + RegisterFactory(family, New).

// Factory creates a Provider from a descriptor and the shared client pool.
type Factory func(desc Descriptor, pool *ClientPool, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[Family]Factory{}
)

// RegisterFactory registers a provider factory for the given family.
func RegisterFactory(family Family, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[family] = factory
}

// NewProvider creates a Provider for the identifier in desc.
func NewProvider(desc Descriptor, pool *ClientPool, logger *zap.Logger) (Provider, error) {
	family := desc.Family
	if family == "" {
		f, ok := FamilyOf(desc.Identifier)
		if !ok {
			return nil, fmt.Errorf("unknown provider %q (valid: %v)", desc.Identifier, ValidIdentifiers())
		}
		family = f
		desc.Family = f
	}

	factoryMu.RLock()
	factory, ok := factories[family]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory registered for family %q", family)
	}
	return factory(desc, pool, logger), nil
}
