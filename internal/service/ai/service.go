package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"contractflow/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Provider extracts the structured document from contract text.
type Provider interface {
	Name() string
	ExtractContractData(ctx context.Context, text string) (Document, error)
}

const (
	ProviderPrimary   = "primary"
	ProviderSimulated = "simulated"
	ProviderGroq      = "groq"
)

// Registry maps provider identifiers to providers. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds id to p, replacing any previous binding.
func (r *Registry) Register(id string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[id] = p
}

// Lookup returns the provider bound to id.
func (r *Registry) Lookup(id string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, nil
}

// IDs lists registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Extract runs the provider bound to providerID. Failures of the provider
// come back as *ProviderError; an unknown id as ErrUnknownProvider.
func (r *Registry) Extract(ctx context.Context, text, providerID string) (Document, error) {
	p, err := r.Lookup(providerID)
	if err != nil {
		return nil, err
	}
	doc, err := p.ExtractContractData(ctx, text)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, unreachable(p.Name(), err)
	}
	if marker, ok := doc["error"]; ok {
		cause := fmt.Errorf("%v", marker)
		if details, ok := doc["details"]; ok {
			cause = fmt.Errorf("%v: %v", marker, details)
		}
		return nil, invalidResponse(p.Name(), cause)
	}
	return doc, nil
}

// chatModelFactory builds the eino chat model for a configured backend.
// Tests replace it to avoid network calls.
var chatModelFactory = newChatModel

func newChatModel(ctx context.Context, provider string, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 3000
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

var inferenceBackends = []string{"gemini", "openai", "claude"}

// NewRegistryFromConfig registers every configured inference backend plus
// the simulated provider. "primary" points at basic_config.default_provider
// and falls back to the simulated provider when that backend is absent.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	reg := NewRegistry()

	simDelay := defaultSimulatedDelay
	if pc, ok := cfg.Providers[ProviderSimulated]; ok && pc.DelayMillis > 0 {
		simDelay = time.Duration(pc.DelayMillis) * time.Millisecond
	}
	sim := NewSimulatedProvider(simDelay)
	reg.Register(ProviderSimulated, sim)
	reg.Register(ProviderGroq, sim)

	for _, name := range inferenceBackends {
		pc, ok := cfg.Providers[name]
		if !ok || pc.APIKey == "" {
			continue
		}
		m, err := chatModelFactory(ctx, name, pc)
		if err != nil {
			return nil, fmt.Errorf("init %s model: %w", name, err)
		}
		reg.Register(name, newInferenceProvider(name, m, time.Duration(pc.TimeoutSeconds)*time.Second))
	}

	primary, err := reg.Lookup(cfg.BasicConfig.DefaultProvider)
	if err != nil {
		slog.Warn("default provider not configured, primary uses simulated provider",
			"default_provider", cfg.BasicConfig.DefaultProvider)
		primary = sim
	}
	reg.Register(ProviderPrimary, primary)
	return reg, nil
}
