package ai

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const defaultProviderTimeout = 120 * time.Second

// inferenceProvider asks a chat model for the two-group document.
type inferenceProvider struct {
	name    string
	model   model.BaseChatModel
	timeout time.Duration
}

func newInferenceProvider(name string, m model.BaseChatModel, timeout time.Duration) *inferenceProvider {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &inferenceProvider{name: name, model: m, timeout: timeout}
}

func (p *inferenceProvider) Name() string { return p.name }

func (p *inferenceProvider) ExtractContractData(ctx context.Context, text string) (Document, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.model.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: buildPrompt(text)},
	})
	if err != nil {
		return nil, unreachable(p.name, err)
	}
	if resp == nil {
		return nil, invalidResponse(p.name, errors.New("empty response"))
	}
	doc, err := ParseDocument(resp.Content)
	if err != nil {
		return nil, invalidResponse(p.name, err)
	}
	return doc, nil
}
