// Package openai adapts an OpenAI-compatible chat endpoint to the reasoning
// provider port. It serves as the alternate provider.
package openai

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

const providerName = "openai"

var statusCodeRe = regexp.MustCompile(`(?i)status(?:\s+code)?:?\s*(\d{3})`)

type Provider struct {
	model llms.Model
}

// New builds a provider for baseURL. An empty token is sent as "none" for
// local OpenAI-compatible servers.
func New(baseURL, token, model string) (*Provider, error) {
	if strings.TrimSpace(token) == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(model),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return &Provider{model: client}, nil
}

func NewWithModel(model llms.Model) *Provider {
	return &Provider{model: model}
}

func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if opts.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	response, err := p.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", providerError(err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("openai generate: no choices returned")
	}
	return strings.TrimSpace(response.Choices[0].Content), nil
}

// providerError keeps the status code when the client reports one so that
// throttling is recognized upstream.
func providerError(err error) error {
	m := statusCodeRe.FindStringSubmatch(err.Error())
	if m == nil {
		return fmt.Errorf("openai generate: %w", err)
	}
	code, _ := strconv.Atoi(m[1])
	return &domain.ProviderError{
		Provider:   providerName,
		Operation:  "generate",
		StatusCode: code,
		Body:       err.Error(),
	}
}
