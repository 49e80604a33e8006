package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/becomeliminal/nim-companion/memory"
)

// ErrGeneration wraps every failure of the language model call.
var ErrGeneration = errors.New("generation failed")

// AnthropicGenerator implements memory.Generator with the Claude Messages API.
type AnthropicGenerator struct {
	client      *anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

var _ memory.Generator = (*AnthropicGenerator)(nil)

// GeneratorOption configures an AnthropicGenerator.
type GeneratorOption func(*AnthropicGenerator)

// WithMaxTokens sets the response token limit. Default: 1024
func WithMaxTokens(n int64) GeneratorOption {
	return func(g *AnthropicGenerator) {
		g.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature. Default: 0.3
func WithTemperature(t float64) GeneratorOption {
	return func(g *AnthropicGenerator) {
		g.temperature = t
	}
}

// NewAnthropicGenerator creates a generator bound to one model.
func NewAnthropicGenerator(client *anthropic.Client, model string, opts ...GeneratorOption) *AnthropicGenerator {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	g := &AnthropicGenerator{
		client:      client,
		model:       model,
		maxTokens:   1024,
		temperature: 0.3,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends prompt as a single user message and returns the reply text.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   g.maxTokens,
		Temperature: anthropic.Float(g.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return textOf(resp), nil
}

// textOf concatenates the text blocks of a response. Every other block type
// is dropped; this is the only place the response shape is inspected.
func textOf(resp *anthropic.Message) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
