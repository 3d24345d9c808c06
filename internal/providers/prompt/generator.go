// Package prompt turns user instructions into gateway-ready prompts: it
// translates and rewrites them through a text model and renders the
// selectable template set.
package prompt

import (
	"context"

	"github.com/gabrielee5/grafo-sub000/internal/providers/genai"
)

// Generator is a single-turn text model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Ready() error
	Name() string
}

// GeminiGenerator adapts the Gemini client to Generator.
type GeminiGenerator struct {
	client *genai.Client
}

func NewGeminiGenerator(client *genai.Client) *GeminiGenerator {
	return &GeminiGenerator{client: client}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.client.GenerateText(ctx, prompt)
}

func (g *GeminiGenerator) Ready() error { return g.client.Ready() }

func (g *GeminiGenerator) Name() string { return "gemini:" + g.client.TextModel() }

var _ Generator = (*GeminiGenerator)(nil)
