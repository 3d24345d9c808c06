// Package image holds the remote image transformation gateway.
package image

import (
	"context"

	"github.com/gabrielee5/grafo-sub000/internal/providers/genai"
)

// Request is the image plus the final instruction for the model.
type Request struct {
	Prompt   string
	Data     []byte
	MIMEType string
}

// Result is the transformed image returned by the gateway.
type Result struct {
	Data     []byte
	MIMEType string
	Note     string
}

// Transformer edits an image according to an instruction.
type Transformer interface {
	Transform(ctx context.Context, req Request) (*Result, error)
	Ready() error
	Name() string
}

// GeminiTransformer uses the Gemini image model.
type GeminiTransformer struct {
	client *genai.Client
}

func NewGeminiTransformer(client *genai.Client) *GeminiTransformer {
	return &GeminiTransformer{client: client}
}

func (g *GeminiTransformer) Transform(ctx context.Context, req Request) (*Result, error) {
	asset, err := g.client.EditImage(ctx, genai.ImageRequest{
		Prompt:   req.Prompt,
		Data:     req.Data,
		MIMEType: req.MIMEType,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: asset.Data, MIMEType: asset.MIMEType, Note: asset.Text}, nil
}

func (g *GeminiTransformer) Ready() error { return g.client.Ready() }

func (g *GeminiTransformer) Name() string { return "gemini:" + g.client.ImageModel() }

var _ Transformer = (*GeminiTransformer)(nil)
