package prompt

import (
	"context"
	"errors"
	"strings"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
)

// Result pairs the prompt sent to the model with its cleaned reply.
type Result struct {
	Prompt string
	Output string
}

// Service runs the translate and enhance stages against a Generator.
type Service struct {
	gen       Generator
	templates *Templates
}

func NewService(gen Generator, templates *Templates) *Service {
	return &Service{gen: gen, templates: templates}
}

func (s *Service) Ready() error { return s.gen.Ready() }

// Provider names the underlying model.
func (s *Service) Provider() string { return s.gen.Name() }

func (s *Service) Translate(ctx context.Context, text string) (Result, error) {
	return s.run(ctx, s.templates.Translate(text))
}

func (s *Service) Enhance(ctx context.Context, text string) (Result, error) {
	return s.run(ctx, s.templates.Enhance(text))
}

// TransformInstruction renders the prompt for the image stage.
func (s *Service) TransformInstruction(text string) string {
	return s.templates.Transform(text)
}

func (s *Service) run(ctx context.Context, prompt string) (Result, error) {
	res := Result{Prompt: prompt}
	out, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return res, err
	}
	res.Output = cleanOutput(out)
	if res.Output == "" {
		return res, &domain.GatewayError{Err: errors.New("model returned an empty reply")}
	}
	return res, nil
}

func cleanOutput(text string) string {
	text = trimCodeFence(text)
	for _, q := range []string{`"`, "'", "“"} {
		closing := q
		if q == "“" {
			closing = "”"
		}
		if len(text) >= 2 && strings.HasPrefix(text, q) && strings.HasSuffix(text, closing) {
			text = strings.TrimSpace(text[len(q) : len(text)-len(closing)])
		}
	}
	return text
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```text")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
