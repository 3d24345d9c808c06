package prompt

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
)

const defaultOpenAIModel = "gpt-4o-mini"

type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIGenerator generates text through the chat completions API.
type OpenAIGenerator struct {
	apiKey string
	model  string
	client *openai.Client
}

func NewOpenAIGenerator(opts OpenAIOptions) *OpenAIGenerator {
	cfg := openai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		cfg.BaseURL = base
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	cfg.HTTPClient = httpClient
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIGenerator{
		apiKey: strings.TrimSpace(opts.APIKey),
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (o *OpenAIGenerator) Ready() error {
	if o.apiKey == "" {
		return &domain.ConfigurationError{Component: "openai", Detail: "OPENAI_API_KEY is not set"}
	}
	return nil
}

func (o *OpenAIGenerator) Name() string { return "openai:" + o.model }

func (o *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := o.Ready(); err != nil {
		return "", err
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You help prepare instructions for an image editing model. Reply with plain text only."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", &domain.GatewayError{StatusCode: openAIStatus(err), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &domain.GatewayError{Err: errors.New("openai: no choices")}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &domain.GatewayError{Err: errors.New("openai: empty response")}
	}
	return text, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

var _ Generator = (*OpenAIGenerator)(nil)
