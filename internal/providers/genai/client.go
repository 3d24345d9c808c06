// Package genai is a thin client for the Gemini generateContent REST API,
// covering plain text generation and instruction-guided image editing.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
)

// ErrNoImage is wrapped in a GatewayError when an edit returns text only.
var ErrNoImage = errors.New("genai: response contained no image")

// ErrEmptyText is wrapped in a GatewayError when a text call returns nothing.
var ErrEmptyText = errors.New("genai: response contained no text")

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to Gemini over REST.
type Client struct {
	apiKey     string
	baseURL    string
	textModel  string
	imageModel string
	httpClient *http.Client
	logger     *infra.Logger
}

// ImageRequest is an instruction plus the image it applies to.
type ImageRequest struct {
	Prompt   string
	Data     []byte
	MIMEType string
}

// ImageAsset is an image returned by the model.
type ImageAsset struct {
	Data     []byte
	MIMEType string
	Text     string
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature        *float64 `json:"temperature,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	textModel := strings.TrimSpace(opts.TextModel)
	if textModel == "" {
		textModel = "gemini-2.0-flash"
	}
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = "gemini-2.0-flash-preview-image-generation"
	}

	logger := opts.Logger
	if logger == nil {
		l := infra.NopLogger()
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		textModel:  textModel,
		imageModel: imageModel,
		httpClient: client,
		logger:     logger,
	}
}

// Ready reports a ConfigurationError when no credential is available.
func (c *Client) Ready() error {
	if c == nil || c.apiKey == "" {
		return &domain.ConfigurationError{Component: "gemini", Detail: "GEMINI_API_KEY is not set"}
	}
	return nil
}

// TextModel returns the configured text model identifier.
func (c *Client) TextModel() string { return c.textModel }

// ImageModel returns the configured image model identifier.
func (c *Client) ImageModel() string { return c.imageModel }

// GenerateText sends a single-turn prompt and returns the concatenated text.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	temperature := 0.2
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
		GenerationConfig: &geminiGenerationConfig{Temperature: &temperature},
	}
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.textModel, payload, &response); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", &domain.GatewayError{Err: ErrEmptyText}
	}
	return text, nil
}

// EditImage asks the image model to apply prompt to the supplied image and
// returns the first inline image in the response.
func (c *Client) EditImage(ctx context.Context, req ImageRequest) (*ImageAsset, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: req.Prompt},
				{InlineData: &geminiInlineData{
					MimeType: req.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(req.Data),
				}},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	}
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.imageModel, payload, &response); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				text.WriteString(part.Text)
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, &domain.GatewayError{Err: fmt.Errorf("decode inline data: %w", err)}
			}
			mimeType := part.InlineData.MimeType
			if mimeType == "" {
				mimeType = http.DetectContentType(data)
			}
			c.logger.Debug().
				Str("model", c.imageModel).
				Int("bytes", len(data)).
				Msg("genai: received edited image")
			return &ImageAsset{Data: data, MIMEType: mimeType, Text: strings.TrimSpace(text.String())}, nil
		}
	}
	return nil, &domain.GatewayError{Err: ErrNoImage}
}

func (c *Client) invokeGemini(ctx context.Context, model string, payload any, out any) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.GatewayError{Err: fmt.Errorf("invoke gemini: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return &domain.GatewayError{StatusCode: resp.StatusCode, Err: errors.New(apiErr.Error.Message)}
		}
		if msg := strings.TrimSpace(string(data)); msg != "" {
			return &domain.GatewayError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
		}
		return &domain.GatewayError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.GatewayError{Err: fmt.Errorf("decode gemini response: %w", err)}
	}
	return nil
}
