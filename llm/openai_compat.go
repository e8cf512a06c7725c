package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// openAICompatProvider talks to any OpenAI-compatible chat completions API
// through go-openai, retrying transient failures.
type openAICompatProvider struct {
	cfg    Config
	client *openai.Client
}

func newOpenAICompat(cfg Config, prefix string) *openAICompatProvider {
	// Timeout for individual HTTP requests. Kept generous for local providers
	// which may load a model on first request, and for large table images.
	timeout := 180 * time.Second

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + prefix
	oc.HTTPClient = &http.Client{Timeout: timeout}
	return &openAICompatProvider{cfg: cfg, client: openai.NewClientWithConfig(oc)}
}

func (p *openAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	body := openai.ChatCompletionRequest{
		Model:       p.model(req.Model),
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.ResponseFormat == "json_object" {
		body.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return p.complete(ctx, body)
}

func (p *openAICompatProvider) ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = visionMessage(m)
	}
	return p.complete(ctx, openai.ChatCompletionRequest{
		Model:       p.model(req.Model),
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
}

// visionMessage converts m to a go-openai message. Messages made only of
// text are sent with plain string content, which every backend accepts for
// system and assistant roles.
func visionMessage(m VisionMessage) openai.ChatCompletionMessage {
	textOnly := true
	for _, part := range m.Content {
		if part.Type != "text" {
			textOnly = false
			break
		}
	}
	if textOnly {
		texts := make([]string, len(m.Content))
		for i, part := range m.Content {
			texts[i] = part.Text
		}
		return openai.ChatCompletionMessage{Role: m.Role, Content: strings.Join(texts, "\n")}
	}

	parts := make([]openai.ChatMessagePart, 0, len(m.Content))
	for _, part := range m.Content {
		switch {
		case part.Type == "image_url" && part.ImageURL != nil:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    part.ImageURL.URL,
					Detail: openai.ImageURLDetail(part.ImageURL.Detail),
				},
			})
		default:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		}
	}
	return openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts}
}

func (p *openAICompatProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.cfg.Model
}

// Retry schedule. Variables so tests can shorten them.
var (
	maxRetries        = 6
	baseRetryDelay    = 2 * time.Second
	minRateLimitDelay = 5 * time.Second // minimum delay for 429 errors
)

// retryableStatusCode returns true for HTTP status codes that warrant a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// statusCode extracts the HTTP status from a go-openai error, or 0 for
// transport failures.
func statusCode(err error) int {
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

func (p *openAICompatProvider) complete(ctx context.Context, req openai.ChatCompletionRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			if statusCode(lastErr) == http.StatusTooManyRequests {
				if rl := minRateLimitDelay * time.Duration(1<<(attempt-1)); rl > delay {
					delay = rl
				}
			}
			slog.Warn("llm: retrying request",
				"provider", p.cfg.Provider,
				"model", req.Model,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			code := statusCode(err)
			// Status 0 is a network or timeout failure and is retried.
			if code != 0 && !retryableStatusCode(code) {
				return nil, fmt.Errorf("llm api error %d: %w", code, err)
			}
			continue
		}

		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("no choices in response")
		}
		return &ChatResponse{
			Content:          resp.Choices[0].Message.Content,
			Model:            resp.Model,
			FinishReason:     string(resp.Choices[0].FinishReason),
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
