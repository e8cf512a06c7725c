// Package extract reads price tables out of table images with a vision
// model.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/smartcatalog/llm"
	"github.com/brunobiangulo/smartcatalog/pricing"
	"github.com/brunobiangulo/smartcatalog/raster"
)

// ErrNoImage is returned for an artifact that was already released.
var ErrNoImage = errors.New("extract: artifact has no image data")

// Config holds extraction settings.
type Config struct {
	Model        string  `json:"model" yaml:"model"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`
	FewShotDir   string  `json:"few_shot_dir" yaml:"few_shot_dir"`
	// DisablePrefill stops the extractor from opening the assistant turn
	// with "[". Some backends reject a trailing assistant message.
	DisablePrefill bool `json:"disable_prefill" yaml:"disable_prefill"`
}

// VisionExtractor implements pricing.Extractor over a vision provider.
type VisionExtractor struct {
	provider llm.VisionProvider
	cfg      Config
	examples []Example
}

// NewVisionExtractor creates an extractor and loads its few-shot examples.
func NewVisionExtractor(provider llm.VisionProvider, cfg Config) (*VisionExtractor, error) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	examples, err := LoadExamples(cfg.FewShotDir)
	if err != nil {
		return nil, err
	}
	return &VisionExtractor{provider: provider, cfg: cfg, examples: examples}, nil
}

// Examples returns the number of loaded few-shot examples.
func (e *VisionExtractor) Examples() int { return len(e.examples) }

// ExtractTable sends the table image to the model and parses its answer.
func (e *VisionExtractor) ExtractTable(ctx context.Context, art *raster.Artifact) ([]pricing.Row, error) {
	url := art.DataURL()
	if url == "" {
		return nil, ErrNoImage
	}

	start := time.Now()
	resp, err := e.provider.ChatWithImages(ctx, llm.VisionChatRequest{
		Model:       e.cfg.Model,
		Messages:    e.messages(url),
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("vision extraction failed: %w", err)
	}

	rows, err := ParseRows(resp.Content)
	if err != nil {
		if resp.FinishReason == "length" {
			return nil, fmt.Errorf("output truncated at %d tokens: %w", resp.CompletionTokens, err)
		}
		return nil, err
	}
	slog.Debug("extract: table parsed",
		"page", art.Page,
		"rows", len(rows),
		"tokens", resp.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return rows, nil
}

func (e *VisionExtractor) messages(imageURL string) []llm.VisionMessage {
	user := []llm.ContentPart{llm.ImagePart(imageURL), llm.TextPart(taskPrompt)}
	if len(e.examples) > 0 {
		user = append(user, llm.TextPart(examplesIntro))
		for i, ex := range e.examples {
			user = append(user,
				llm.TextPart(fmt.Sprintf("Example %d input:", i+1)),
				llm.ImagePart(ex.DataURL),
				llm.TextPart(fmt.Sprintf("Example %d output:\n%s", i+1, ex.Output)),
			)
		}
	}

	msgs := []llm.VisionMessage{
		{Role: "system", Content: []llm.ContentPart{llm.TextPart(e.cfg.SystemPrompt)}},
		{Role: "user", Content: user},
	}
	if !e.cfg.DisablePrefill {
		msgs = append(msgs, llm.VisionMessage{
			Role:    "assistant",
			Content: []llm.ContentPart{llm.TextPart("[")},
		})
	}
	return msgs
}
