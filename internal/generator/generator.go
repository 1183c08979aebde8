// Package generator produces the qualitative part of product comparisons
// with an LLM. Output is best-effort; callers must tolerate failure.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/observability"
)

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("generator returned an empty response")

// ProsCons is the generated qualitative comparison of two products.
type ProsCons struct {
	ProsA          []string `json:"pros_a"`
	ConsA          []string `json:"cons_a"`
	ProsB          []string `json:"pros_b"`
	ConsB          []string `json:"cons_b"`
	Recommendation string   `json:"recommendation"`
}

// TextGenerator generates pros and cons for a product pair.
type TextGenerator interface {
	CompareProducts(ctx context.Context, a, b domain.Product) (*ProsCons, error)
}

// Config configures the LangChain generator.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
	Currency  string
}

// LangChainGenerator asks an OpenAI-compatible chat model for a JSON
// comparison.
type LangChainGenerator struct {
	llm    llms.Model
	config Config
	logger *observability.Logger
}

// NewLangChainGenerator creates a generator backed by an OpenAI-compatible
// endpoint such as OpenRouter.
func NewLangChainGenerator(cfg Config, logger *observability.Logger) (*LangChainGenerator, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("generator API key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator client: %w", err)
	}
	return NewWithModel(llm, cfg, logger), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(llm llms.Model, cfg Config, logger *observability.Logger) *LangChainGenerator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Currency == "" {
		cfg.Currency = "TND"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LangChainGenerator{llm: llm, config: cfg, logger: logger}
}

const systemPrompt = "You are a product analyst focused on value for money. " +
	"Reply with valid JSON only, no prose and no code fences."

// CompareProducts prompts the model and parses its JSON answer.
func (g *LangChainGenerator) CompareProducts(ctx context.Context, a, b domain.Product) (*ProsCons, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, g.prompt(a, b)),
	}

	start := time.Now()
	resp, err := g.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(g.config.MaxTokens),
		llms.WithTemperature(0.3),
	)
	if err != nil {
		return nil, fmt.Errorf("generate comparison: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	out, err := ParseProsCons(resp.Choices[0].Content)
	if err != nil {
		return nil, err
	}

	g.logger.Debug().
		Str("product_a", a.ID).
		Str("product_b", b.ID).
		Dur("elapsed", time.Since(start)).
		Msg("Generated comparison")
	return out, nil
}

func (g *LangChainGenerator) prompt(a, b domain.Product) string {
	var sb strings.Builder
	sb.WriteString("Compare these two products. Prices are in ")
	sb.WriteString(g.config.Currency)
	sb.WriteString(".\n\n")
	writeProduct(&sb, "Product A", a, g.config.Currency)
	writeProduct(&sb, "Product B", b, g.config.Currency)
	sb.WriteString(`Answer with this JSON shape:
{"pros_a": ["..."], "cons_a": ["..."], "pros_b": ["..."], "cons_b": ["..."], "recommendation": "one or two sentences that mention price and value"}
Give two to four pros and one to three cons per product.`)
	return sb.String()
}

func writeProduct(sb *strings.Builder, label string, p domain.Product, currency string) {
	desc := []rune(p.Description)
	if len(desc) > 400 {
		desc = desc[:400]
	}
	fmt.Fprintf(sb, "%s: %s\nBrand: %s\nCategory: %s\nPrice: %.2f %s\nDescription: %s\n\n",
		label, p.Name, p.Brand, p.Category, p.Price, currency, string(desc))
}

// ParseProsCons decodes a model answer, tolerating Markdown code fences.
// An answer without any pros or cons is rejected.
func ParseProsCons(text string) (*ProsCons, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	var out ProsCons
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("parse comparison json: %w", err)
	}
	if len(out.ProsA)+len(out.ConsA)+len(out.ProsB)+len(out.ConsB) == 0 {
		return nil, ErrEmptyResponse
	}
	return &out, nil
}

var _ TextGenerator = (*LangChainGenerator)(nil)
