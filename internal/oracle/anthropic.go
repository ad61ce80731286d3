// Package oracle asks a hosted LLM to map source headers onto the catalog.
// Its answers are raw suggestions; mapping.Accept decides whether they are
// used.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"smartetl/internal/mapping"
	"smartetl/internal/schema"
)

const DefaultModel = "claude-sonnet-4-5-20250929"

// Config selects the model and endpoint. BaseURL is empty in production.
// A negative MaxRetries keeps the SDK default.
type Config struct {
	APIKey     string `koanf:"api_key"`
	Model      string `koanf:"model"`
	BaseURL    string `koanf:"base_url"`
	MaxTokens  int64  `koanf:"max_tokens"`
	MaxRetries int    `koanf:"max_retries"`
}

// Claude implements mapping.Oracle on the Anthropic Messages API.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	cat       *schema.Catalog
}

var _ mapping.Oracle = (*Claude)(nil)

func New(cfg Config, cat *schema.Catalog) (*Claude, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("oracle: api key not set")
	}
	if cat == nil {
		return nil, fmt.Errorf("oracle: nil catalog")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	c := &Claude{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		cat:       cat,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 2048
	}
	return c, nil
}

// Suggest implements mapping.Oracle.
func (c *Claude) Suggest(ctx context.Context, headers []string, hint string) (mapping.Config, error) {
	system, user := buildPrompts(c.cat, headers, hint)

	log.Printf("oracle: request model=%s headers=%d hint=%q", c.model, len(headers), hint)
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: anthropic: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			log.Printf("oracle: response size=%d tokens_in=%d tokens_out=%d",
				len(block.Text), msg.Usage.InputTokens, msg.Usage.OutputTokens)
			return parseResponse(block.Text)
		}
	}
	return nil, fmt.Errorf("oracle: no text content in response")
}

func buildPrompts(cat *schema.Catalog, headers []string, hint string) (string, string) {
	var sys strings.Builder
	sys.WriteString("You map spreadsheet column headers onto a fixed set of target fields.\n")
	sys.WriteString("Answer with JSON only, shaped as {\"mappings\": {\"<field key>\": [\"<header>\", ...]}}.\n")
	sys.WriteString("Use header names exactly as given. Never invent headers. Use each header at most once.\n")
	sys.WriteString("Leave a field out when no header fits.\n\nTarget fields:\n")
	for _, f := range cat.Fields() {
		fmt.Fprintf(&sys, "- %s (%s)", f.Key, f.DisplayName)
		switch {
		case f.Required:
			sys.WriteString(": required, exactly one header, the record identifier")
		case f.AllowMultiple:
			sys.WriteString(": numeric, one or more headers that are summed")
		default:
			sys.WriteString(": text, at most one header")
		}
		if len(f.Aliases) > 0 {
			fmt.Fprintf(&sys, "; known names: %s", strings.Join(f.Aliases, ", "))
		}
		sys.WriteByte('\n')
	}

	var user strings.Builder
	if hint != "" {
		fmt.Fprintf(&user, "Data type: %s\n", hint)
	}
	b, _ := json.Marshal(headers)
	fmt.Fprintf(&user, "Headers: %s\n", b)
	return sys.String(), user.String()
}

type response struct {
	Mappings map[string]json.RawMessage `json:"mappings"`
}

func parseResponse(text string) (mapping.Config, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var r response
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("oracle: parsing response: %w (response: %s)", err, text)
	}
	cfg := mapping.Config{}
	for key, raw := range r.Mappings {
		if srcs := parseSources(raw); len(srcs) > 0 {
			cfg[strings.TrimSpace(key)] = mapping.FieldMapping{Sources: srcs}
		}
	}
	return cfg, nil
}

// parseSources accepts a list of headers or a single header string.
func parseSources(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			return []string{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	out := many[:0]
	for _, s := range many {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
