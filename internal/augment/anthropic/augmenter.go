// Package anthropic fills empty schema fields by asking a Claude model to read
// the cleaned page text.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/dircrawl/internal/crawler"
)

const (
	defaultModel     = "claude-haiku-4-5"
	defaultMaxTokens = 1024
	maxPromptText    = 4000
)

const systemPrompt = `You extract one structured person record from text taken from a staff or faculty directory page.
Reply with a single JSON object using exactly the keys of the provided schema.
Use an empty string for any value the text does not contain. Do not explain.`

// Config controls the Messages API client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
	Timeout   time.Duration
	// MaxRetries is passed to the SDK; negative keeps the SDK default.
	MaxRetries int
}

// Augmenter implements crawler.Augmenter with the Anthropic Messages API.
type Augmenter struct {
	client    anthropic.Client
	enabled   bool
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// New builds an Augmenter. Without an API key it reports unavailable.
func New(cfg Config, logger *zap.Logger) *Augmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	return &Augmenter{
		client:    anthropic.NewClient(opts...),
		enabled:   strings.TrimSpace(cfg.APIKey) != "",
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Available reports whether an API key was configured.
func (a *Augmenter) Available() bool {
	return a != nil && a.enabled
}

// Augment asks the model for the schema fields. The returned record holds only
// non-empty schema keys; a reply that is not a JSON object yields nil, nil.
func (a *Augmenter) Augment(
	ctx context.Context,
	pageText, pageURL string,
	schema crawler.Schema,
	partial crawler.Record,
) (crawler.Record, error) {
	if !a.Available() {
		return nil, nil
	}
	prompt, err := BuildPrompt(pageText, schema, partial)
	if err != nil {
		return nil, err
	}
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("augment %s: %w", pageURL, err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	rec, err := ParseReply(reply.String(), schema)
	if err != nil {
		a.logger.Warn("augmenter reply not usable",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return nil, nil
	}
	return rec, nil
}

// BuildPrompt renders the schema types, any known values and the truncated page text.
func BuildPrompt(pageText string, schema crawler.Schema, partial crawler.Record) (string, error) {
	types, err := json.MarshalIndent(schema.Types(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}
	var b strings.Builder
	b.WriteString("SCHEMA (JSON keys and types):\n")
	b.Write(types)
	b.WriteString("\n")

	known := make([]string, 0, len(partial))
	for k, v := range partial {
		if strings.TrimSpace(v) != "" {
			known = append(known, k)
		}
	}
	if len(known) > 0 {
		sort.Strings(known)
		b.WriteString("\nALREADY KNOWN:\n")
		for _, k := range known {
			fmt.Fprintf(&b, "%s: %s\n", k, partial[k])
		}
	}

	b.WriteString("\nTEXT:\n\"\"\"\n")
	b.WriteString(truncate(pageText, maxPromptText))
	b.WriteString("\n\"\"\"\n\nReturn only the JSON object.")
	return b.String(), nil
}

// ParseReply decodes a model reply into a record restricted to schema fields.
func ParseReply(reply string, schema crawler.Schema) (crawler.Record, error) {
	body := stripFences(reply)
	if body == "" {
		return nil, fmt.Errorf("empty reply")
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	out := crawler.Record{}
	for _, name := range schema.Names() {
		v, ok := raw[name]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case float64:
			if val == float64(int64(val)) {
				s = fmt.Sprint(int64(val))
			} else {
				s = fmt.Sprint(val)
			}
		default:
			s = fmt.Sprint(val)
		}
		if s = strings.TrimSpace(s); s != "" {
			out[name] = s
		}
	}
	return out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	} else {
		return s
	}
	if j := strings.Index(s, "```"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
