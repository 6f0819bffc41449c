package runtime

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicCompleter struct {
	client anthropic.Client
}

func newAnthropicCompleter(opts Options) *anthropicCompleter {
	reqOpts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(opts.APIKey))}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	return &anthropicCompleter{client: anthropic.NewClient(reqOpts...)}
}

func (p *anthropicCompleter) complete(ctx context.Context, opts Options, turns []turn) (string, error) {
	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.text)
		if t.role == roleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(defaultMaxOutputTokens)
	if opts.MaxOutputTokens > 0 {
		maxTokens = int64(opts.MaxOutputTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(opts.Model)),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if system := strings.TrimSpace(opts.SystemPrompt); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			b.WriteString(v.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
