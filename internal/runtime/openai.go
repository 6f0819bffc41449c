package runtime

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openaiCompleter struct {
	client openai.Client
}

func newOpenAICompleter(opts Options) *openaiCompleter {
	reqOpts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(opts.APIKey))}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	return &openaiCompleter{client: openai.NewClient(reqOpts...)}
}

func (p *openaiCompleter) complete(ctx context.Context, opts Options, turns []turn) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if system := strings.TrimSpace(opts.SystemPrompt); system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, t := range turns {
		if t.role == roleAssistant {
			msgs = append(msgs, openai.AssistantMessage(t.text))
		} else {
			msgs = append(msgs, openai.UserMessage(t.text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(strings.TrimSpace(opts.Model)),
		Messages: msgs,
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxOutputTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
