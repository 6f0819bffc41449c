// Package runtime provides the model-backed implementations of the
// orchestration engine's invocation contracts: a stateful Conversation for
// workers and a single-turn Reviewer for review rounds. Both speak to
// Anthropic, OpenAI or OpenAI-compatible endpoints through the official
// SDKs; the engine itself never sees provider types.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const (
	ProviderAnthropic        = "anthropic"
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai_compatible"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"

	// maxHistoryTurns bounds the conversational context carried across a
	// worker's revisions and tasks.
	maxHistoryTurns = 20

	defaultMaxOutputTokens = 4096

	// reviewerTemperature pins reviewers to near-deterministic sampling.
	reviewerTemperature = 0.1
)

type Options struct {
	Log *slog.Logger

	// Provider is one of the Provider* constants.
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the provider endpoint; required for
	// openai_compatible.
	BaseURL string

	SystemPrompt    string
	Temperature     *float64
	MaxOutputTokens int
}

func (o Options) validate() error {
	if strings.TrimSpace(o.Model) == "" {
		return errors.New("missing model")
	}
	if strings.TrimSpace(o.APIKey) == "" {
		return errors.New("missing api key")
	}
	switch strings.TrimSpace(o.Provider) {
	case ProviderAnthropic, ProviderOpenAI:
		return nil
	case ProviderOpenAICompatible:
		if strings.TrimSpace(o.BaseURL) == "" {
			return errors.New("openai_compatible provider requires base_url")
		}
		return nil
	default:
		return fmt.Errorf("unsupported provider %q", o.Provider)
	}
}

type turn struct {
	role string
	text string
}

// completer is the minimal provider surface: one full-history completion.
type completer interface {
	complete(ctx context.Context, opts Options, turns []turn) (string, error)
}

func newCompleter(opts Options) (completer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	switch strings.TrimSpace(opts.Provider) {
	case ProviderAnthropic:
		return newAnthropicCompleter(opts), nil
	default:
		return newOpenAICompleter(opts), nil
	}
}

// Conversation backs one worker: every Invoke appends to the same message
// history, so revision prompts see the worker's earlier drafts.
type Conversation struct {
	log  *slog.Logger
	opts Options
	comp completer

	mu    sync.Mutex
	turns []turn
}

func NewConversation(opts Options) (*Conversation, error) {
	comp, err := newCompleter(opts)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Conversation{log: log, opts: opts, comp: comp}, nil
}

func (c *Conversation) Invoke(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	turns := append(append([]turn(nil), c.turns...), turn{role: roleUser, text: prompt})
	text, err := c.comp.complete(ctx, c.opts, turns)
	if err != nil {
		return "", err
	}
	c.turns = append(turns, turn{role: roleAssistant, text: text})
	if len(c.turns) > maxHistoryTurns {
		c.turns = append([]turn(nil), c.turns[len(c.turns)-maxHistoryTurns:]...)
	}
	c.log.Debug("worker completion", "model", c.opts.Model, "turns", len(c.turns))
	return text, nil
}

// Reviewer is a single-turn invoker: no persisted history, pinned low
// temperature, no tool surface at all.
type Reviewer struct {
	log  *slog.Logger
	opts Options
	comp completer
}

func NewReviewer(opts Options) (*Reviewer, error) {
	temp := reviewerTemperature
	opts.Temperature = &temp
	comp, err := newCompleter(opts)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Reviewer{log: log, opts: opts, comp: comp}, nil
}

func (r *Reviewer) Invoke(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	text, err := r.comp.complete(ctx, r.opts, []turn{{role: roleUser, text: prompt}})
	if err != nil {
		return "", err
	}
	r.log.Debug("review completion", "model", r.opts.Model)
	return text, nil
}
