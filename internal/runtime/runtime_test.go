package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeCompleter struct {
	calls [][]turn
	reply string
	err   error
}

func (f *fakeCompleter) complete(_ context.Context, _ Options, turns []turn) (string, error) {
	cp := append([]turn(nil), turns...)
	f.calls = append(f.calls, cp)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"anthropic ok", Options{Provider: ProviderAnthropic, Model: "claude-sonnet-4-5", APIKey: "k"}, false},
		{"openai ok", Options{Provider: ProviderOpenAI, Model: "gpt-4o", APIKey: "k"}, false},
		{"compatible requires base url", Options{Provider: ProviderOpenAICompatible, Model: "m", APIKey: "k"}, true},
		{"compatible with base url", Options{Provider: ProviderOpenAICompatible, Model: "m", APIKey: "k", BaseURL: "http://localhost:11434/v1"}, false},
		{"missing model", Options{Provider: ProviderOpenAI, APIKey: "k"}, true},
		{"missing key", Options{Provider: ProviderOpenAI, Model: "m"}, true},
		{"unknown provider", Options{Provider: "bedrock", Model: "m", APIKey: "k"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.opts.validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("validate()=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestConversationKeepsHistory(t *testing.T) {
	t.Parallel()

	fake := &fakeCompleter{reply: "reply"}
	c := &Conversation{log: discardLogger(), opts: Options{Model: "m"}, comp: fake}

	if _, err := c.Invoke(context.Background(), "first task"); err != nil {
		t.Fatalf("invoke 1: %v", err)
	}
	if _, err := c.Invoke(context.Background(), "revise it"); err != nil {
		t.Fatalf("invoke 2: %v", err)
	}

	if len(fake.calls) != 2 {
		t.Fatalf("completer calls=%d, want 2", len(fake.calls))
	}
	second := fake.calls[1]
	if len(second) != 3 {
		t.Fatalf("second call turns=%d, want 3 (user, assistant, user)", len(second))
	}
	if second[0].text != "first task" || second[0].role != roleUser {
		t.Fatalf("turn 0=%+v, want original user prompt", second[0])
	}
	if second[1].role != roleAssistant {
		t.Fatalf("turn 1 role=%q, want assistant", second[1].role)
	}
	if second[2].text != "revise it" {
		t.Fatalf("turn 2=%+v, want revision prompt", second[2])
	}
}

func TestConversationFaultLeavesHistoryClean(t *testing.T) {
	t.Parallel()

	fake := &fakeCompleter{err: errors.New("rate limited")}
	c := &Conversation{log: discardLogger(), opts: Options{Model: "m"}, comp: fake}

	if _, err := c.Invoke(context.Background(), "task"); err == nil {
		t.Fatalf("expected fault")
	}
	// A failed turn is not committed to history.
	if len(c.turns) != 0 {
		t.Fatalf("turns=%d after fault, want 0", len(c.turns))
	}
}

func TestConversationHistoryBounded(t *testing.T) {
	t.Parallel()

	fake := &fakeCompleter{reply: "r"}
	c := &Conversation{log: discardLogger(), opts: Options{Model: "m"}, comp: fake}
	for i := 0; i < maxHistoryTurns; i++ {
		if _, err := c.Invoke(context.Background(), "prompt"); err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
	}
	if len(c.turns) > maxHistoryTurns {
		t.Fatalf("turns=%d, want at most %d", len(c.turns), maxHistoryTurns)
	}
}

func TestReviewerIsSingleTurn(t *testing.T) {
	t.Parallel()

	fake := &fakeCompleter{reply: "APPROVED: fine"}
	r := &Reviewer{log: discardLogger(), opts: Options{Model: "m"}, comp: fake}

	for i := 0; i < 3; i++ {
		if _, err := r.Invoke(context.Background(), "review this"); err != nil {
			t.Fatalf("invoke %d: %v", i, err)
		}
	}
	for i, call := range fake.calls {
		if len(call) != 1 {
			t.Fatalf("call %d turns=%d, want 1 (no persisted history)", i, len(call))
		}
	}
}

func TestNewReviewerPinsTemperature(t *testing.T) {
	t.Parallel()

	r, err := NewReviewer(Options{Provider: ProviderOpenAI, Model: "gpt-4o", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewReviewer: %v", err)
	}
	if r.opts.Temperature == nil || *r.opts.Temperature != reviewerTemperature {
		t.Fatalf("temperature=%v, want pinned %v", r.opts.Temperature, reviewerTemperature)
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	t.Parallel()

	c := &Conversation{log: discardLogger(), opts: Options{Model: "m"}, comp: &fakeCompleter{}}
	if _, err := c.Invoke(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
