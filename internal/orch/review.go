package orch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// reviewParentTurns bounds how much parent conversation is quoted in the
// review prompt.
const reviewParentTurns = 6

// Turn is one message of the parent conversation, quoted in review prompts.
type Turn struct {
	Role string
	Text string
}

// ConversationSource exposes the tail of the parent conversation to the
// review pipeline. Optional; reviews work without it.
type ConversationSource interface {
	RecentTurns(n int) []Turn
}

func buildTaskPrompt(description string, taskContext map[string]any) string {
	description = strings.TrimSpace(description)
	if len(taskContext) == 0 {
		return description
	}
	keys := make([]string, 0, len(taskContext))
	for k := range taskContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(description)
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, taskContext[k])
	}
	return strings.TrimSpace(b.String())
}

func buildReviewPrompt(w *Worker, rec TaskRecord, draft string, turns []Turn) string {
	var b strings.Builder
	b.WriteString("You are a quality reviewer. Evaluate the draft below and answer with exactly one verdict line.\n")
	b.WriteString("Start your reply with \"APPROVED:\" if the draft fulfils the task,\n")
	b.WriteString("\"REVISION:\" followed by what must change if it needs another pass,\n")
	b.WriteString("or \"REJECTED:\" followed by the reason if it cannot be salvaged.\n")
	if len(turns) > 0 {
		b.WriteString("\nRecent conversation for context:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "[%s] %s\n", t.Role, strings.TrimSpace(t.Text))
		}
	}
	fmt.Fprintf(&b, "\nTask given to worker %q (%s):\n%s\n", w.Name(), w.Purpose(), strings.TrimSpace(rec.Description))
	fmt.Fprintf(&b, "\nDraft result:\n%s\n", strings.TrimSpace(draft))
	return b.String()
}

func buildRevisionPrompt(rec TaskRecord, feedback string) string {
	var b strings.Builder
	b.WriteString("A reviewer asked for changes to your previous result.\n")
	fmt.Fprintf(&b, "\nReviewer feedback:\n%s\n", strings.TrimSpace(feedback))
	fmt.Fprintf(&b, "\nOriginal task:\n%s\n", strings.TrimSpace(rec.Description))
	b.WriteString("\nProduce a revised result that addresses the feedback.\n")
	return b.String()
}

func annotateApproved(draft, feedback string) string {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return draft + "\n\n[Review: Approved]"
	}
	return draft + "\n\n[Review: Approved - " + feedback + "]"
}

// reviewOnce runs a single review round: acquire a reviewer slot, dispatch a
// fresh single-turn reviewer, and race its response against the timeout. The
// slot is held only while awaiting the response and is released on every
// exit path. A timeout is not an error: the round resolves as approval with
// FeedbackReviewTimedOut. A reviewer invocation fault does surface as an
// error and fails the task at the dispatch boundary.
func (o *Orchestrator) reviewOnce(ctx context.Context, prompt string, prefs OrchestrationPrefs) (Verdict, error) {
	select {
	case o.reviewSlots <- struct{}{}:
	case <-ctx.Done():
		return Verdict{}, ctx.Err()
	}
	defer func() { <-o.reviewSlots }()

	reviewer, err := o.newReviewer(prefs.ReviewerModel)
	if err != nil {
		return Verdict{}, fmt.Errorf("construct reviewer: %w", err)
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type reviewOut struct {
		text string
		err  error
	}
	ch := make(chan reviewOut, 1)
	go func() {
		text, err := reviewer.Invoke(rctx, prompt)
		ch <- reviewOut{text: text, err: err}
	}()

	timer := time.NewTimer(prefs.ReviewTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return Verdict{Status: VerdictApproved, Feedback: FeedbackReviewTimedOut}, nil
	case out := <-ch:
		if out.err != nil {
			return Verdict{}, fmt.Errorf("reviewer invocation: %w", out.err)
		}
		return ParseVerdict(out.text), nil
	}
}

// runReviewLoop drives the bounded review/revision protocol for one task.
// Revisions always go back to the same worker so its conversational context
// carries across rounds. Returns (success, final result text).
func (o *Orchestrator) runReviewLoop(ctx context.Context, w *Worker, invoker Invoker, rec TaskRecord, draft string, prefs OrchestrationPrefs) (bool, string, error) {
	for {
		o.setWorkerStatus(w, WorkerStatusBeingReviewed)

		var turns []Turn
		if o.history != nil {
			turns = o.history.RecentTurns(reviewParentTurns)
		}
		verdict, err := o.reviewOnce(ctx, buildReviewPrompt(w, rec, draft, turns), prefs)
		if err != nil {
			return false, "", err
		}

		switch verdict.Status {
		case VerdictApproved:
			return true, annotateApproved(draft, verdict.Feedback), nil
		case VerdictRejected:
			return false, "Task rejected by reviewer: " + verdict.Feedback, nil
		case VerdictRevisionRequested:
			if w.RevisionCount() >= prefs.MaxRevisions {
				return false, fmt.Sprintf("Revision limit reached (%d revisions). Last reviewer feedback: %s", prefs.MaxRevisions, verdict.Feedback), nil
			}
			w.incrementRevision()
			o.setWorkerStatus(w, WorkerStatusRevising)
			draft, err = invoker.Invoke(ctx, buildRevisionPrompt(rec, verdict.Feedback))
			if err != nil {
				return false, "", err
			}
		default:
			return false, "", fmt.Errorf("unexpected verdict status %q", verdict.Status)
		}
	}
}
