package orch

import "strings"

type VerdictStatus string

const (
	VerdictApproved          VerdictStatus = "approved"
	VerdictRevisionRequested VerdictStatus = "revision_requested"
	VerdictRejected          VerdictStatus = "rejected"
)

// Verdict is the outcome of one review round.
type Verdict struct {
	Status   VerdictStatus
	Feedback string
}

const (
	verdictPrefixApproved = "approved:"
	verdictPrefixRevision = "revision:"
	verdictPrefixRejected = "rejected:"

	// FeedbackReviewTimedOut is the exact feedback recorded when the
	// reviewer does not respond within the configured timeout.
	FeedbackReviewTimedOut = "Review timed out - auto-approved"

	feedbackUnclearVerdict = "Review response unclear - defaulting to approved"
)

// ParseVerdict maps a reviewer's free-text response to a verdict by
// case-insensitive prefix. Anything that matches no prefix is treated as
// approval: the review stage fails open rather than blocking delivery on a
// reviewer that went off-script.
func ParseVerdict(text string) Verdict {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, verdictPrefixApproved):
		return Verdict{Status: VerdictApproved, Feedback: strings.TrimSpace(trimmed[len(verdictPrefixApproved):])}
	case strings.HasPrefix(lower, verdictPrefixRevision):
		return Verdict{Status: VerdictRevisionRequested, Feedback: strings.TrimSpace(trimmed[len(verdictPrefixRevision):])}
	case strings.HasPrefix(lower, verdictPrefixRejected):
		return Verdict{Status: VerdictRejected, Feedback: strings.TrimSpace(trimmed[len(verdictPrefixRejected):])}
	default:
		return Verdict{Status: VerdictApproved, Feedback: feedbackUnclearVerdict}
	}
}
