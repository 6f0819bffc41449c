package orch

import "time"

const (
	DefaultMaxConcurrentReviews = 25
	DefaultMaxRevisions         = 3
	DefaultReviewTimeout        = 60 * time.Second
)

// OrchestrationPrefs are the tunables supplied by the preferences
// collaborator. The orchestrator reads them at dispatch time, not once at
// construction, so edits to the preferences file apply to new dispatches.
// The two pool sizes are the exception: they size fixed structures and are
// read once in New.
type OrchestrationPrefs struct {
	MaxWorkers           int
	MaxConcurrentReviews int

	ReviewEnabled bool
	MaxRevisions  int
	ReviewTimeout time.Duration
	ReviewerModel string

	DefaultModel           string
	DefaultTemperature     *float64
	DefaultMaxOutputTokens int
}

func (p OrchestrationPrefs) withDefaults() OrchestrationPrefs {
	if p.MaxWorkers <= 0 {
		p.MaxWorkers = DefaultMaxWorkers
	}
	if p.MaxConcurrentReviews <= 0 {
		p.MaxConcurrentReviews = DefaultMaxConcurrentReviews
	}
	if p.MaxRevisions <= 0 {
		p.MaxRevisions = DefaultMaxRevisions
	}
	if p.ReviewTimeout <= 0 {
		p.ReviewTimeout = DefaultReviewTimeout
	}
	return p
}

// Preferences supplies orchestration defaults. Implementations may re-read a
// config file on every call.
type Preferences interface {
	Orchestration() OrchestrationPrefs
}

// StaticPreferences is a fixed Preferences implementation, used by tests and
// one-shot tools.
type StaticPreferences struct {
	Prefs OrchestrationPrefs
}

func (s StaticPreferences) Orchestration() OrchestrationPrefs {
	return s.Prefs.withDefaults()
}
