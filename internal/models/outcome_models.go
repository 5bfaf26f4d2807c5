package models

type OutcomeKind int

// The zero OutcomeKind is not a valid kind, so an unset outcome never passes
// for a successful classification.
const (
	// OutcomeOK means the classifier answered and its fields are used as-is.
	OutcomeOK OutcomeKind = iota + 1
	// OutcomeFallback means the call failed and safe defaults were substituted.
	OutcomeFallback
	// OutcomeDisabled means the classifier is not configured. Not an error.
	OutcomeDisabled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeFallback:
		return "fallback"
	case OutcomeDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

func (k OutcomeKind) Valid() bool {
	return k == OutcomeOK || k == OutcomeFallback || k == OutcomeDisabled
}

type ModerationOutcome struct {
	Kind           OutcomeKind
	Flagged        bool
	Categories     map[string]bool
	CategoryScores map[string]float64
}

func ModerationFallback() ModerationOutcome {
	return ModerationOutcome{
		Kind:           OutcomeFallback,
		Categories:     map[string]bool{},
		CategoryScores: map[string]float64{},
	}
}

type SpamOutcome struct {
	Kind               OutcomeKind
	IsSpam             bool
	SpamProbability    float64
	NonSpamProbability float64
}

func SpamDefault(kind OutcomeKind) SpamOutcome {
	return SpamOutcome{
		Kind:               kind,
		SpamProbability:    DefaultSpamProbability,
		NonSpamProbability: DefaultNonSpamProbability,
	}
}
