package model

import (
	"errors"
	"time"
)

var (
	// ErrUnclassified - activity has no project (no directory hit, or an ambiguous one)
	ErrUnclassified = errors.New("unclassified")

	// ErrWindowRejected - no non-overlapping window long enough exists
	ErrWindowRejected = errors.New("overlaps existing activity")

	// ErrSinkFailure - the time-tracking service refused or failed the commit
	ErrSinkFailure = errors.New("sink error")

	// ErrNoMatch - no participant domain (or candidate SKU) is known
	ErrNoMatch = errors.New("no match")

	// ErrAmbiguous - matched domains disagree on the project
	ErrAmbiguous = errors.New("ambiguous domains")

	// ErrAmbiguousPriority - two or more candidates share the top priority rank
	ErrAmbiguousPriority = errors.New("ambiguous priority")

	// ErrInvalidDirectory - a directory row lacks required identifiers
	ErrInvalidDirectory = errors.New("invalid directory row")
)

// Status is the terminal state of one processed activity.
type Status string

const (
	StatusLogged  Status = "logged"
	StatusSkipped Status = "skipped"
)

// Skip reasons recorded alongside StatusSkipped.
const (
	ReasonUnclassified = "unclassified"
	ReasonOverlaps     = "overlaps-existing-activity"
	ReasonSinkError    = "sink-error"
)

// ReasonFor maps a processing error onto its recorded skip reason.
func ReasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnclassified):
		return ReasonUnclassified
	case errors.Is(err, ErrWindowRejected):
		return ReasonOverlaps
	case errors.Is(err, ErrSinkFailure):
		return ReasonSinkError
	default:
		return err.Error()
	}
}

// ClassificationLabel is the short string stored for a failed classification.
func ClassificationLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAmbiguous):
		return "ambiguous"
	case errors.Is(err, ErrAmbiguousPriority):
		return "ambiguous-priority"
	case errors.Is(err, ErrNoMatch):
		return "no-match"
	default:
		return "error"
	}
}

// Outcome records what happened to one activity (or one of its auxiliary
// preparation/follow-up windows) during a run.
type Outcome struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	ActivityID string    `json:"activity_id"`
	Kind       Kind      `json:"kind"`
	Role       string    `json:"role,omitempty"` // "primary", "preparation", "follow-up"
	Label      string    `json:"label"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ProjectID  string    `json:"project_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Outcome roles.
const (
	OutcomePrimary     = "primary"
	OutcomePreparation = "preparation"
	OutcomeFollowUp    = "follow-up"
)
