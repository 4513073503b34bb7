package model

import "time"

// ScheduledFire is an ephemeral, derived (source, target, instant, command)
// record held in the schedule index until it becomes due. The source profile
// or event record stays authoritative; fires are recomputed, never persisted.
type ScheduledFire struct {
	SourceID string
	Anchor   AnchorName // empty for calendar events
	Target   Target
	At       time.Time
	Command  Command
}

// AttemptOutcome is the lifecycle state of a dispatch attempt record.
type AttemptOutcome string

const (
	OutcomePending    AttemptOutcome = "pending"
	OutcomeDelivered  AttemptOutcome = "delivered"
	OutcomeFailed     AttemptOutcome = "failed"
	OutcomeAbandoned  AttemptOutcome = "abandoned"
	OutcomeSuperseded AttemptOutcome = "superseded"
)

// Terminal reports whether the outcome is final.
func (o AttemptOutcome) Terminal() bool { return o != OutcomePending }

// DispatchAttempt records the delivery lifecycle of one due fire. Created and
// mutated only by the dispatcher, retained for the "latest command sent"
// read path.
type DispatchAttempt struct {
	ID        string
	SourceID  string
	Target    Target
	Command   Command
	FireAt    time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	Attempts  int
	LastError string
	Outcome   AttemptOutcome
}
