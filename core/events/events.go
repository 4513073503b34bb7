// Package events defines the events published on the internal bus.
package events

import (
	"time"

	"github.com/luminet/dimmerd/core/model"
)

// Event is any event carried on the bus.
type Event interface{}

// ScheduleChanged signals that the fires derived from a source were
// recompiled, added or removed. The clock loop re-arms on it.
type ScheduleChanged struct {
	SourceID string
	Reason   string
}

// FireDue signals that a fire reached its instant and was handed to the
// dispatch queue.
type FireDue struct {
	Fire model.ScheduledFire
}

// AttemptUpdated signals a dispatch attempt state change.
type AttemptUpdated struct {
	Attempt model.DispatchAttempt
	Latency time.Duration
}

// StoreUnavailable signals that the external store has been unreachable
// longer than the alert threshold.
type StoreUnavailable struct {
	Since time.Time
	Err   error
}
