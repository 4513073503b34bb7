// Package store is the read-only boundary to the externally owned profile
// and calendar-event records.
package store

import (
	"context"
	"time"

	"github.com/luminet/dimmerd/core/model"
)

// Store reads dimming profiles and calendar events. Records are owned by the
// external API/database; the scheduler never mutates them.
type Store interface {
	ListActiveProfiles(ctx context.Context) ([]model.DimmingProfile, error)
	// ListPendingCalendarEvents returns events whose start falls in
	// [from, to).
	ListPendingCalendarEvents(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error)
}

// ChangeKind discriminates change notifications.
type ChangeKind int

const (
	SourceUpserted ChangeKind = iota
	SourceRemoved
)

func (k ChangeKind) String() string {
	if k == SourceRemoved {
		return "removed"
	}
	return "upserted"
}

// Change notifies the scheduler that a source was added, edited or removed.
// Exactly one of Profile and Event is set for upserts.
type Change struct {
	Kind     ChangeKind
	SourceID string
	Profile  *model.DimmingProfile
	Event    *model.CalendarEvent
}

// Snapshot is the last-known-good view of the store, keyed by source id.
type Snapshot struct {
	Profiles map[string]model.DimmingProfile
	Events   map[string]model.CalendarEvent
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Profiles: make(map[string]model.DimmingProfile),
		Events:   make(map[string]model.CalendarEvent),
	}
}
