package model

import (
	"fmt"
	"time"
)

// AnchorName identifies one of the nine daily anchors of a dimming profile,
// in cyclic order: sunset0, sunset1, the five fixed hours, sunrise0, sunrise1.
type AnchorName string

const (
	AnchorSunset0  AnchorName = "sunset0"
	AnchorSunset1  AnchorName = "sunset1"
	AnchorH2000    AnchorName = "h2000"
	AnchorH2200    AnchorName = "h2200"
	AnchorH0000    AnchorName = "h0000"
	AnchorH0200    AnchorName = "h0200"
	AnchorH0400    AnchorName = "h0400"
	AnchorSunrise0 AnchorName = "sunrise0"
	AnchorSunrise1 AnchorName = "sunrise1"
)

// Anchor couples an anchor name with the command attached to it.
type Anchor struct {
	Name    AnchorName
	Command Command
}

// Coordinate is a geographic point used to resolve sunset and sunrise.
type Coordinate struct {
	Lat float64
	Lon float64
}

// DimmingProfile is a reusable 24-hour lighting plan targeting a multicast
// group. The scheduler only observes active profiles; records are owned by
// the external store.
type DimmingProfile struct {
	ID               int64
	AccountID        int64
	MulticastGroupID string
	Active           bool
	Name             string
	Description      string
	Color            string
	Location         Coordinate

	SunsetCmd0  Command
	SunsetCmd1  Command
	H2000Cmd    Command
	H2200Cmd    Command
	H0000Cmd    Command
	H0200Cmd    Command
	H0400Cmd    Command
	SunriseCmd0 Command
	SunriseCmd1 Command
}

// Anchors returns the nine anchored commands in cyclic daily order.
func (p DimmingProfile) Anchors() []Anchor {
	return []Anchor{
		{AnchorSunset0, p.SunsetCmd0},
		{AnchorSunset1, p.SunsetCmd1},
		{AnchorH2000, p.H2000Cmd},
		{AnchorH2200, p.H2200Cmd},
		{AnchorH0000, p.H0000Cmd},
		{AnchorH0200, p.H0200Cmd},
		{AnchorH0400, p.H0400Cmd},
		{AnchorSunrise0, p.SunriseCmd0},
		{AnchorSunrise1, p.SunriseCmd1},
	}
}

// Target returns the multicast group the profile addresses.
func (p DimmingProfile) Target() Target {
	return Target{Kind: TargetDeviceGroup, ID: p.MulticastGroupID}
}

// SourceID identifies the profile as a schedule source.
func (p DimmingProfile) SourceID() string { return fmt.Sprintf("profile:%d", p.ID) }

// Validate rejects malformed anchor commands.
func (p DimmingProfile) Validate() error {
	if p.MulticastGroupID == "" {
		return fmt.Errorf("profile %d: multicast group id is empty", p.ID)
	}
	for _, a := range p.Anchors() {
		if err := a.Command.Validate(); err != nil {
			return fmt.Errorf("profile %d anchor %s: %w", p.ID, a.Name, err)
		}
	}
	return nil
}

// CalendarEvent applies one command to a target at Start. End bounds the
// event's visible window and is never dispatched.
type CalendarEvent struct {
	ID        int64
	AccountID int64
	Target    Target
	Command   Command
	Start     time.Time
	End       time.Time
	Color     string
}

// SourceID identifies the event as a schedule source.
func (e CalendarEvent) SourceID() string { return fmt.Sprintf("event:%d", e.ID) }

// Validate checks the command and the time window invariant End >= Start.
func (e CalendarEvent) Validate() error {
	if err := e.Command.Validate(); err != nil {
		return fmt.Errorf("event %d: %w", e.ID, err)
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("event %d: end %s before start %s", e.ID, e.End, e.Start)
	}
	return nil
}
