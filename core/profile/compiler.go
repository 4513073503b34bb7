// Package profile expands dimming profiles into concrete scheduled fires.
//
// A lighting day for a profile spans sunset on the calendar date D through
// sunrise on D+1: the nine anchors are emitted in that window so they stay
// strictly increasing within one compiled day.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/luminet/dimmerd/core/astro"
	"github.com/luminet/dimmerd/core/logger"
	"github.com/luminet/dimmerd/core/model"
)

// Offsets of the two sunset and sunrise anchors relative to the resolved
// instants. These are compiler constants: operators pick the commands, not
// the timing.
const (
	sunsetOffset0  = 0
	sunsetOffset1  = 15 * time.Minute
	sunriseOffset0 = -15 * time.Minute
	sunriseOffset1 = 0
)

// Compiler expands profiles and calendar events into scheduled fires.
type Compiler struct {
	resolver astro.Resolver
	tz       *time.Location
	log      logger.Logger
}

// New creates a Compiler emitting fixed-hour anchors in the given local
// timezone.
func New(resolver astro.Resolver, tz *time.Location, log logger.Logger) *Compiler {
	return &Compiler{resolver: resolver, tz: tz, log: log}
}

// Compile expands one profile for the lighting day starting at sunset on
// date. Fires already in the past are still returned; discarding or
// coalescing them is the schedule index's concern. Sun-anchored commands are
// skipped for dates without a sunset or sunrise.
func (c *Compiler) Compile(p model.DimmingProfile, date time.Time) ([]model.ScheduledFire, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, c.tz)
	next := day.AddDate(0, 0, 1)
	target := p.Target()
	source := p.SourceID()

	var fires []model.ScheduledFire
	add := func(name model.AnchorName, at time.Time, cmd model.Command) {
		fires = append(fires, model.ScheduledFire{
			SourceID: source,
			Anchor:   name,
			Target:   target,
			At:       at.UTC(),
			Command:  cmd,
		})
	}

	if st, err := c.resolver.Resolve(p.Location, day); err == nil {
		add(model.AnchorSunset0, st.Sunset.Add(sunsetOffset0), p.SunsetCmd0)
		add(model.AnchorSunset1, st.Sunset.Add(sunsetOffset1), p.SunsetCmd1)
	} else if errors.Is(err, astro.ErrNoSunEvent) {
		c.log.Warnf("profile %d: no sunset on %s, skipping sunset anchors", p.ID, day.Format("2006-01-02"))
	} else {
		return nil, fmt.Errorf("resolve sunset for %s: %w", day.Format("2006-01-02"), err)
	}

	add(model.AnchorH2000, time.Date(day.Year(), day.Month(), day.Day(), 20, 0, 0, 0, c.tz), p.H2000Cmd)
	add(model.AnchorH2200, time.Date(day.Year(), day.Month(), day.Day(), 22, 0, 0, 0, c.tz), p.H2200Cmd)
	add(model.AnchorH0000, time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, c.tz), p.H0000Cmd)
	add(model.AnchorH0200, time.Date(next.Year(), next.Month(), next.Day(), 2, 0, 0, 0, c.tz), p.H0200Cmd)
	add(model.AnchorH0400, time.Date(next.Year(), next.Month(), next.Day(), 4, 0, 0, 0, c.tz), p.H0400Cmd)

	if st, err := c.resolver.Resolve(p.Location, next); err == nil {
		add(model.AnchorSunrise0, st.Sunrise.Add(sunriseOffset0), p.SunriseCmd0)
		add(model.AnchorSunrise1, st.Sunrise.Add(sunriseOffset1), p.SunriseCmd1)
	} else if errors.Is(err, astro.ErrNoSunEvent) {
		c.log.Warnf("profile %d: no sunrise on %s, skipping sunrise anchors", p.ID, next.Format("2006-01-02"))
	} else {
		return nil, fmt.Errorf("resolve sunrise for %s: %w", next.Format("2006-01-02"), err)
	}

	sort.Slice(fires, func(i, j int) bool { return fires[i].At.Before(fires[j].At) })
	return fires, nil
}

// CompileHorizon expands the profile for n consecutive lighting days starting
// at from.
func (c *Compiler) CompileHorizon(p model.DimmingProfile, from time.Time, days int) ([]model.ScheduledFire, error) {
	var all []model.ScheduledFire
	for i := 0; i < days; i++ {
		fires, err := c.Compile(p, from.AddDate(0, 0, i))
		if err != nil {
			return nil, err
		}
		all = append(all, fires...)
	}
	return all, nil
}

// CompileEvent turns a calendar event into its single fire at start.
func (c *Compiler) CompileEvent(e model.CalendarEvent) ([]model.ScheduledFire, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return []model.ScheduledFire{{
		SourceID: e.SourceID(),
		Target:   e.Target,
		At:       e.Start.UTC(),
		Command:  e.Command,
	}}, nil
}
