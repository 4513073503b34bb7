// Package astro resolves sunset and sunrise instants for a coordinate and
// calendar date. Results are deterministic per (coordinate, date) key and
// cached.
package astro

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"github.com/luminet/dimmerd/core/model"
)

// ErrNoSunEvent is returned for polar dates on which the sun never rises or
// never sets. Callers skip the affected anchors instead of failing.
var ErrNoSunEvent = errors.New("sun does not rise or set on this date")

// SunTimes holds the resolved instants for one date, in UTC.
type SunTimes struct {
	Sunrise time.Time
	Sunset  time.Time
}

// Resolver computes sun times for a coordinate and date.
type Resolver interface {
	Resolve(loc model.Coordinate, date time.Time) (SunTimes, error)
}

// CachingResolver wraps the solar computation with a per (coordinate, date)
// cache. The zero value is not usable; use NewResolver.
type CachingResolver struct {
	mu    sync.Mutex
	cache map[string]SunTimes
}

// NewResolver creates a CachingResolver.
func NewResolver() *CachingResolver {
	return &CachingResolver{cache: make(map[string]SunTimes)}
}

// Resolve returns the sunrise and sunset instants for the calendar date at
// the given coordinate. The date's year, month and day are taken as-is; its
// location only selects the civil day.
func (r *CachingResolver) Resolve(loc model.Coordinate, date time.Time) (SunTimes, error) {
	key := fmt.Sprintf("%.4f,%.4f,%s", loc.Lat, loc.Lon, date.Format("2006-01-02"))
	r.mu.Lock()
	st, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return st, nil
	}

	rise, set := sunrise.SunriseSunset(loc.Lat, loc.Lon, date.Year(), date.Month(), date.Day())
	if rise.IsZero() || set.IsZero() {
		return SunTimes{}, ErrNoSunEvent
	}
	st = SunTimes{Sunrise: rise.UTC(), Sunset: set.UTC()}

	r.mu.Lock()
	r.cache[key] = st
	r.mu.Unlock()
	return st, nil
}
