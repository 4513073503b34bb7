package astro

import (
	"errors"
	"testing"
	"time"

	"github.com/luminet/dimmerd/core/model"
)

// Santo Domingo, the deployment the original fleet runs in.
var santoDomingo = model.Coordinate{Lat: 18.4861, Lon: -69.9312}

func TestResolveTropicalLatitude(t *testing.T) {
	r := NewResolver()
	date := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	st, err := r.Resolve(santoDomingo, date)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !st.Sunrise.Before(st.Sunset) {
		t.Fatalf("sunrise %v not before sunset %v", st.Sunrise, st.Sunset)
	}
	if st.Sunrise.Day() != 21 && st.Sunrise.Day() != 20 {
		t.Fatalf("sunrise %v not anchored to requested date", st.Sunrise)
	}
	// Santo Domingo is UTC-4: sunset near 19:00 local is 23:00 UTC.
	if h := st.Sunset.Hour(); h < 22 {
		t.Fatalf("unexpected sunset hour %d UTC", h)
	}
}

func TestResolvePolarNight(t *testing.T) {
	r := NewResolver()
	svalbard := model.Coordinate{Lat: 78.2232, Lon: 15.6267}
	date := time.Date(2025, 12, 21, 0, 0, 0, 0, time.UTC)
	_, err := r.Resolve(svalbard, date)
	if !errors.Is(err, ErrNoSunEvent) {
		t.Fatalf("expected ErrNoSunEvent, got %v", err)
	}
}

func TestResolveIsDeterministicAndCached(t *testing.T) {
	r := NewResolver()
	date := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	a, err := r.Resolve(santoDomingo, date)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b, err := r.Resolve(santoDomingo, date)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a != b {
		t.Fatalf("cached result differs: %+v vs %+v", a, b)
	}
}
