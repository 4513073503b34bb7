package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/luminet/dimmerd/core/events"
	"github.com/luminet/dimmerd/core/model"
	"github.com/luminet/dimmerd/infra/logger"
	"github.com/luminet/dimmerd/internal/eventbus"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles []model.DimmingProfile
	events   []model.CalendarEvent
	err      error
}

func (f *fakeStore) ListActiveProfiles(context.Context) ([]model.DimmingProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.DimmingProfile(nil), f.profiles...), nil
}

func (f *fakeStore) ListPendingCalendarEvents(_ context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var res []model.CalendarEvent
	for _, e := range f.events {
		if !e.Start.Before(from) && e.Start.Before(to) {
			res = append(res, e)
		}
	}
	return res, nil
}

func (f *fakeStore) set(profiles []model.DimmingProfile, events []model.CalendarEvent, err error) {
	f.mu.Lock()
	f.profiles, f.events, f.err = profiles, events, err
	f.mu.Unlock()
}

func validProfile(id int64) model.DimmingProfile {
	return model.DimmingProfile{
		ID:               id,
		MulticastGroupID: "mg-1",
		Active:           true,
		SunsetCmd0:       model.Dim(50),
		SunsetCmd1:       model.TurnOn(),
		H2000Cmd:         model.Dim(80),
		H2200Cmd:         model.Dim(60),
		H0000Cmd:         model.Dim(40),
		H0200Cmd:         model.Dim(30),
		H0400Cmd:         model.Dim(50),
		SunriseCmd0:      model.Dim(20),
		SunriseCmd1:      model.TurnOff(),
	}
}

func collect(ch <-chan Change, n int, t *testing.T) []Change {
	t.Helper()
	var got []Change
	for len(got) < n {
		select {
		case c := <-ch:
			got = append(got, c)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d changes, want %d", len(got), n)
		}
	}
	return got
}

func TestSyncPublishesUpserts(t *testing.T) {
	fs := &fakeStore{}
	fs.set([]model.DimmingProfile{validProfile(1)}, nil, nil)
	p := NewPoller(fs, PollerConfig{}, nil, nil, logger.NopLogger{})
	sub := p.Subscribe()

	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got := collect(sub, 1, t)
	if got[0].Kind != SourceUpserted || got[0].SourceID != "profile:1" || got[0].Profile == nil {
		t.Fatalf("change = %+v", got[0])
	}

	// Identical content produces no further notifications.
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	select {
	case c := <-sub:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSyncPublishesEditsAndRemovals(t *testing.T) {
	fs := &fakeStore{}
	fs.set([]model.DimmingProfile{validProfile(1)}, nil, nil)
	p := NewPoller(fs, PollerConfig{}, nil, nil, logger.NopLogger{})
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	sub := p.Subscribe()

	edited := validProfile(1)
	edited.H2200Cmd = model.Dim(45)
	fs.set([]model.DimmingProfile{edited}, nil, nil)
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got := collect(sub, 1, t)
	if got[0].Kind != SourceUpserted || got[0].Profile.H2200Cmd != model.Dim(45) {
		t.Fatalf("edit change = %+v", got[0])
	}

	fs.set(nil, nil, nil)
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got = collect(sub, 1, t)
	if got[0].Kind != SourceRemoved || got[0].SourceID != "profile:1" {
		t.Fatalf("removal change = %+v", got[0])
	}
}

func TestSyncKeepsLastKnownGoodOnFailure(t *testing.T) {
	fs := &fakeStore{}
	fs.set([]model.DimmingProfile{validProfile(1)}, nil, nil)
	p := NewPoller(fs, PollerConfig{}, nil, nil, logger.NopLogger{})
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	fs.set(nil, nil, errors.New("connection refused"))
	if err := p.Sync(context.Background()); err == nil {
		t.Fatal("expected poll error")
	}
	snap := p.Snapshot()
	if len(snap.Profiles) != 1 {
		t.Fatalf("last-known-good snapshot lost: %+v", snap)
	}
}

func TestSyncRejectsInvalidRecordsAtIngestion(t *testing.T) {
	fs := &fakeStore{}
	bad := validProfile(2)
	bad.H0000Cmd = model.Dim(250)
	start := time.Now().Add(time.Hour)
	fs.set(
		[]model.DimmingProfile{validProfile(1), bad},
		[]model.CalendarEvent{{
			ID:      9,
			Target:  model.Target{Kind: model.TargetDevice, ID: "eui-1"},
			Command: model.TurnOff(),
			Start:   start,
			End:     start.Add(-time.Minute),
		}},
		nil,
	)
	p := NewPoller(fs, PollerConfig{}, nil, nil, logger.NopLogger{})
	if err := p.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	snap := p.Snapshot()
	if len(snap.Profiles) != 1 {
		t.Fatalf("invalid profile entered snapshot: %+v", snap.Profiles)
	}
	if len(snap.Events) != 0 {
		t.Fatalf("invalid event entered snapshot: %+v", snap.Events)
	}
}

func TestOutagePastThresholdPublishesAlert(t *testing.T) {
	fs := &fakeStore{}
	fs.set(nil, nil, errors.New("database is locked"))

	alerts := eventbus.New[events.Event]()
	sub := alerts.Subscribe()
	p := NewPoller(fs, PollerConfig{AlertAfterSeconds: 60}, nil, alerts, logger.NopLogger{})

	t0 := time.Now()
	p.now = func() time.Time { return t0 }
	if err := p.Sync(context.Background()); err == nil {
		t.Fatal("sync succeeded against a failing store")
	}
	select {
	case ev := <-sub:
		t.Fatalf("alerted before the threshold: %+v", ev)
	default:
	}

	p.now = func() time.Time { return t0.Add(2 * time.Minute) }
	if err := p.Sync(context.Background()); err == nil {
		t.Fatal("sync succeeded against a failing store")
	}
	select {
	case ev := <-sub:
		su, ok := ev.(events.StoreUnavailable)
		if !ok {
			t.Fatalf("published %T, want StoreUnavailable", ev)
		}
		if !su.Since.Equal(t0) {
			t.Fatalf("outage since %s, want %s", su.Since, t0)
		}
	default:
		t.Fatal("no alert published past the threshold")
	}

	// The alert fires once per outage.
	p.now = func() time.Time { return t0.Add(3 * time.Minute) }
	if err := p.Sync(context.Background()); err == nil {
		t.Fatal("sync succeeded against a failing store")
	}
	select {
	case ev := <-sub:
		t.Fatalf("alerted twice for one outage: %+v", ev)
	default:
	}
}

func TestRunReactsToKick(t *testing.T) {
	fs := &fakeStore{}
	p := NewPoller(fs, PollerConfig{IntervalSeconds: 3600}, nil, nil, logger.NopLogger{})
	sub := p.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	fs.set([]model.DimmingProfile{validProfile(1)}, nil, nil)
	p.Kick()
	collect(sub, 1, t)
}
