package store

import (
	"context"
	"sync"
	"time"

	"github.com/luminet/dimmerd/core/events"
	"github.com/luminet/dimmerd/core/logger"
	coremetrics "github.com/luminet/dimmerd/core/metrics"
	"github.com/luminet/dimmerd/core/model"
	"github.com/luminet/dimmerd/internal/eventbus"
)

// PollerConfig defines change-detection parameters.
type PollerConfig struct {
	// IntervalSeconds is the poll period.
	IntervalSeconds int `json:"interval_seconds"`
	// EventWindowHours bounds how far ahead calendar events are loaded.
	EventWindowHours int `json:"event_window_hours"`
	// AlertAfterSeconds escalates store unavailability to an operational
	// alert once exceeded. Dispatch continues on the last-known-good
	// snapshot either way.
	AlertAfterSeconds int `json:"alert_after_seconds"`
}

// SetDefaults applies sane defaults.
func (c *PollerConfig) SetDefaults() {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 30
	}
	if c.EventWindowHours == 0 {
		c.EventWindowHours = 48
	}
	if c.AlertAfterSeconds == 0 {
		c.AlertAfterSeconds = 300
	}
}

// Poller derives change notifications by diffing periodic snapshots of the
// store. On read failure it keeps the last-known-good snapshot in effect:
// clearing the schedule would silently stop all future dispatch.
type Poller struct {
	store    Store
	interval time.Duration
	window   time.Duration
	alertAt  time.Duration
	bus      *eventbus.Bus[Change]
	alerts   *eventbus.Bus[events.Event]
	log      logger.Logger
	metrics  coremetrics.StoreOutageRecorder
	kick     chan struct{}
	now      func() time.Time

	mu           sync.Mutex
	snapshot     Snapshot
	failingSince time.Time
	alerted      bool
}

// NewPoller creates a Poller. sink and alerts may be nil.
func NewPoller(s Store, cfg PollerConfig, sink coremetrics.StoreOutageRecorder, alerts *eventbus.Bus[events.Event], log logger.Logger) *Poller {
	cfg.SetDefaults()
	return &Poller{
		store:    s,
		interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		window:   time.Duration(cfg.EventWindowHours) * time.Hour,
		alertAt:  time.Duration(cfg.AlertAfterSeconds) * time.Second,
		bus:      eventbus.New[Change](),
		alerts:   alerts,
		log:      log,
		metrics:  sink,
		kick:     make(chan struct{}, 1),
		now:      time.Now,
		snapshot: emptySnapshot(),
	}
}

// Subscribe returns a channel of change notifications.
func (p *Poller) Subscribe() <-chan Change { return p.bus.Subscribe() }

// Kick requests an immediate poll, used by file watchers and tests.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Snapshot returns the last-known-good view.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := emptySnapshot()
	for k, v := range p.snapshot.Profiles {
		snap.Profiles[k] = v
	}
	for k, v := range p.snapshot.Events {
		snap.Events[k] = v
	}
	return snap
}

// Sync polls once, updating the snapshot and publishing the diff. It is
// called by Run and directly during startup so the first schedule load is
// synchronous.
func (p *Poller) Sync(ctx context.Context) error {
	now := p.now()
	profiles, err := p.store.ListActiveProfiles(ctx)
	if err != nil {
		p.noteFailure(err)
		return err
	}
	eventsList, err := p.store.ListPendingCalendarEvents(ctx, now, now.Add(p.window))
	if err != nil {
		p.noteFailure(err)
		return err
	}

	next := emptySnapshot()
	for _, prof := range profiles {
		if err := prof.Validate(); err != nil {
			p.log.Warnf("rejecting profile at ingestion: %v", err)
			continue
		}
		next.Profiles[prof.SourceID()] = prof
	}
	for _, ev := range eventsList {
		if err := ev.Validate(); err != nil {
			p.log.Warnf("rejecting calendar event at ingestion: %v", err)
			continue
		}
		next.Events[ev.SourceID()] = ev
	}

	p.mu.Lock()
	prev := p.snapshot
	p.snapshot = next
	p.failingSince = time.Time{}
	p.alerted = false
	p.mu.Unlock()

	p.publishDiff(prev, next)
	return nil
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.bus.Close()
			return
		case <-ticker.C:
		case <-p.kick:
		}
		if err := p.Sync(ctx); err != nil && ctx.Err() == nil {
			p.log.Warnf("store poll failed, keeping last-known-good snapshot: %v", err)
		}
	}
}

func (p *Poller) noteFailure(err error) {
	p.mu.Lock()
	if p.failingSince.IsZero() {
		p.failingSince = p.now()
	}
	since := p.failingSince
	outage := p.now().Sub(since)
	shouldAlert := outage >= p.alertAt && !p.alerted
	if shouldAlert {
		p.alerted = true
	}
	p.mu.Unlock()

	if shouldAlert {
		p.log.Errorf("store unreachable for %s, dispatch continues on stale schedule: %v", outage.Round(time.Second), err)
		if p.alerts != nil {
			p.alerts.Publish(events.StoreUnavailable{Since: since, Err: err})
		}
		if p.metrics != nil {
			if merr := p.metrics.RecordStoreOutage(outage); merr != nil {
				p.log.Errorf("outage metrics error: %v", merr)
			}
		}
	}
}

func (p *Poller) publishDiff(prev, next Snapshot) {
	for id, prof := range next.Profiles {
		old, ok := prev.Profiles[id]
		if !ok || old != prof {
			pr := prof
			p.bus.Publish(Change{Kind: SourceUpserted, SourceID: id, Profile: &pr})
		}
	}
	for id := range prev.Profiles {
		if _, ok := next.Profiles[id]; !ok {
			p.bus.Publish(Change{Kind: SourceRemoved, SourceID: id})
		}
	}
	for id, ev := range next.Events {
		old, ok := prev.Events[id]
		if !ok || !eventEqual(old, ev) {
			e := ev
			p.bus.Publish(Change{Kind: SourceUpserted, SourceID: id, Event: &e})
		}
	}
	for id := range prev.Events {
		if _, ok := next.Events[id]; !ok {
			p.bus.Publish(Change{Kind: SourceRemoved, SourceID: id})
		}
	}
}

func eventEqual(a, b model.CalendarEvent) bool {
	return a.ID == b.ID && a.AccountID == b.AccountID && a.Target == b.Target &&
		a.Command == b.Command && a.Start.Equal(b.Start) && a.End.Equal(b.End)
}
