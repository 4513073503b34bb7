package scheduler

import (
	"context"
	"time"

	"github.com/luminet/dimmerd/core/events"
	"github.com/luminet/dimmerd/core/logger"
	coremetrics "github.com/luminet/dimmerd/core/metrics"
	"github.com/luminet/dimmerd/core/model"
	"github.com/luminet/dimmerd/core/profile"
	"github.com/luminet/dimmerd/core/schedule"
	"github.com/luminet/dimmerd/core/store"
	"github.com/luminet/dimmerd/internal/eventbus"
)

// Source is the change feed the loop follows, implemented by store.Poller.
type Source interface {
	Subscribe() <-chan store.Change
	Snapshot() store.Snapshot
}

// Enqueuer hands due fires to the dispatch queue.
type Enqueuer interface {
	Enqueue(fire model.ScheduledFire)
}

// SupersededRecorder records coalesced fires that were never sent.
type SupersededRecorder interface {
	RecordSuperseded(ctx context.Context, fire model.ScheduledFire)
}

// WatermarkStore persists the instant of the last enqueued fire across
// restarts. Satisfied by logging.Store.
type WatermarkStore interface {
	Watermark(ctx context.Context) (time.Time, error)
	SetWatermark(ctx context.Context, t time.Time) error
}

// Params groups the loop collaborators.
type Params struct {
	Index    *schedule.Index
	Compiler *profile.Compiler
	Source   Source
	Queue    Enqueuer
	Recorder SupersededRecorder
	Marks    WatermarkStore
	Metrics  coremetrics.OccupancyRecorder
	Bus      *eventbus.Bus[events.Event]
	Log      logger.Logger
}

// Loop is the clock at the center of the scheduler. It sleeps until the
// earliest instant in the index, pops whatever became due, hands it to the
// dispatch queue and re-arms. Change notifications from the store interrupt
// the sleep so edits take effect before the next fire.
//
// Load and Run must be called from the same goroutine; Rebuild is safe to
// call from anywhere.
type Loop struct {
	cfg      Config
	index    *schedule.Index
	compiler *profile.Compiler
	source   Source
	queue    Enqueuer
	recorder SupersededRecorder
	marks    WatermarkStore
	metrics  coremetrics.OccupancyRecorder
	bus      *eventbus.Bus[events.Event]
	log      logger.Logger

	changes <-chan store.Change
	rebuild chan struct{}
	mark    time.Time
	now     func() time.Time
}

// NewLoop creates a Loop. Metrics and Bus may be nil.
func NewLoop(cfg Config, p Params) *Loop {
	cfg.SetDefaults()
	if p.Metrics == nil {
		p.Metrics = coremetrics.NopSink{}
	}
	return &Loop{
		cfg:      cfg,
		index:    p.Index,
		compiler: p.Compiler,
		source:   p.Source,
		queue:    p.Queue,
		recorder: p.Recorder,
		marks:    p.Marks,
		metrics:  p.Metrics,
		bus:      p.Bus,
		log:      p.Log,
		changes:  p.Source.Subscribe(),
		rebuild:  make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Load populates the index from the current store snapshot and resumes from
// the persisted watermark: fires at or before it were handled by a previous
// run and are discarded, fires between it and now are coalesced and the most
// recent one per target dispatched. With no watermark, a fresh install, past
// fires are discarded without dispatch.
func (l *Loop) Load(ctx context.Context) error {
	wm, err := l.marks.Watermark(ctx)
	if err != nil {
		return err
	}
	l.mark = wm

	snap := l.source.Snapshot()
	for _, prof := range snap.Profiles {
		l.indexProfile(prof)
	}
	for _, ev := range snap.Events {
		l.indexEvent(ev)
	}

	now := l.now()
	due, superseded := l.index.PopDue(now)
	for _, f := range superseded {
		if l.resumable(f, wm) {
			l.recorder.RecordSuperseded(ctx, f)
		}
	}
	enqueued := 0
	for _, f := range due {
		if !l.resumable(f, wm) {
			continue
		}
		l.dispatch(ctx, f)
		enqueued++
	}
	l.log.Infof("schedule loaded: %d fires indexed, %d resumed past watermark", l.index.Len(), enqueued)
	l.recordOccupancy()
	return nil
}

// resumable reports whether a fire missed while the process was down should
// still be acted on at startup.
func (l *Loop) resumable(f model.ScheduledFire, wm time.Time) bool {
	return !wm.IsZero() && f.At.After(wm)
}

// Run blocks until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	for {
		var wake <-chan time.Time
		var timer *time.Timer
		if next, ok := l.index.NextDue(); ok {
			d := next.Sub(l.now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			wake = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ch, ok := <-l.changes:
			if !ok {
				l.changes = nil
				break
			}
			l.applyChange(ch)
		case <-l.rebuild:
			l.rebuildAll()
		case <-wake:
			l.fireDue(ctx)
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Rebuild asks the loop to recompile every source over a fresh horizon. The
// daily rollover job calls it so the window keeps sliding forward.
func (l *Loop) Rebuild() {
	select {
	case l.rebuild <- struct{}{}:
	default:
	}
}

func (l *Loop) applyChange(ch store.Change) {
	switch {
	case ch.Kind == store.SourceRemoved:
		l.index.Remove(ch.SourceID)
	case ch.Profile != nil:
		l.indexProfile(*ch.Profile)
	case ch.Event != nil:
		l.indexEvent(*ch.Event)
	default:
		return
	}
	l.publish(events.ScheduleChanged{SourceID: ch.SourceID, Reason: ch.Kind.String()})
	l.recordOccupancy()
}

func (l *Loop) rebuildAll() {
	snap := l.source.Snapshot()
	for _, prof := range snap.Profiles {
		l.indexProfile(prof)
	}
	for _, ev := range snap.Events {
		l.indexEvent(ev)
	}
	// A removal notification can be dropped under bus pressure; reconcile
	// the index against the snapshot so such sources do not linger.
	for _, id := range l.index.Sources() {
		if _, ok := snap.Profiles[id]; ok {
			continue
		}
		if _, ok := snap.Events[id]; ok {
			continue
		}
		l.index.Remove(id)
	}
	l.publish(events.ScheduleChanged{Reason: "rollover"})
	l.recordOccupancy()
}

func (l *Loop) fireDue(ctx context.Context) {
	due, superseded := l.index.PopDue(l.now())
	for _, f := range superseded {
		l.recorder.RecordSuperseded(ctx, f)
	}
	for _, f := range due {
		l.dispatch(ctx, f)
	}
	l.recordOccupancy()
}

func (l *Loop) dispatch(ctx context.Context, f model.ScheduledFire) {
	l.queue.Enqueue(f)
	l.publish(events.FireDue{Fire: f})
	if f.At.After(l.mark) {
		l.mark = f.At
		// The watermark outlives ctx so a shutdown mid-batch still records
		// what was enqueued.
		if err := l.marks.SetWatermark(context.WithoutCancel(ctx), l.mark); err != nil {
			l.log.Errorf("persisting watermark: %v", err)
		}
	}
}

// indexProfile compiles the profile over the horizon, starting one day back
// so the tail of the previous lighting day stays covered. Instants already
// behind the watermark are dropped to keep recompiles idempotent.
func (l *Loop) indexProfile(p model.DimmingProfile) {
	fires, err := l.compiler.CompileHorizon(p, l.now().AddDate(0, 0, -1), l.cfg.HorizonDays+1)
	if err != nil {
		l.log.Warnf("compiling %s: %v", p.SourceID(), err)
		return
	}
	l.index.Upsert(p.SourceID(), l.trim(fires))
}

func (l *Loop) indexEvent(e model.CalendarEvent) {
	fires, err := l.compiler.CompileEvent(e)
	if err != nil {
		l.log.Warnf("compiling %s: %v", e.SourceID(), err)
		return
	}
	l.index.Upsert(e.SourceID(), l.trim(fires))
}

func (l *Loop) trim(fires []model.ScheduledFire) []model.ScheduledFire {
	if l.mark.IsZero() {
		return fires
	}
	kept := fires[:0]
	for _, f := range fires {
		if f.At.After(l.mark) {
			kept = append(kept, f)
		}
	}
	return kept
}

func (l *Loop) publish(ev events.Event) {
	if l.bus != nil {
		l.bus.Publish(ev)
	}
}

func (l *Loop) recordOccupancy() {
	if err := l.metrics.RecordScheduleSize(l.index.Len()); err != nil {
		l.log.Errorf("occupancy metrics error: %v", err)
	}
}
