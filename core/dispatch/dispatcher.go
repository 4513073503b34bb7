package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/luminet/dimmerd/core/dispatch/logging"
	"github.com/luminet/dimmerd/core/events"
	"github.com/luminet/dimmerd/core/lns"
	"github.com/luminet/dimmerd/core/logger"
	coremetrics "github.com/luminet/dimmerd/core/metrics"
	"github.com/luminet/dimmerd/core/model"
	"github.com/luminet/dimmerd/internal/eventbus"
)

// Dispatcher resolves a due fire into the network-server call, applies
// bounded retry with exponential backoff and records every attempt state.
type Dispatcher struct {
	client      lns.Client
	store       logging.Store
	metrics     coremetrics.MetricsSink
	bus         *eventbus.Bus[events.Event]
	log         logger.Logger
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
	backoffMax  time.Duration
	ackTimeout  time.Duration
	sendTimeout time.Duration
	now         func() time.Time
}

// NewDispatcher creates a Dispatcher. bus and metrics may be nil.
func NewDispatcher(cfg Config, client lns.Client, store logging.Store, sink coremetrics.MetricsSink, bus *eventbus.Bus[events.Event], log logger.Logger) *Dispatcher {
	cfg.SetDefaults()
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)
	}
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	return &Dispatcher{
		client:      client,
		store:       store,
		metrics:     sink,
		bus:         bus,
		log:         log,
		limiter:     limiter,
		maxAttempts: cfg.MaxAttempts,
		backoff:     time.Duration(cfg.BackoffMS) * time.Millisecond,
		backoffMax:  time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
		ackTimeout:  time.Duration(cfg.AckTimeoutSeconds) * time.Second,
		sendTimeout: time.Duration(cfg.SendTimeoutSeconds) * time.Second,
		now:         time.Now,
	}
}

// Dispatch delivers one fire. It blocks through retries and returns the
// terminal attempt record. Cancelling ctx lets the in-flight attempt finish
// but stops further retries, marking the attempt abandoned.
func (d *Dispatcher) Dispatch(ctx context.Context, fire model.ScheduledFire) model.DispatchAttempt {
	a := model.DispatchAttempt{
		ID:        uuid.NewString(),
		SourceID:  fire.SourceID,
		Target:    fire.Target,
		Command:   fire.Command,
		FireAt:    fire.At,
		CreatedAt: d.now().UTC(),
		UpdatedAt: d.now().UTC(),
		Outcome:   model.OutcomePending,
	}
	if err := d.store.Create(ctx, a); err != nil {
		d.log.Errorf("attempt create: %v", err)
	}

	payload := fire.Command.Payload(fire.Target.Kind)
	for {
		a.Attempts++
		err := d.attempt(ctx, fire.Target, payload)
		if err == nil {
			return d.finish(ctx, a, model.OutcomeDelivered, "")
		}
		a.LastError = err.Error()
		if lns.IsPermanent(err) {
			d.log.Warnf("dispatch %s to %s rejected permanently: %v", fire.Command, fire.Target, err)
			return d.finish(ctx, a, model.OutcomeFailed, a.LastError)
		}
		if a.Attempts >= d.maxAttempts {
			d.log.Warnf("dispatch %s to %s abandoned after %d attempts: %v", fire.Command, fire.Target, a.Attempts, err)
			return d.finish(ctx, a, model.OutcomeAbandoned, a.LastError)
		}
		d.update(ctx, a)
		d.log.Debugf("dispatch %s to %s attempt %d failed, retrying: %v", fire.Command, fire.Target, a.Attempts, err)
		select {
		case <-time.After(d.backoffFor(a.Attempts)):
		case <-ctx.Done():
			return d.finish(ctx, a, model.OutcomeAbandoned, "shutdown before retry: "+a.LastError)
		}
	}
}

// attempt performs one paced send plus, for targets that support it, one ack
// wait. A canceled ctx does not abort an in-flight call: the attempt runs on
// its own timeout so shutdown grants the current try a grace period.
func (d *Dispatcher) attempt(ctx context.Context, target model.Target, payload []byte) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil && ctx.Err() == nil {
			return err
		}
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()
	id, err := d.client.Send(sendCtx, target, payload)
	if err != nil {
		return err
	}
	if id == "" {
		// No per-item ack exists for this target kind.
		return nil
	}
	ack, err := d.client.WaitForTxAck(id, d.ackTimeout)
	if err != nil {
		return err
	}
	if !ack {
		return lns.ErrAckTimeout
	}
	return nil
}

// RecordSuperseded writes a terminal superseded attempt for a coalesced
// backlog fire so it is visible to operators, not silently gone.
func (d *Dispatcher) RecordSuperseded(ctx context.Context, fire model.ScheduledFire) {
	now := d.now().UTC()
	a := model.DispatchAttempt{
		ID:        uuid.NewString(),
		SourceID:  fire.SourceID,
		Target:    fire.Target,
		Command:   fire.Command,
		FireAt:    fire.At,
		CreatedAt: now,
		UpdatedAt: now,
		Outcome:   model.OutcomeSuperseded,
	}
	if err := d.store.Create(ctx, a); err != nil {
		d.log.Errorf("superseded attempt create: %v", err)
	}
	d.publish(a)
}

// AbandonUndispatched writes a terminal abandoned attempt for a fire that
// never reached the network server, typically at shutdown.
func (d *Dispatcher) AbandonUndispatched(ctx context.Context, fire model.ScheduledFire, reason string) {
	now := d.now().UTC()
	a := model.DispatchAttempt{
		ID:        uuid.NewString(),
		SourceID:  fire.SourceID,
		Target:    fire.Target,
		Command:   fire.Command,
		FireAt:    fire.At,
		CreatedAt: now,
		UpdatedAt: now,
		LastError: reason,
		Outcome:   model.OutcomeAbandoned,
	}
	if err := d.store.Create(ctx, a); err != nil {
		d.log.Errorf("abandoned attempt create: %v", err)
	}
	d.publish(a)
}

func (d *Dispatcher) backoffFor(attempts int) time.Duration {
	b := d.backoff << (attempts - 1)
	if b > d.backoffMax || b <= 0 {
		b = d.backoffMax
	}
	return b
}

func (d *Dispatcher) finish(ctx context.Context, a model.DispatchAttempt, outcome model.AttemptOutcome, lastErr string) model.DispatchAttempt {
	a.Outcome = outcome
	a.LastError = lastErr
	d.update(ctx, a)
	d.publish(a)
	return a
}

func (d *Dispatcher) update(ctx context.Context, a model.DispatchAttempt) {
	a.UpdatedAt = d.now().UTC()
	// Use a detached context so terminal outcomes are persisted even when
	// shutdown is in progress.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.store.Update(storeCtx, a); err != nil {
		d.log.Errorf("attempt update: %v", err)
	}
}

func (d *Dispatcher) publish(a model.DispatchAttempt) {
	latency := a.UpdatedAt.Sub(a.FireAt)
	if err := d.metrics.RecordAttempt(coremetrics.AttemptRecord{
		Target:   a.Target,
		Command:  a.Command,
		Outcome:  a.Outcome,
		Attempts: a.Attempts,
		Latency:  latency,
		Time:     a.UpdatedAt,
	}); err != nil {
		d.log.Errorf("metrics error: %v", err)
	}
	if d.bus != nil {
		d.bus.Publish(events.AttemptUpdated{Attempt: a, Latency: latency})
	}
}
