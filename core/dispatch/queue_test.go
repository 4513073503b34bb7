package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/luminet/dimmerd/core/dispatch/logging"
	"github.com/luminet/dimmerd/core/model"
	"github.com/luminet/dimmerd/infra/logger"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestQueuePreservesPerTargetOrder(t *testing.T) {
	client := newFakeClient()
	client.delay = 2 * time.Millisecond
	store := logging.NewMemoryStore()
	d := NewDispatcher(testConfig(), client, store, nil, nil, logger.NopLogger{})
	q := NewQueue(d, logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	t0 := time.Now()
	for i, lvl := range []int{80, 60, 40} {
		q.Enqueue(fireFor(lamp, model.Dim(lvl), t0.Add(time.Duration(i)*time.Minute)))
	}
	waitFor(t, func() bool { return len(client.sent()) == 3 })
	var got []string
	for _, s := range client.sent() {
		got = append(got, s.payload)
	}
	want := []string{"9529-DM80", "9529-DM60", "9529-DM40"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order broken: got %v want %v", got, want)
		}
	}
}

// An abandoned attempt must not block a later fire for the same target.
func TestQueueAbandonedDoesNotBlockLaterFire(t *testing.T) {
	client := newFakeClient()
	cfg := testConfig()
	cfg.MaxAttempts = 2
	store := logging.NewMemoryStore()
	d := NewDispatcher(cfg, client, store, nil, nil, logger.NopLogger{})
	q := NewQueue(d, logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	client.failures[lamp.Key()] = 100
	q.Enqueue(fireFor(lamp, model.Dim(80), time.Now()))
	waitFor(t, func() bool {
		res, _ := store.Query(context.Background(), logging.AttemptQuery{Outcome: model.OutcomeAbandoned})
		return len(res) == 1
	})

	client.mu.Lock()
	client.failures[lamp.Key()] = 0
	client.mu.Unlock()
	q.Enqueue(fireFor(lamp, model.Dim(40), time.Now()))
	waitFor(t, func() bool {
		res, _ := store.Query(context.Background(), logging.AttemptQuery{Outcome: model.OutcomeDelivered})
		return len(res) == 1
	})
	sends := client.sent()
	if len(sends) != 1 || sends[0].payload != "9529-DM40" {
		t.Fatalf("later fire not dispatched: %+v", sends)
	}
}

func TestQueueTargetsRunIndependently(t *testing.T) {
	client := newFakeClient()
	store := logging.NewMemoryStore()
	cfg := testConfig()
	cfg.MaxAttempts = 1
	d := NewDispatcher(cfg, client, store, nil, nil, logger.NopLogger{})
	q := NewQueue(d, logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	// The lamp target is stuck failing; the group target must still deliver.
	client.failures[lamp.Key()] = 100
	q.Enqueue(fireFor(lamp, model.TurnOn(), time.Now()))
	q.Enqueue(fireFor(group, model.TurnOff(), time.Now()))
	waitFor(t, func() bool {
		for _, s := range client.sent() {
			if s.target.Key() == group.Key() {
				return true
			}
		}
		return false
	})
}

func TestQueueShutdownAbandonsQueuedFires(t *testing.T) {
	client := newFakeClient()
	client.delay = 20 * time.Millisecond
	store := logging.NewMemoryStore()
	d := NewDispatcher(testConfig(), client, store, nil, nil, logger.NopLogger{})
	q := NewQueue(d, logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	q.Enqueue(fireFor(lamp, model.Dim(80), time.Now()))
	q.Enqueue(fireFor(lamp, model.Dim(60), time.Now()))
	q.Enqueue(fireFor(lamp, model.Dim(40), time.Now()))
	time.Sleep(5 * time.Millisecond)
	cancel()
	q.Wait()

	res, err := store.Query(context.Background(), logging.AttemptQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("attempts = %d, want 3 (none dropped silently)", len(res))
	}
	for _, a := range res {
		if !a.Outcome.Terminal() {
			t.Fatalf("attempt %s left non-terminal at shutdown: %s", a.ID, a.Outcome)
		}
	}
}
