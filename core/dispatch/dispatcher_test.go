package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/luminet/dimmerd/core/dispatch/logging"
	"github.com/luminet/dimmerd/core/lns"
	"github.com/luminet/dimmerd/core/model"
	"github.com/luminet/dimmerd/infra/logger"
)

var (
	lamp  = model.Target{Kind: model.TargetDevice, ID: "eui-1"}
	group = model.Target{Kind: model.TargetDeviceGroup, ID: "mg-1"}
)

type sendCall struct {
	target  model.Target
	payload string
}

// fakeClient simulates the network server, failing a configurable number of
// times per target before succeeding.
type fakeClient struct {
	mu        sync.Mutex
	sends     []sendCall
	failures  map[string]int
	permanent map[string]bool
	delay     time.Duration
	seq       int
}

func newFakeClient() *fakeClient {
	return &fakeClient{failures: make(map[string]int), permanent: make(map[string]bool)}
}

func (f *fakeClient) Send(_ context.Context, target model.Target, payload []byte) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := target.Key()
	if f.permanent[key] {
		return "", lns.Permanent(errors.New("object does not exist"))
	}
	if f.failures[key] > 0 {
		f.failures[key]--
		return "", errors.New("connection refused")
	}
	f.sends = append(f.sends, sendCall{target: target, payload: string(payload)})
	if target.Kind == model.TargetDeviceGroup {
		return "", nil
	}
	f.seq++
	return fmt.Sprintf("item-%d", f.seq), nil
}

func (f *fakeClient) WaitForTxAck(string, time.Duration) (bool, error) { return true, nil }

func (f *fakeClient) sent() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

func testConfig() Config {
	return Config{MaxAttempts: 5, BackoffMS: 1, BackoffMaxMS: 4, AckTimeoutSeconds: 1, SendTimeoutSeconds: 1}
}

func fireFor(target model.Target, cmd model.Command, at time.Time) model.ScheduledFire {
	return model.ScheduledFire{SourceID: "profile:1", Target: target, At: at, Command: cmd}
}

func TestDispatchFailsTwiceThenDelivers(t *testing.T) {
	client := newFakeClient()
	client.failures[lamp.Key()] = 2
	store := logging.NewMemoryStore()
	d := NewDispatcher(testConfig(), client, store, nil, nil, logger.NopLogger{})

	a := d.Dispatch(context.Background(), fireFor(lamp, model.Dim(50), time.Now()))
	if a.Outcome != model.OutcomeDelivered {
		t.Fatalf("outcome = %s, want delivered", a.Outcome)
	}
	if a.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", a.Attempts)
	}
	latest, err := store.Latest(context.Background(), lamp.Key())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Outcome != model.OutcomeDelivered || latest.Attempts != 3 {
		t.Fatalf("stored attempt %+v", latest)
	}
}

func TestDispatchAbandonsAtCeiling(t *testing.T) {
	client := newFakeClient()
	client.failures[lamp.Key()] = 100
	store := logging.NewMemoryStore()
	cfg := testConfig()
	cfg.MaxAttempts = 3
	d := NewDispatcher(cfg, client, store, nil, nil, logger.NopLogger{})

	a := d.Dispatch(context.Background(), fireFor(lamp, model.TurnOn(), time.Now()))
	if a.Outcome != model.OutcomeAbandoned {
		t.Fatalf("outcome = %s, want abandoned", a.Outcome)
	}
	if a.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", a.Attempts)
	}
	if a.LastError == "" {
		t.Fatal("abandoned attempt carries no error")
	}
}

func TestDispatchPermanentErrorFailsWithoutRetry(t *testing.T) {
	client := newFakeClient()
	client.permanent[lamp.Key()] = true
	store := logging.NewMemoryStore()
	d := NewDispatcher(testConfig(), client, store, nil, nil, logger.NopLogger{})

	a := d.Dispatch(context.Background(), fireFor(lamp, model.TurnOff(), time.Now()))
	if a.Outcome != model.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", a.Outcome)
	}
	if a.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on permanent error)", a.Attempts)
	}
}

// A device-group fire produces exactly one dispatch against the group target;
// the network server fans out to members.
func TestDispatchGroupSingleAttempt(t *testing.T) {
	client := newFakeClient()
	store := logging.NewMemoryStore()
	d := NewDispatcher(testConfig(), client, store, nil, nil, logger.NopLogger{})

	a := d.Dispatch(context.Background(), fireFor(group, model.TurnOff(), time.Now()))
	if a.Outcome != model.OutcomeDelivered {
		t.Fatalf("outcome = %s", a.Outcome)
	}
	sends := client.sent()
	if len(sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(sends))
	}
	if sends[0].payload != "9529-OF" {
		t.Fatalf("payload = %q", sends[0].payload)
	}
	all, err := store.Query(context.Background(), logging.AttemptQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("attempts = %d, want 1", len(all))
	}
}

// A dim command survives compiler vocabulary through the dispatch boundary
// unchanged in value.
func TestDispatchPayloadRoundTrip(t *testing.T) {
	client := newFakeClient()
	store := logging.NewMemoryStore()
	d := NewDispatcher(testConfig(), client, store, nil, nil, logger.NopLogger{})

	d.Dispatch(context.Background(), fireFor(lamp, model.Dim(7), time.Now()))
	d.Dispatch(context.Background(), fireFor(group, model.Dim(7), time.Now()))
	sends := client.sent()
	if sends[0].payload != "9529-DM7" || sends[1].payload != "9529-DM007" {
		t.Fatalf("payloads = %q, %q", sends[0].payload, sends[1].payload)
	}
	latest, err := store.Latest(context.Background(), lamp.Key())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Command != model.Dim(7) {
		t.Fatalf("command = %v", latest.Command)
	}
}

func TestRecordSuperseded(t *testing.T) {
	store := logging.NewMemoryStore()
	d := NewDispatcher(testConfig(), newFakeClient(), store, nil, nil, logger.NopLogger{})

	d.RecordSuperseded(context.Background(), fireFor(lamp, model.Dim(80), time.Now()))
	res, err := store.Query(context.Background(), logging.AttemptQuery{Outcome: model.OutcomeSuperseded})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res) != 1 || res[0].Command != model.Dim(80) {
		t.Fatalf("superseded records: %+v", res)
	}
}
