package schedule

import (
	"testing"
	"time"

	"github.com/luminet/dimmerd/core/model"
)

var (
	lamp  = model.Target{Kind: model.TargetDevice, ID: "eui-1"}
	group = model.Target{Kind: model.TargetDeviceGroup, ID: "mg-1"}
	t0    = time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
)

func fire(src string, tgt model.Target, at time.Time, cmd model.Command) model.ScheduledFire {
	return model.ScheduledFire{SourceID: src, Target: tgt, At: at, Command: cmd}
}

func TestNextDueAndPop(t *testing.T) {
	x := New()
	x.Upsert("profile:1", []model.ScheduledFire{
		fire("profile:1", group, t0.Add(time.Hour), model.Dim(40)),
		fire("profile:1", group, t0, model.Dim(60)),
	})
	next, ok := x.NextDue()
	if !ok || !next.Equal(t0) {
		t.Fatalf("NextDue = %v %v", next, ok)
	}
	due, superseded := x.PopDue(t0)
	if len(due) != 1 || len(superseded) != 0 {
		t.Fatalf("due %d superseded %d", len(due), len(superseded))
	}
	if due[0].Command != model.Dim(60) {
		t.Fatalf("wrong fire popped: %v", due[0].Command)
	}
	next, ok = x.NextDue()
	if !ok || !next.Equal(t0.Add(time.Hour)) {
		t.Fatalf("NextDue after pop = %v %v", next, ok)
	}
}

func TestUpsertReplacesStaleFires(t *testing.T) {
	x := New()
	x.Upsert("profile:1", []model.ScheduledFire{
		fire("profile:1", group, t0, model.Dim(60)),
	})
	x.Upsert("profile:1", []model.ScheduledFire{
		fire("profile:1", group, t0, model.Dim(30)),
	})
	due, _ := x.PopDue(t0)
	if len(due) != 1 {
		t.Fatalf("stale fire leaked: got %d due", len(due))
	}
	if due[0].Command != model.Dim(30) {
		t.Fatalf("expected latest compile to win, got %v", due[0].Command)
	}
}

// Upserting identical content twice must not duplicate fires.
func TestUpsertIdempotent(t *testing.T) {
	x := New()
	fires := []model.ScheduledFire{
		fire("profile:1", group, t0, model.Dim(60)),
		fire("profile:1", group, t0.Add(time.Hour), model.Dim(40)),
	}
	x.Upsert("profile:1", fires)
	x.Upsert("profile:1", fires)
	if n := x.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
	due, superseded := x.PopDue(t0)
	if len(due) != 1 || len(superseded) != 0 {
		t.Fatalf("duplicate dispatch: due %d superseded %d", len(due), len(superseded))
	}
}

func TestRemove(t *testing.T) {
	x := New()
	x.Upsert("event:7", []model.ScheduledFire{fire("event:7", lamp, t0, model.TurnOff())})
	x.Remove("event:7")
	if _, ok := x.NextDue(); ok {
		t.Fatal("removed source still has fires")
	}
	if due, _ := x.PopDue(t0.Add(time.Hour)); len(due) != 0 {
		t.Fatalf("popped %d fires from removed source", len(due))
	}
}

// After downtime only the most recent backlog fire per target is dispatched;
// the earlier ones are superseded, not dropped silently.
func TestPopDueCoalescesBacklogPerTarget(t *testing.T) {
	x := New()
	x.Upsert("profile:1", []model.ScheduledFire{
		fire("profile:1", group, t0, model.Dim(80)),
		fire("profile:1", group, t0.Add(time.Hour), model.Dim(60)),
		fire("profile:1", group, t0.Add(2*time.Hour), model.Dim(40)),
	})
	x.Upsert("event:7", []model.ScheduledFire{
		fire("event:7", lamp, t0.Add(30*time.Minute), model.TurnOff()),
	})

	due, superseded := x.PopDue(t0.Add(3 * time.Hour))
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2 (one per target)", len(due))
	}
	byTarget := map[string]model.ScheduledFire{}
	for _, f := range due {
		byTarget[f.Target.Key()] = f
	}
	if got := byTarget[group.Key()]; got.Command != model.Dim(40) {
		t.Fatalf("group target got %v, want most recent dim_40", got.Command)
	}
	if got := byTarget[lamp.Key()]; got.Command != model.TurnOff() {
		t.Fatalf("lamp target got %v", got.Command)
	}
	if len(superseded) != 2 {
		t.Fatalf("superseded = %d, want 2", len(superseded))
	}
	for _, f := range superseded {
		if f.Target.Key() != group.Key() {
			t.Fatalf("unexpected superseded fire for %s", f.Target)
		}
	}
}

func TestSnapshotOrdered(t *testing.T) {
	x := New()
	x.Upsert("profile:1", []model.ScheduledFire{
		fire("profile:1", group, t0.Add(2*time.Hour), model.Dim(40)),
		fire("profile:1", group, t0, model.Dim(80)),
	})
	snap := x.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len %d", len(snap))
	}
	if !snap[0].At.Before(snap[1].At) {
		t.Fatal("snapshot not time ordered")
	}
}
