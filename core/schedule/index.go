// Package schedule holds the in-memory, time-ordered index of pending fires.
//
// The index is the single shared structure of the scheduler and is guarded by
// one mutex; every other component coordinates through channels.
package schedule

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/luminet/dimmerd/core/model"
)

type entry struct {
	fire model.ScheduledFire
	gen  uint64
	seq  uint64
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].fire.At.Equal(h[j].fire.At) {
		return h[i].seq < h[j].seq
	}
	return h[i].fire.At.Before(h[j].fire.At)
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Index is a time-ordered structure mapping instants to the fires due at
// them. Upserting a source atomically replaces all fires previously derived
// from it: stale entries are invalidated by generation and skipped lazily.
type Index struct {
	mu      sync.Mutex
	entries entryHeap
	gens    map[string]uint64
	live    map[string]int
	seq     uint64
}

// New creates an empty Index.
func New() *Index {
	return &Index{gens: make(map[string]uint64), live: make(map[string]int)}
}

// Upsert replaces every fire derived from sourceID with fires.
func (x *Index) Upsert(sourceID string, fires []model.ScheduledFire) {
	x.mu.Lock()
	defer x.mu.Unlock()
	gen := x.gens[sourceID] + 1
	x.gens[sourceID] = gen
	x.live[sourceID] = len(fires)
	for _, f := range fires {
		x.seq++
		heap.Push(&x.entries, &entry{fire: f, gen: gen, seq: x.seq})
	}
}

// Remove drops all fires derived from sourceID.
func (x *Index) Remove(sourceID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.gens[sourceID]++
	delete(x.live, sourceID)
}

func (x *Index) current(e *entry) bool {
	return e.gen == x.gens[e.fire.SourceID]
}

// NextDue returns the earliest pending instant, if any.
func (x *Index) NextDue() (time.Time, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for x.entries.Len() > 0 {
		e := x.entries[0]
		if x.current(e) {
			return e.fire.At, true
		}
		heap.Pop(&x.entries)
	}
	return time.Time{}, false
}

// PopDue removes every fire with instant <= now and coalesces the backlog:
// when several fires for the same target are all due, only the most recent
// one is returned for dispatch and the earlier ones come back as superseded.
func (x *Index) PopDue(now time.Time) (due, superseded []model.ScheduledFire) {
	x.mu.Lock()
	defer x.mu.Unlock()

	latest := make(map[string]int)
	var order []model.ScheduledFire
	for x.entries.Len() > 0 {
		e := x.entries[0]
		if !x.current(e) {
			heap.Pop(&x.entries)
			continue
		}
		if e.fire.At.After(now) {
			break
		}
		heap.Pop(&x.entries)
		x.live[e.fire.SourceID]--
		// Entries pop in ascending instant order, so the last one seen
		// per target is the most recent.
		latest[e.fire.Target.Key()] = len(order)
		order = append(order, e.fire)
	}

	keep := make(map[int]bool, len(latest))
	for _, i := range latest {
		keep[i] = true
	}
	for i, f := range order {
		if keep[i] {
			due = append(due, f)
		} else {
			superseded = append(superseded, f)
		}
	}
	return due, superseded
}

// Sources returns the ids of every source with live fires.
func (x *Index) Sources() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	ids := make([]string, 0, len(x.live))
	for id := range x.live {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live fires in the index.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for _, e := range x.entries {
		if x.current(e) {
			n++
		}
	}
	return n
}

// Snapshot returns the live fires ordered by instant, for the operational
// dashboard read path.
func (x *Index) Snapshot() []model.ScheduledFire {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]model.ScheduledFire, 0, len(x.entries))
	for _, e := range x.entries {
		if x.current(e) {
			out = append(out, e.fire)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
