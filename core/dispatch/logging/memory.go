package logging

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/luminet/dimmerd/core/model"
)

// MemoryStore is an in-memory Store used in tests and for ephemeral runs.
type MemoryStore struct {
	mu        sync.Mutex
	attempts  map[string]model.DispatchAttempt
	order     []string
	watermark time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]model.DispatchAttempt)}
}

func (s *MemoryStore) Create(_ context.Context, a model.DispatchAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = a
	s.order = append(s.order, a.ID)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, a model.DispatchAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[a.ID]; !ok {
		return ErrNotFound
	}
	s.attempts[a.ID] = a
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, target string) (model.DispatchAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.attempts[s.order[i]]
		if a.Target.Key() == target {
			return a, nil
		}
	}
	return model.DispatchAttempt{}, ErrNotFound
}

func (s *MemoryStore) Query(_ context.Context, q AttemptQuery) ([]model.DispatchAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.DispatchAttempt
	for _, id := range s.order {
		a := s.attempts[id]
		if !q.Start.IsZero() && a.UpdatedAt.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && a.UpdatedAt.After(q.End) {
			continue
		}
		if q.Target != "" && a.Target.Key() != q.Target {
			continue
		}
		if q.Outcome != "" && a.Outcome != q.Outcome {
			continue
		}
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	return res, nil
}

func (s *MemoryStore) Watermark(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, nil
}

func (s *MemoryStore) SetWatermark(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = t
	return nil
}

func (s *MemoryStore) Close() error { return nil }
