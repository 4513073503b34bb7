package logging

import (
	"context"
	"errors"
	"time"

	"github.com/luminet/dimmerd/core/model"
)

// ErrNotFound is returned when no attempt matches.
var ErrNotFound = errors.New("attempt not found")

// AttemptQuery defines filters for retrieving dispatch attempts.
type AttemptQuery struct {
	Start   time.Time
	End     time.Time
	Target  string // target key, e.g. "device:eui-1"
	Outcome model.AttemptOutcome
	Limit   int
}

// Store persists dispatch attempts and the scheduler watermark.
//
// The watermark is the instant through which fires have been handed to the
// dispatch queue; after a restart, fires at or before it are already handled
// and fires between it and now are coalesced instead of replayed.
type Store interface {
	Create(ctx context.Context, a model.DispatchAttempt) error
	Update(ctx context.Context, a model.DispatchAttempt) error
	// Latest returns the most recent attempt for the target key.
	Latest(ctx context.Context, target string) (model.DispatchAttempt, error)
	Query(ctx context.Context, q AttemptQuery) ([]model.DispatchAttempt, error)
	Watermark(ctx context.Context) (time.Time, error)
	SetWatermark(ctx context.Context, t time.Time) error
	Close() error
}
