// Package lns defines the boundary to the LoRaWAN network server that
// performs the physical downlink transmission.
package lns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luminet/dimmerd/core/model"
)

// ErrAckTimeout is returned when no transmission ack arrives before the
// timeout.
var ErrAckTimeout = errors.New("timeout waiting for tx ack")

// PermanentError marks a delivery failure that must not be retried, such as
// an unknown device or a rejected payload.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error { return &PermanentError{Err: err} }

// IsPermanent reports whether err is classified as non-retryable. Send
// failures are retryable by default.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Client enqueues downlinks on the network server and tracks transmission
// acks. Implementations share a pooled connection; callers must not assume
// exclusive access.
type Client interface {
	// Send enqueues the payload for the target and returns the queue item
	// id used for ack tracking. An empty id means the network server
	// provides no per-item ack for this target kind (multicast groups);
	// enqueue success then counts as delivery.
	Send(ctx context.Context, target model.Target, payload []byte) (string, error)

	// WaitForTxAck blocks until the queue item was transmitted by a
	// gateway or the timeout expires.
	WaitForTxAck(id string, timeout time.Duration) (bool, error)
}
