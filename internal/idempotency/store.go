// Package idempotency replays responses for retried requests that carry an
// Idempotency-Key header.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrInProgress is returned by Begin while another request holds the key.
var ErrInProgress = errors.New("idempotency: request in progress")

// Record is a stored response.
type Record struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Store interface {
	// Begin reserves key. It returns the stored record when the key has
	// already completed, ErrInProgress when it is reserved, and nil, nil
	// when the caller now owns the key.
	Begin(ctx context.Context, key string, ttl time.Duration) (*Record, error)
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	// Abandon releases a reservation so the request can be retried.
	Abandon(ctx context.Context, key string) error
}
