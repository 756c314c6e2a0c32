package session

import (
	"context"
	"time"
)

// Retry is a bounded exponential backoff for store calls.
type Retry struct {
	Attempts int
	Initial  time.Duration
	Factor   int
}

// DefaultRetry is used when Options.Retry is zero.
var DefaultRetry = Retry{Attempts: 4, Initial: 100 * time.Millisecond, Factor: 2}

// Do calls fn until it succeeds, returns a non-transient error, the
// attempts run out or ctx is done.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.Attempts < 1 {
		r.Attempts = 1
	}
	if r.Factor < 1 {
		r.Factor = 1
	}
	wait := r.Initial

	var err error
	for i := 0; i < r.Attempts; i++ {
		if err = fn(ctx); err == nil || !IsTransient(err) {
			return err
		}
		if i == r.Attempts-1 {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		wait *= time.Duration(r.Factor)
	}
	return err
}
