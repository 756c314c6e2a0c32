// Package session owns the server-side clock of a scheduled session and
// the record it is persisted on.
package session

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle of a session record.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Record is the part of the booking record the live layer reads and writes.
// ID equals the room id.
type Record struct {
	ID              string     `bson:"-" json:"id"`
	Status          Status     `bson:"status" json:"status"`
	ActiveStartedAt *time.Time `bson:"activeStartedAt,omitempty" json:"activeStartedAt,omitempty"`
	MentorID        string     `bson:"mentorId,omitempty" json:"mentorId,omitempty"`
	MenteeID        string     `bson:"menteeId,omitempty" json:"menteeId,omitempty"`
}

// Store is the external session-record collaborator.
type Store interface {
	GetSession(ctx context.Context, id string) (*Record, error)
	// SetActiveStartedAt records ts unless a start time is already set, and
	// returns the value that is persisted afterwards.
	SetActiveStartedAt(ctx context.Context, id string, ts time.Time) (time.Time, error)
	SetStatus(ctx context.Context, id string, status Status) error
}

var ErrNotFound = errors.New("session record not found")

// TransientError marks a store failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err, or anything it wraps, is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
