package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skillbridge/liveroom/internal/protocol"
)

// DefaultDuration is the fixed length of a session.
const DefaultDuration = 20 * time.Minute

var (
	ErrSessionEnded = errors.New("session has ended")
	// ErrUnsynced accompanies a start time that could not be persisted. The
	// clock keeps running from the local value.
	ErrUnsynced = errors.New("session start not persisted")
)

// Options configures an Authority.
type Options struct {
	Duration time.Duration
	Retry    Retry
	Now      func() time.Time
	Logger   *slog.Logger
}

// Authority is the single source of truth for each room's remaining time.
type Authority struct {
	store    Store
	duration time.Duration
	retry    Retry
	now      func() time.Time
	log      *slog.Logger

	starts singleflight.Group

	mu     sync.Mutex
	clocks map[string]*roomClock
}

type roomClock struct {
	hydrated  bool
	startedAt time.Time
	synced    bool
	fired     bool
}

func NewAuthority(store Store, opts Options) *Authority {
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Authority{
		store:    store,
		duration: opts.Duration,
		retry:    opts.Retry,
		now:      opts.Now,
		log:      opts.Logger,
		clocks:   make(map[string]*roomClock),
	}
}

// Duration is the configured session length.
func (a *Authority) Duration() time.Duration { return a.duration }

func (a *Authority) clock(roomID string) *roomClock {
	c, ok := a.clocks[roomID]
	if !ok {
		c = &roomClock{}
		a.clocks[roomID] = c
	}
	return c
}

// Admit loads the session record the first time a room is seen and
// decides whether a participant may join. A record that cannot be read
// because the store is unreachable admits the join with an unsynced clock.
func (a *Authority) Admit(ctx context.Context, roomID string) error {
	a.mu.Lock()
	c := a.clock(roomID)
	hydrated, fired := c.hydrated, c.fired
	a.mu.Unlock()

	if fired {
		return ErrSessionEnded
	}
	if !hydrated {
		var rec *Record
		err := a.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			rec, err = a.store.GetSession(ctx, roomID)
			return err
		})
		switch {
		case errors.Is(err, ErrNotFound):
			a.mu.Lock()
			delete(a.clocks, roomID)
			a.mu.Unlock()
			return err
		case err != nil:
			a.log.Warn("session record unavailable", "room", roomID, "error", err)
		}

		a.mu.Lock()
		if !c.hydrated && err == nil {
			c.hydrated = true
			if rec.ActiveStartedAt != nil && c.startedAt.IsZero() {
				c.startedAt, c.synced = rec.ActiveStartedAt.UTC(), true
			}
			if rec.Status == StatusCompleted {
				c.fired = true
			}
		}
		a.mu.Unlock()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c.fired || (!c.startedAt.IsZero() && a.remaining(c, a.now()) <= 0) {
		return ErrSessionEnded
	}
	return nil
}

// EnsureStarted fixes the session's start the first time it is called and
// returns the same value on every later call. Concurrent callers share one
// store write. When persistence fails the local start is still returned,
// together with ErrUnsynced; a later call retries the write with that same
// value.
func (a *Authority) EnsureStarted(ctx context.Context, roomID string) (time.Time, error) {
	a.mu.Lock()
	c := a.clock(roomID)
	if c.synced {
		t := c.startedAt
		a.mu.Unlock()
		return t, nil
	}
	a.mu.Unlock()

	v, err, _ := a.starts.Do(roomID, func() (interface{}, error) {
		a.mu.Lock()
		if c.synced {
			t := c.startedAt
			a.mu.Unlock()
			return t, nil
		}
		if c.startedAt.IsZero() {
			c.startedAt = a.now().UTC()
		}
		candidate := c.startedAt
		a.mu.Unlock()

		var persisted time.Time
		err := a.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			persisted, err = a.store.SetActiveStartedAt(ctx, roomID, candidate)
			return err
		})

		a.mu.Lock()
		if err != nil {
			local := c.startedAt
			a.mu.Unlock()
			a.log.Error("failed to persist session start", "room", roomID, "error", err)
			return local, fmt.Errorf("%w: %v", ErrUnsynced, err)
		}
		c.startedAt, c.synced, c.hydrated = persisted.UTC(), true, true
		started := c.startedAt
		a.mu.Unlock()

		a.log.Info("session started", "room", roomID, "activeStartedAt", started)
		a.setStatus(ctx, roomID, StatusActive)
		return started, nil
	})
	t, _ := v.(time.Time)
	return t, err
}

func (a *Authority) setStatus(ctx context.Context, roomID string, status Status) error {
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		return a.store.SetStatus(ctx, roomID, status)
	})
	if err != nil {
		a.log.Warn("failed to update session status", "room", roomID, "status", status, "error", err)
	}
	return err
}

// Complete marks the record completed.
func (a *Authority) Complete(ctx context.Context, roomID string) error {
	return a.setStatus(ctx, roomID, StatusCompleted)
}

func (a *Authority) remaining(c *roomClock, now time.Time) time.Duration {
	if c.startedAt.IsZero() {
		return a.duration
	}
	rem := a.duration - now.Sub(c.startedAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// seconds rounds up so a client never shows 0 while time is left.
func seconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

// RemainingSeconds returns max(0, duration - (now - activeStartedAt)).
// Before the session starts it returns the full duration.
func (a *Authority) RemainingSeconds(roomID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.clocks[roomID]
	if !ok {
		return seconds(a.duration)
	}
	if c.fired {
		return 0
	}
	return seconds(a.remaining(c, a.now()))
}

// State is the wire view of the room's clock.
func (a *Authority) State(roomID string) *protocol.TimerState {
	now := a.now().UTC()
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := &protocol.TimerState{
		DurationSeconds:  seconds(a.duration),
		RemainingSeconds: seconds(a.duration),
		Synced:           true,
		ServerTime:       now,
	}
	c, ok := a.clocks[roomID]
	if !ok {
		return ts
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		ts.Started = true
		ts.ActiveStartedAt = &started
		ts.Synced = c.synced
		ts.RemainingSeconds = seconds(a.remaining(c, now))
	}
	if c.fired {
		ts.RemainingSeconds = 0
	}
	return ts
}

// Expire returns the rooms whose time ran out since the last call. Each
// room is returned at most once.
func (a *Authority) Expire() []string {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []string
	for id, c := range a.clocks {
		if c.fired || c.startedAt.IsZero() {
			continue
		}
		if a.remaining(c, now) <= 0 {
			c.fired = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Forget drops the cached clock. The next Admit reloads it from the store.
func (a *Authority) Forget(roomID string) {
	a.mu.Lock()
	delete(a.clocks, roomID)
	a.mu.Unlock()
}
