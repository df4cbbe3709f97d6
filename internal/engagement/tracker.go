package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pawtag/internal/errx"
	"pawtag/internal/visitor"
)

// TrackerState is the lifecycle state of a Tracker.
type TrackerState uint8

const (
	StateIdle TrackerState = iota
	StateLoading
	StateReady
	StateProcessing
	StateError
)

// String returns the string representation of the tracker state.
func (s TrackerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("TrackerState(%d)", s)
	}
}

const DefaultToggleTimeout = 10 * time.Second

// Tracker mediates like/unlike for one pet on behalf of one visitor.
//
// It keeps the last server-confirmed count separate from the pending
// optimistic delta so rollback on failure is exact, floors the displayed
// count at zero, and admits at most one mutation in flight: a toggle
// issued while another is processing is a no-op, not a queue entry.
type Tracker struct {
	entityID uuid.UUID
	store    Store
	identity visitor.Provider
	logger   *slog.Logger
	timeout  time.Duration

	mu        sync.Mutex
	state     TrackerState
	confirmed int64 // last server-confirmed count
	pending   int64 // optimistic delta awaiting confirmation
	liked     bool
	pushed    bool // a counter push landed while a mutation was in flight
}

// TrackerConfig holds configuration for a Tracker.
type TrackerConfig struct {
	Store         Store
	Identity      visitor.Provider
	Logger        *slog.Logger
	ToggleTimeout time.Duration // bound on a single like/unlike call
}

// NewTracker creates a Tracker scoped to one pet.
func NewTracker(entityID uuid.UUID, cfg TrackerConfig) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ToggleTimeout
	if timeout <= 0 {
		timeout = DefaultToggleTimeout
	}
	return &Tracker{
		entityID: entityID,
		store:    cfg.Store,
		identity: cfg.Identity,
		logger:   logger,
		timeout:  timeout,
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Count returns the displayed count: last confirmed value plus the
// pending optimistic delta, never negative.
func (t *Tracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.displayCount()
}

// Liked reports whether the visitor currently likes the pet.
func (t *Tracker) Liked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liked
}

func (t *Tracker) displayCount() int64 {
	n := t.confirmed + t.pending
	if n < 0 {
		return 0
	}
	return n
}

// Load fetches the current count and like-status. Identity is read but
// not created here: a visitor who has never engaged reads as not-liked.
// On fetch failure the tracker enters the degraded error state (zero
// count, still interactive) and Load may be retried.
func (t *Tracker) Load(ctx context.Context) error {
	const op = "engagement.tracker.Load"

	t.mu.Lock()
	if t.state == StateLoading || t.state == StateProcessing {
		t.mu.Unlock()
		return nil
	}
	t.state = StateLoading
	t.mu.Unlock()

	var token string
	if tok, ok, err := t.identity.Get(); err != nil {
		// Durable storage failure degrades to an unidentified read, it
		// does not block the page.
		t.logger.Warn("visitor identity unavailable, loading unidentified", "error", err)
	} else if ok {
		token = tok
	}

	state, err := t.store.FetchState(ctx, t.entityID, token)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.state = StateError
		t.confirmed = 0
		t.pending = 0
		t.liked = false
		return errx.E(op, errx.Unavailable, err)
	}

	t.state = StateReady
	t.confirmed = state.Count
	t.pending = 0
	t.liked = state.Liked
	t.pushed = false
	return nil
}

// Like creates the visitor's engagement record. Precondition: tracker is
// ready and the pet is not currently liked.
func (t *Tracker) Like(ctx context.Context) error {
	const op = "engagement.tracker.Like"
	return t.mutate(ctx, op, false)
}

// Unlike removes the visitor's engagement record. Precondition: the pet
// is currently liked.
func (t *Tracker) Unlike(ctx context.Context) error {
	const op = "engagement.tracker.Unlike"
	return t.mutate(ctx, op, true)
}

// Toggle calls Like or Unlike based on the current like-flag. It returns
// immediately without effect when a mutation is already in flight.
func (t *Tracker) Toggle(ctx context.Context) error {
	const op = "engagement.tracker.Toggle"

	t.mu.Lock()
	if t.state == StateProcessing {
		t.mu.Unlock()
		return nil
	}
	unlike := t.liked
	t.mu.Unlock()

	return t.mutate(ctx, op, unlike)
}

// mutate runs one like (unlike=false) or unlike (unlike=true) round trip:
// optimistic apply, bounded store call, then settle or exact rollback.
func (t *Tracker) mutate(ctx context.Context, op string, unlike bool) error {
	t.mu.Lock()
	if t.state == StateProcessing {
		t.mu.Unlock()
		return nil
	}
	if t.state != StateReady && t.state != StateError {
		t.mu.Unlock()
		return errx.E(op, errx.Invalid, fmt.Errorf("tracker is %s, not ready", t.state))
	}
	if unlike != t.liked {
		t.mu.Unlock()
		if unlike {
			return errx.E(op, errx.Invalid, errors.New("not currently liked"))
		}
		return errx.E(op, errx.Invalid, errors.New("already liked"))
	}

	// Optimistic apply. confirmed stays untouched until the server
	// answers, so rollback is a matter of zeroing the delta.
	t.state = StateProcessing
	t.pushed = false
	if unlike {
		t.pending = -1
		t.liked = false
	} else {
		t.pending = 1
		t.liked = true
	}
	t.mu.Unlock()

	mctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	token, err := t.identity.GetOrCreate()
	var mutErr error
	if err != nil {
		mutErr = fmt.Errorf("visitor identity: %w", err)
	} else if unlike {
		mutErr = t.store.RemoveRecord(mctx, t.entityID, token)
	} else {
		mutErr = t.store.AddRecord(mctx, t.entityID, token)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = StateReady
	t.pending = 0

	switch {
	case mutErr == nil:
		t.liked = !unlike
		// If a pushed counter value landed mid-flight it already carries
		// this mutation's effect; confirming locally on top of it would
		// double-count.
		if !t.pushed {
			if unlike {
				if t.confirmed > 0 {
					t.confirmed--
				}
			} else {
				t.confirmed++
			}
		}
		return nil

	case !unlike && errors.Is(mutErr, ErrAlreadyLiked):
		// A duplicate tab won the race. The like stands, but the counter
		// already accounts for it: no extra increment.
		t.liked = true
		return nil

	default:
		t.liked = unlike
		return errx.E(op, errx.Unavailable, mutErr)
	}
}

// ApplyCounterUpdate replaces the confirmed count with a pushed value.
// Replacement, never addition: summing a push with the local count would
// double-count the visitor's own like echoed back by the feed.
func (t *Tracker) ApplyCounterUpdate(count int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if count < 0 {
		count = 0
	}
	t.confirmed = count
	if t.state == StateProcessing {
		t.pushed = true
	}
}

// Sync subscribes to the store's counter feed and applies pushed values
// until ctx is cancelled. onUpdate, if non-nil, observes each applied
// value with the resulting displayed count.
func (t *Tracker) Sync(ctx context.Context, onUpdate func(count int64)) error {
	const op = "engagement.tracker.Sync"

	ch, err := t.store.SubscribeCounter(ctx, t.entityID)
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}

	for count := range ch {
		t.ApplyCounterUpdate(count)
		if onUpdate != nil {
			onUpdate(t.Count())
		}
	}
	return ctx.Err()
}
