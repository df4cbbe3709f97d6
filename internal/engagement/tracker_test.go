package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"pawtag/internal/errx"
	"pawtag/internal/visitor"
)

/***************
 * Mocks
 ***************/

// mockStore implements Store for testing.
type mockStore struct {
	mu sync.Mutex

	fetchFunc     func(ctx context.Context, entityID uuid.UUID, visitorToken string) (State, error)
	addFunc       func(ctx context.Context, entityID uuid.UUID, visitorToken string) error
	removeFunc    func(ctx context.Context, entityID uuid.UUID, visitorToken string) error
	subscribeFunc func(ctx context.Context, entityID uuid.UUID) (<-chan int64, error)

	addCalls    int
	removeCalls int
}

func (m *mockStore) FetchState(ctx context.Context, entityID uuid.UUID, visitorToken string) (State, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, entityID, visitorToken)
	}
	return State{}, nil
}

func (m *mockStore) AddRecord(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
	m.mu.Lock()
	m.addCalls++
	m.mu.Unlock()
	if m.addFunc != nil {
		return m.addFunc(ctx, entityID, visitorToken)
	}
	return nil
}

func (m *mockStore) RemoveRecord(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
	m.mu.Lock()
	m.removeCalls++
	m.mu.Unlock()
	if m.removeFunc != nil {
		return m.removeFunc(ctx, entityID, visitorToken)
	}
	return nil
}

func (m *mockStore) SubscribeCounter(ctx context.Context, entityID uuid.UUID) (<-chan int64, error) {
	if m.subscribeFunc != nil {
		return m.subscribeFunc(ctx, entityID)
	}
	ch := make(chan int64)
	close(ch)
	return ch, nil
}

func (m *mockStore) mutations() (adds, removes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCalls, m.removeCalls
}

func newTestTracker(store Store) *Tracker {
	return NewTracker(uuid.New(), TrackerConfig{
		Store:    store,
		Identity: visitor.NewMemProvider(nil, "visitor-1"),
	})
}

func fetchReturning(count int64, liked bool) func(context.Context, uuid.UUID, string) (State, error) {
	return func(ctx context.Context, entityID uuid.UUID, visitorToken string) (State, error) {
		return State{Count: count, Liked: liked}, nil
	}
}

/***************
 * Load
 ***************/

func TestTracker_Load(t *testing.T) {
	t.Run("idle to ready with fetched state", func(t *testing.T) {
		store := &mockStore{fetchFunc: fetchReturning(7, false)}
		tr := newTestTracker(store)

		if tr.State() != StateIdle {
			t.Fatalf("initial state = %s, want idle", tr.State())
		}

		if err := tr.Load(context.Background()); err != nil {
			t.Fatalf("Load() failed: %v", err)
		}

		if tr.State() != StateReady {
			t.Errorf("state = %s, want ready", tr.State())
		}
		if tr.Count() != 7 {
			t.Errorf("Count() = %d, want 7", tr.Count())
		}
		if tr.Liked() {
			t.Error("Liked() = true, want false")
		}
	})

	t.Run("fetch failure degrades to error state with zero count", func(t *testing.T) {
		store := &mockStore{
			fetchFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) (State, error) {
				return State{}, errors.New("store down")
			},
		}
		tr := newTestTracker(store)

		err := tr.Load(context.Background())
		if err == nil {
			t.Fatal("Load() should fail when fetch fails")
		}
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("error kind = %s, want Unavailable", errx.KindOf(err))
		}
		if tr.State() != StateError {
			t.Errorf("state = %s, want error", tr.State())
		}
		if tr.Count() != 0 {
			t.Errorf("Count() = %d, want 0 fallback", tr.Count())
		}
	})

	t.Run("error state is retryable", func(t *testing.T) {
		failing := true
		store := &mockStore{
			fetchFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) (State, error) {
				if failing {
					return State{}, errors.New("store down")
				}
				return State{Count: 3, Liked: true}, nil
			},
		}
		tr := newTestTracker(store)

		if err := tr.Load(context.Background()); err == nil {
			t.Fatal("first Load() should fail")
		}

		failing = false
		if err := tr.Load(context.Background()); err != nil {
			t.Fatalf("retry Load() failed: %v", err)
		}
		if tr.State() != StateReady || tr.Count() != 3 || !tr.Liked() {
			t.Errorf("after retry: state=%s count=%d liked=%v, want ready/3/true",
				tr.State(), tr.Count(), tr.Liked())
		}
	})

	t.Run("does not mint an identity on read", func(t *testing.T) {
		var sawToken string
		store := &mockStore{
			fetchFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) (State, error) {
				sawToken = visitorToken
				return State{Count: 1}, nil
			},
		}
		tr := NewTracker(uuid.New(), TrackerConfig{
			Store:    store,
			Identity: visitor.NewMemProvider(nil, ""),
		})

		if err := tr.Load(context.Background()); err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if sawToken != "" {
			t.Errorf("fetch saw token %q, want unidentified read", sawToken)
		}
	})
}

/***************
 * Like / Unlike
 ***************/

func TestTracker_Like(t *testing.T) {
	t.Run("increments count by exactly one on success", func(t *testing.T) {
		store := &mockStore{fetchFunc: fetchReturning(7, false)}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		if err := tr.Like(context.Background()); err != nil {
			t.Fatalf("Like() failed: %v", err)
		}

		if tr.Count() != 8 {
			t.Errorf("Count() = %d, want 8", tr.Count())
		}
		if !tr.Liked() {
			t.Error("Liked() = false, want true")
		}
		if tr.State() != StateReady {
			t.Errorf("state = %s, want ready", tr.State())
		}
	})

	t.Run("uniqueness conflict is success without extra increment", func(t *testing.T) {
		store := &mockStore{
			fetchFunc: fetchReturning(8, false),
			addFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
				return ErrAlreadyLiked
			},
		}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		if err := tr.Like(context.Background()); err != nil {
			t.Fatalf("Like() should treat conflict as success, got %v", err)
		}
		if !tr.Liked() {
			t.Error("Liked() = false, want true after conflict")
		}
		if tr.Count() != 8 {
			t.Errorf("Count() = %d, want unchanged 8", tr.Count())
		}
	})

	t.Run("other failure rolls back exactly", func(t *testing.T) {
		store := &mockStore{
			fetchFunc: fetchReturning(7, false),
			addFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
				return errors.New("store down")
			},
		}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		err := tr.Like(context.Background())
		if err == nil {
			t.Fatal("Like() should fail")
		}
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("error kind = %s, want Unavailable", errx.KindOf(err))
		}
		if tr.Count() != 7 || tr.Liked() {
			t.Errorf("after rollback: count=%d liked=%v, want 7/false", tr.Count(), tr.Liked())
		}
		if tr.State() != StateReady {
			t.Errorf("state = %s, want ready for retry", tr.State())
		}
	})

	t.Run("rejected when already liked", func(t *testing.T) {
		store := &mockStore{fetchFunc: fetchReturning(5, true)}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		err := tr.Like(context.Background())
		if errx.KindOf(err) != errx.Invalid {
			t.Errorf("Like() on liked pet: kind = %s, want Invalid", errx.KindOf(err))
		}
		if tr.Count() != 5 {
			t.Errorf("Count() = %d, want untouched 5", tr.Count())
		}
	})
}

func TestTracker_Unlike(t *testing.T) {
	t.Run("decrements count on success", func(t *testing.T) {
		store := &mockStore{fetchFunc: fetchReturning(8, true)}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		if err := tr.Unlike(context.Background()); err != nil {
			t.Fatalf("Unlike() failed: %v", err)
		}
		if tr.Count() != 7 || tr.Liked() {
			t.Errorf("count=%d liked=%v, want 7/false", tr.Count(), tr.Liked())
		}
	})

	t.Run("count never goes negative", func(t *testing.T) {
		// Drifted state: liked but counter already at zero.
		store := &mockStore{fetchFunc: fetchReturning(0, true)}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		if err := tr.Unlike(context.Background()); err != nil {
			t.Fatalf("Unlike() failed: %v", err)
		}
		if tr.Count() != 0 {
			t.Errorf("Count() = %d, want floored 0", tr.Count())
		}
	})

	t.Run("failure rolls back like-flag and count", func(t *testing.T) {
		store := &mockStore{
			fetchFunc: fetchReturning(4, true),
			removeFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
				return errors.New("store down")
			},
		}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		if err := tr.Unlike(context.Background()); err == nil {
			t.Fatal("Unlike() should fail")
		}
		if tr.Count() != 4 || !tr.Liked() {
			t.Errorf("after rollback: count=%d liked=%v, want 4/true", tr.Count(), tr.Liked())
		}
	})

	t.Run("rejected when not liked", func(t *testing.T) {
		store := &mockStore{fetchFunc: fetchReturning(4, false)}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		err := tr.Unlike(context.Background())
		if errx.KindOf(err) != errx.Invalid {
			t.Errorf("Unlike() on unliked pet: kind = %s, want Invalid", errx.KindOf(err))
		}
	})
}

/***************
 * Toggle
 ***************/

func TestTracker_Toggle(t *testing.T) {
	t.Run("like then unlike round-trips", func(t *testing.T) {
		store := &mockStore{fetchFunc: fetchReturning(7, false)}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		if err := tr.Toggle(context.Background()); err != nil {
			t.Fatalf("first Toggle() failed: %v", err)
		}
		if tr.Count() != 8 || !tr.Liked() {
			t.Fatalf("after like: count=%d liked=%v, want 8/true", tr.Count(), tr.Liked())
		}

		if err := tr.Toggle(context.Background()); err != nil {
			t.Fatalf("second Toggle() failed: %v", err)
		}
		if tr.Count() != 7 || tr.Liked() {
			t.Errorf("after round-trip: count=%d liked=%v, want 7/false", tr.Count(), tr.Liked())
		}
	})

	t.Run("second toggle while processing is a no-op", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{})
		store := &mockStore{
			fetchFunc: fetchReturning(7, false),
			addFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
				close(entered)
				<-release
				return nil
			},
		}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		done := make(chan error, 1)
		go func() { done <- tr.Toggle(context.Background()) }()

		<-entered
		if tr.State() != StateProcessing {
			t.Fatalf("state = %s, want processing", tr.State())
		}

		// Rapid second click: must return immediately with no mutation.
		if err := tr.Toggle(context.Background()); err != nil {
			t.Fatalf("concurrent Toggle() = %v, want nil no-op", err)
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatalf("first Toggle() failed: %v", err)
		}

		adds, removes := store.mutations()
		if adds != 1 || removes != 0 {
			t.Errorf("mutations = %d adds, %d removes, want exactly 1 add", adds, removes)
		}
		if tr.Count() != 8 || !tr.Liked() {
			t.Errorf("count=%d liked=%v, want 8/true", tr.Count(), tr.Liked())
		}
	})

	t.Run("optimistic count is visible while processing", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{})
		store := &mockStore{
			fetchFunc: fetchReturning(7, false),
			addFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
				close(entered)
				<-release
				return nil
			},
		}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		done := make(chan error, 1)
		go func() { done <- tr.Toggle(context.Background()) }()

		<-entered
		if tr.Count() != 8 || !tr.Liked() {
			t.Errorf("mid-flight: count=%d liked=%v, want optimistic 8/true", tr.Count(), tr.Liked())
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatalf("Toggle() failed: %v", err)
		}
	})

	t.Run("hung mutation is bounded by the toggle timeout", func(t *testing.T) {
		store := &mockStore{
			fetchFunc: fetchReturning(7, false),
			addFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
				<-ctx.Done()
				return ctx.Err()
			},
		}
		tr := NewTracker(uuid.New(), TrackerConfig{
			Store:         store,
			Identity:      visitor.NewMemProvider(nil, "visitor-1"),
			ToggleTimeout: 1, // nanosecond: expire immediately
		})
		mustLoad(t, tr)

		if err := tr.Toggle(context.Background()); err == nil {
			t.Fatal("Toggle() should fail when the store call hangs")
		}
		if tr.State() != StateReady {
			t.Errorf("state = %s, want ready after timeout", tr.State())
		}
		if tr.Count() != 7 || tr.Liked() {
			t.Errorf("count=%d liked=%v, want rolled back 7/false", tr.Count(), tr.Liked())
		}
	})
}

/***************
 * Counter pushes
 ***************/

func TestTracker_ApplyCounterUpdate(t *testing.T) {
	t.Run("replaces the confirmed count", func(t *testing.T) {
		store := &mockStore{fetchFunc: fetchReturning(7, false)}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		tr.ApplyCounterUpdate(12)
		if tr.Count() != 12 {
			t.Errorf("Count() = %d, want replaced 12", tr.Count())
		}

		// A second identical push is idempotent, not additive.
		tr.ApplyCounterUpdate(12)
		if tr.Count() != 12 {
			t.Errorf("Count() = %d after duplicate push, want 12", tr.Count())
		}
	})

	t.Run("negative pushed value is clamped", func(t *testing.T) {
		store := &mockStore{fetchFunc: fetchReturning(2, false)}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		tr.ApplyCounterUpdate(-3)
		if tr.Count() != 0 {
			t.Errorf("Count() = %d, want 0", tr.Count())
		}
	})

	t.Run("push during mutation suppresses local confirm", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{})
		store := &mockStore{
			fetchFunc: fetchReturning(7, false),
			addFunc: func(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
				close(entered)
				<-release
				return nil
			},
		}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		done := make(chan error, 1)
		go func() { done <- tr.Toggle(context.Background()) }()

		<-entered
		// The feed echoes our own insert before the call settles.
		tr.ApplyCounterUpdate(8)

		close(release)
		if err := <-done; err != nil {
			t.Fatalf("Toggle() failed: %v", err)
		}

		if tr.Count() != 8 {
			t.Errorf("Count() = %d, want 8 (no double count)", tr.Count())
		}
		if !tr.Liked() {
			t.Error("Liked() = false, want true")
		}
	})
}

func TestTracker_Sync(t *testing.T) {
	t.Run("applies pushed values until the feed closes", func(t *testing.T) {
		feed := make(chan int64, 3)
		feed <- 9
		feed <- 11
		feed <- 10
		close(feed)

		store := &mockStore{
			fetchFunc: fetchReturning(7, false),
			subscribeFunc: func(ctx context.Context, entityID uuid.UUID) (<-chan int64, error) {
				return feed, nil
			},
		}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		var seen []int64
		if err := tr.Sync(context.Background(), func(count int64) {
			seen = append(seen, count)
		}); err != nil {
			t.Fatalf("Sync() failed: %v", err)
		}

		if len(seen) != 3 || seen[0] != 9 || seen[1] != 11 || seen[2] != 10 {
			t.Errorf("observed counts = %v, want [9 11 10]", seen)
		}
		if tr.Count() != 10 {
			t.Errorf("Count() = %d, want last pushed 10", tr.Count())
		}
	})

	t.Run("subscribe failure is Unavailable", func(t *testing.T) {
		store := &mockStore{
			fetchFunc: fetchReturning(7, false),
			subscribeFunc: func(ctx context.Context, entityID uuid.UUID) (<-chan int64, error) {
				return nil, errors.New("feed down")
			},
		}
		tr := newTestTracker(store)
		mustLoad(t, tr)

		err := tr.Sync(context.Background(), nil)
		if errx.KindOf(err) != errx.Unavailable {
			t.Errorf("error kind = %s, want Unavailable", errx.KindOf(err))
		}
	})
}

/***************
 * Scenarios
 ***************/

// Fresh visitor scans a tag, likes the pet, reloads, and sees the
// like held by the authoritative store rather than replayed locally.
func TestTracker_FreshVisitorScenario(t *testing.T) {
	entityID := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")

	serverCount := int64(7)
	serverLiked := false
	store := &mockStore{
		addFunc: func(ctx context.Context, id uuid.UUID, token string) error {
			serverCount++
			serverLiked = true
			return nil
		},
	}
	store.fetchFunc = func(ctx context.Context, id uuid.UUID, token string) (State, error) {
		return State{Count: serverCount, Liked: serverLiked && token != ""}, nil
	}

	identity := visitor.NewMemProvider(nil, "")
	tr := NewTracker(entityID, TrackerConfig{Store: store, Identity: identity})

	if err := tr.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if tr.Count() != 7 || tr.Liked() {
		t.Fatalf("initial: count=%d liked=%v, want 7/false", tr.Count(), tr.Liked())
	}

	if err := tr.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle() failed: %v", err)
	}
	if tr.Count() != 8 || !tr.Liked() {
		t.Fatalf("after like: count=%d liked=%v, want 8/true", tr.Count(), tr.Liked())
	}

	token, ok, err := identity.Get()
	if err != nil || !ok || token == "" {
		t.Fatalf("identity not persisted by like: token=%q ok=%v err=%v", token, ok, err)
	}

	// Reload: a fresh tracker with the same identity reads state straight
	// from the store, with no local optimistic replay.
	reloaded := NewTracker(entityID, TrackerConfig{Store: store, Identity: identity})
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatalf("Load() after reload failed: %v", err)
	}
	if reloaded.Count() != 8 || !reloaded.Liked() {
		t.Errorf("after reload: count=%d liked=%v, want 8/true", reloaded.Count(), reloaded.Liked())
	}

	again, err := identity.GetOrCreate()
	if err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	if again != token {
		t.Errorf("identity regenerated across reload: %q vs %q", again, token)
	}
}

func mustLoad(t *testing.T, tr *Tracker) {
	t.Helper()
	if err := tr.Load(context.Background()); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
}
