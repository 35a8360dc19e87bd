package social

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGuard(t *testing.T) (*Guard, *SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	return NewGuard(store, testLogger(), 3), store
}

func TestGuardSelfRelationship(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()
	addUser(t, store, "a")

	ops := map[string]func() Outcome{
		"follow":   func() Outcome { return guard.Follow(ctx, "a", "a") },
		"unfollow": func() Outcome { return guard.Unfollow(ctx, "a", "a") },
		"request":  func() Outcome { return guard.RequestFriendship(ctx, "a", "a") },
		"cancel":   func() Outcome { return guard.CancelRequest(ctx, "a", "a") },
		"accept":   func() Outcome { return guard.AcceptRequest(ctx, "a", "a") },
		"unfriend": func() Outcome { return guard.DeleteFriendship(ctx, "a", "a") },
	}
	for name, op := range ops {
		if out := op(); out.Status != StatusSameUser {
			t.Errorf("%s(a, a) status = %s, want same_user", name, out.Status)
		}
	}
}

func TestGuardUnknownUser(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()
	addUser(t, store, "a")

	out := guard.Follow(ctx, "a", "ghost")
	if out.Status != StatusNotFound {
		t.Fatalf("status = %s, want not_found", out.Status)
	}
	if out.Missing != "ghost" {
		t.Errorf("Missing = %q, want %q", out.Missing, "ghost")
	}

	out = guard.Follow(ctx, "ghost", "a")
	if out.Status != StatusNotFound || out.Missing != "ghost" {
		t.Errorf("outcome = %+v, want not_found for ghost", out)
	}
}

func TestGuardFollowRoundTrip(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	if out := guard.Follow(ctx, "a", "b"); !out.OK() {
		t.Fatalf("Follow: %s", out)
	}
	if out := guard.Follow(ctx, "a", "b"); out.Status != StatusConflict || out.Reason != AlreadyFollowing {
		t.Errorf("duplicate Follow = %+v, want conflict already_following", out)
	}
	if out := guard.Unfollow(ctx, "a", "b"); !out.OK() {
		t.Fatalf("Unfollow: %s", out)
	}
	if out := guard.Unfollow(ctx, "a", "b"); out.Status != StatusConflict || out.Reason != NotFollowing {
		t.Errorf("second Unfollow = %+v, want conflict not_following", out)
	}

	if c := counters(t, store, "b"); c != [4]int{0, 0, 0, 0} {
		t.Errorf("b counters after round trip = %v, want all zero", c)
	}
}

func TestGuardFriendLifecycle(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	if out := guard.RequestFriendship(ctx, "a", "b"); !out.OK() {
		t.Fatalf("RequestFriendship: %s", out)
	}
	if out := guard.RequestFriendship(ctx, "a", "b"); out.Reason != RequestAlreadyExists {
		t.Errorf("duplicate request = %+v, want request_already_exists", out)
	}
	if out := guard.RequestFriendship(ctx, "b", "a"); out.Reason != RequestAlreadyExists {
		t.Errorf("reverse request = %+v, want request_already_exists", out)
	}

	if out := guard.AcceptRequest(ctx, "b", "a"); !out.OK() {
		t.Fatalf("AcceptRequest: %s", out)
	}
	if out := guard.RequestFriendship(ctx, "a", "b"); out.Reason != AlreadyFriends {
		t.Errorf("request between friends = %+v, want already_friends", out)
	}
	if out := guard.CancelRequest(ctx, "a", "b"); out.Reason != AlreadyFriends {
		t.Errorf("cancel between friends = %+v, want already_friends", out)
	}
	if out := guard.AcceptRequest(ctx, "b", "a"); out.Reason != AlreadyFriends {
		t.Errorf("second accept = %+v, want already_friends", out)
	}

	if out := guard.DeleteFriendship(ctx, "b", "a"); !out.OK() {
		t.Fatalf("DeleteFriendship: %s", out)
	}
	if out := guard.DeleteFriendship(ctx, "a", "b"); out.Reason != FriendshipDoesNotExist {
		t.Errorf("second delete = %+v, want friendship_does_not_exist", out)
	}

	if c := counters(t, store, "a"); c != [4]int{0, 0, 0, 0} {
		t.Errorf("a counters after lifecycle = %v, want all zero", c)
	}
	if c := counters(t, store, "b"); c != [4]int{0, 0, 0, 0} {
		t.Errorf("b counters after lifecycle = %v, want all zero", c)
	}
}

func TestGuardCancelThenReRequest(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	if out := guard.RequestFriendship(ctx, "a", "b"); !out.OK() {
		t.Fatalf("RequestFriendship: %s", out)
	}
	if out := guard.CancelRequest(ctx, "a", "b"); !out.OK() {
		t.Fatalf("CancelRequest: %s", out)
	}

	// After cancellation the pair is back to its initial state; either
	// side may request again.
	if out := guard.RequestFriendship(ctx, "b", "a"); !out.OK() {
		t.Fatalf("re-request after cancel: %s", out)
	}
	if c := counters(t, store, "a"); c != [4]int{0, 0, 0, 1} {
		t.Errorf("a counters = %v, want pending=1", c)
	}
}

func TestGuardCancelWithoutRequest(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	if out := guard.CancelRequest(ctx, "a", "b"); out.Reason != RequestDoesNotExist {
		t.Errorf("CancelRequest = %+v, want request_does_not_exist", out)
	}
}

func TestGuardAcceptOnlyByAddressee(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	if out := guard.RequestFriendship(ctx, "a", "b"); !out.OK() {
		t.Fatalf("RequestFriendship: %s", out)
	}

	// The requester cannot accept its own request.
	if out := guard.AcceptRequest(ctx, "a", "b"); out.Reason != RequestDoesNotExist {
		t.Errorf("requester accepting own request = %+v, want request_does_not_exist", out)
	}

	if out := guard.AcceptRequest(ctx, "b", "a"); !out.OK() {
		t.Fatalf("AcceptRequest by addressee: %s", out)
	}
}

func TestGuardConcurrentFollow(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	const workers = 16
	outcomes := make(chan Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- guard.Follow(ctx, "a", "b")
		}()
	}
	wg.Wait()
	close(outcomes)

	applied := 0
	for out := range outcomes {
		switch out.Status {
		case StatusOK:
			applied++
		case StatusConflict:
			if out.Reason != AlreadyFollowing {
				t.Errorf("unexpected conflict reason %s", out.Reason)
			}
		default:
			t.Errorf("unexpected status %s: %+v", out.Status, out)
		}
	}
	if applied != 1 {
		t.Errorf("applied %d times, want exactly 1", applied)
	}
	if c := counters(t, store, "b"); c != [4]int{1, 0, 0, 0} {
		t.Errorf("b counters = %v, want followers=1", c)
	}
}

// flakyStore fails TryCreateFollow a fixed number of times before
// delegating to the wrapped store.
type flakyStore struct {
	RelationshipStore
	mu       sync.Mutex
	failures int
	retry    bool
	calls    int
}

func (f *flakyStore) TryCreateFollow(ctx context.Context, from, to string) (TxResult, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		err := errors.New("connection reset")
		if f.retry {
			return 0, &RetryableError{Err: err}
		}
		return 0, err
	}
	return f.RelationshipStore.TryCreateFollow(ctx, from, to)
}

func TestGuardRetriesTransientFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	flaky := &flakyStore{RelationshipStore: store, failures: 2, retry: true}
	guard := NewGuard(flaky, testLogger(), 3)

	out := guard.Follow(ctx, "a", "b")
	if !out.OK() {
		t.Fatalf("Follow after transient failures: %s", out)
	}
	if flaky.calls != 3 {
		t.Errorf("store called %d times, want 3", flaky.calls)
	}
	if c := counters(t, store, "b"); c != [4]int{1, 0, 0, 0} {
		t.Errorf("b counters = %v, want followers=1", c)
	}
}

func TestGuardExhaustsRetryBudget(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	flaky := &flakyStore{RelationshipStore: store, failures: 10, retry: true}
	guard := NewGuard(flaky, testLogger(), 3)

	out := guard.Follow(ctx, "a", "b")
	if out.Status != StatusError {
		t.Fatalf("status = %s, want error", out.Status)
	}
	if flaky.calls != 3 {
		t.Errorf("store called %d times, want 3", flaky.calls)
	}
}

func TestGuardDoesNotRetryPermanentFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	flaky := &flakyStore{RelationshipStore: store, failures: 10, retry: false}
	guard := NewGuard(flaky, testLogger(), 3)

	out := guard.Follow(ctx, "a", "b")
	if out.Status != StatusError {
		t.Fatalf("status = %s, want error", out.Status)
	}
	if flaky.calls != 1 {
		t.Errorf("store called %d times, want 1 (no retry)", flaky.calls)
	}
}

func TestGuardOnAppliedHook(t *testing.T) {
	guard, store := newTestGuard(t)
	ctx := context.Background()
	addUser(t, store, "a")
	addUser(t, store, "b")

	var events []Outcome
	guard.OnApplied(func(_ context.Context, out Outcome) {
		events = append(events, out)
	})

	guard.Follow(ctx, "a", "b")
	guard.Follow(ctx, "a", "b") // conflict, must not fire
	guard.Unfollow(ctx, "a", "b")

	if len(events) != 2 {
		t.Fatalf("hook fired %d times, want 2", len(events))
	}
	if events[0].Op != OpFollow || events[1].Op != OpUnfollow {
		t.Errorf("hook events = %+v", events)
	}
}

func TestOutcomeString(t *testing.T) {
	out := conflict(OpFollow, "a", "b", AlreadyFollowing)
	if got := out.String(); got != "follow(a, b): already_following" {
		t.Errorf("String() = %q", got)
	}
	out = notFound(OpUnfollow, "a", "b", "b")
	if got := out.String(); got != "unfollow(a, b): user b not found" {
		t.Errorf("String() = %q", got)
	}
}
