package social

import (
	"context"
	"log/slog"
	"time"
)

// Guard wraps every engine call behind one explicit composition:
// cheap validator pre-checks for fast rejection, the engine operation
// itself, and a bounded retry of the whole guarded call on transient
// store failures. Each retry re-runs the pre-checks and the atomic
// mutation from scratch; a raw write is never repeated blind, because
// state may have changed between attempts.
type Guard struct {
	follow   *FollowEngine
	friends  *FriendEngine
	validate *Validator
	logger   *slog.Logger
	attempts int

	// onApplied, when set, observes every outcome whose mutation
	// committed. Used for relationship change notifications.
	onApplied func(context.Context, Outcome)
}

// NewGuard creates a Guard over the two engines. attempts is the total
// try budget per operation; values below 1 are treated as 1.
func NewGuard(store RelationshipStore, logger *slog.Logger, attempts int) *Guard {
	if attempts < 1 {
		attempts = 1
	}
	validate := NewValidator(store)
	return &Guard{
		follow:   NewFollowEngine(store, validate, logger),
		friends:  NewFriendEngine(store, validate, logger),
		validate: validate,
		logger:   logger,
		attempts: attempts,
	}
}

// OnApplied registers a hook invoked after every committed mutation.
func (g *Guard) OnApplied(fn func(context.Context, Outcome)) {
	g.onApplied = fn
}

// Follow guards FollowEngine.Follow.
func (g *Guard) Follow(ctx context.Context, requester, target string) Outcome {
	return g.run(ctx, OpFollow, requester, target,
		func(ctx context.Context) (Outcome, bool) {
			if following, err := g.validate.IsFollowing(ctx, requester, target); err == nil && following {
				return conflict(OpFollow, requester, target, AlreadyFollowing), true
			}
			return Outcome{}, false
		},
		func(ctx context.Context) Outcome { return g.follow.Follow(ctx, requester, target) },
	)
}

// Unfollow guards FollowEngine.Unfollow.
func (g *Guard) Unfollow(ctx context.Context, requester, target string) Outcome {
	return g.run(ctx, OpUnfollow, requester, target,
		func(ctx context.Context) (Outcome, bool) {
			if following, err := g.validate.IsFollowing(ctx, requester, target); err == nil && !following {
				return conflict(OpUnfollow, requester, target, NotFollowing), true
			}
			return Outcome{}, false
		},
		func(ctx context.Context) Outcome { return g.follow.Unfollow(ctx, requester, target) },
	)
}

// RequestFriendship guards FriendEngine.RequestFriendship.
func (g *Guard) RequestFriendship(ctx context.Context, requester, target string) Outcome {
	return g.run(ctx, OpRequestFriendship, requester, target,
		func(ctx context.Context) (Outcome, bool) {
			if pending, err := g.validate.HasFriendRequest(ctx, requester, target); err == nil && pending {
				return conflict(OpRequestFriendship, requester, target, RequestAlreadyExists), true
			}
			if friends, err := g.validate.IsFriend(ctx, requester, target); err == nil && friends {
				return conflict(OpRequestFriendship, requester, target, AlreadyFriends), true
			}
			return Outcome{}, false
		},
		func(ctx context.Context) Outcome { return g.friends.RequestFriendship(ctx, requester, target) },
	)
}

// CancelRequest guards FriendEngine.CancelRequest.
func (g *Guard) CancelRequest(ctx context.Context, requester, target string) Outcome {
	return g.run(ctx, OpCancelRequest, requester, target,
		func(ctx context.Context) (Outcome, bool) {
			if friends, err := g.validate.IsFriend(ctx, requester, target); err == nil && friends {
				return conflict(OpCancelRequest, requester, target, AlreadyFriends), true
			}
			if pending, err := g.validate.HasFriendRequestFrom(ctx, requester, target); err == nil && !pending {
				return conflict(OpCancelRequest, requester, target, RequestDoesNotExist), true
			}
			return Outcome{}, false
		},
		func(ctx context.Context) Outcome { return g.friends.CancelRequest(ctx, requester, target) },
	)
}

// AcceptRequest guards FriendEngine.AcceptRequest. accepter must be
// the addressee of the pending request.
func (g *Guard) AcceptRequest(ctx context.Context, accepter, requester string) Outcome {
	return g.run(ctx, OpAcceptRequest, accepter, requester,
		func(ctx context.Context) (Outcome, bool) {
			if friends, err := g.validate.IsFriend(ctx, accepter, requester); err == nil && friends {
				return conflict(OpAcceptRequest, accepter, requester, AlreadyFriends), true
			}
			if pending, err := g.validate.HasFriendRequestFrom(ctx, requester, accepter); err == nil && !pending {
				return conflict(OpAcceptRequest, accepter, requester, RequestDoesNotExist), true
			}
			return Outcome{}, false
		},
		func(ctx context.Context) Outcome { return g.friends.AcceptRequest(ctx, accepter, requester) },
	)
}

// DeleteFriendship guards FriendEngine.DeleteFriendship.
func (g *Guard) DeleteFriendship(ctx context.Context, a, b string) Outcome {
	return g.run(ctx, OpDeleteFriendship, a, b,
		func(ctx context.Context) (Outcome, bool) {
			if friends, err := g.validate.IsFriend(ctx, a, b); err == nil && !friends {
				return conflict(OpDeleteFriendship, a, b, FriendshipDoesNotExist), true
			}
			return Outcome{}, false
		},
		func(ctx context.Context) Outcome { return g.friends.DeleteFriendship(ctx, a, b) },
	)
}

// run executes one guarded operation. Identity and existence reject
// before the relationship pre-check so the fast path cannot shadow a
// more fundamental error; a pre-check that passes (or fails to read)
// still leaves the final decision to the engine's atomic store call.
func (g *Guard) run(ctx context.Context, op Op, a, b string, pre func(context.Context) (Outcome, bool), call func(context.Context) Outcome) Outcome {
	if g.validate.SameUser(a, b) {
		return sameUser(op, a, b)
	}

	var out Outcome
	for attempt := 1; ; attempt++ {
		if missing, err := g.validate.checkUsers(ctx, a, b); err == nil && missing != "" {
			return notFound(op, a, b, missing)
		}
		if rejected, found := pre(ctx); found {
			return rejected
		}

		out = call(ctx)
		if out.Status != StatusError || !IsRetryable(out.Err) || attempt >= g.attempts {
			break
		}

		g.logger.Warn("transient store error, retrying operation",
			"op", out.Op, "attempt", attempt, "error", out.Err)
		select {
		case <-ctx.Done():
			return storeFailure(out.Op, out.UserA, out.UserB, ctx.Err())
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}

	if out.OK() && g.onApplied != nil {
		g.onApplied(ctx, out)
	}
	return out
}
