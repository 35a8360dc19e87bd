package social

import (
	"context"
	"log/slog"
)

// FollowEngine orchestrates follow and unfollow between users. The
// identity and existence checks run first for precise errors; the
// store's atomic primitive then re-decides existence of the edge at
// mutation time, so two racing calls can never both create it.
type FollowEngine struct {
	store    RelationshipStore
	validate *Validator
	logger   *slog.Logger
}

// NewFollowEngine creates a FollowEngine.
func NewFollowEngine(store RelationshipStore, validate *Validator, logger *slog.Logger) *FollowEngine {
	return &FollowEngine{store: store, validate: validate, logger: logger}
}

// Follow makes requester follow target.
func (e *FollowEngine) Follow(ctx context.Context, requester, target string) Outcome {
	if e.validate.SameUser(requester, target) {
		return sameUser(OpFollow, requester, target)
	}
	missing, err := e.validate.checkUsers(ctx, requester, target)
	if err != nil {
		return storeFailure(OpFollow, requester, target, err)
	}
	if missing != "" {
		return notFound(OpFollow, requester, target, missing)
	}

	res, err := e.store.TryCreateFollow(ctx, requester, target)
	if err != nil {
		return storeFailure(OpFollow, requester, target, err)
	}
	if res == TxAlreadyExists {
		return conflict(OpFollow, requester, target, AlreadyFollowing)
	}

	e.logger.Debug("follow created", "from", requester, "to", target)
	return ok(OpFollow, requester, target)
}

// Unfollow makes requester stop following target.
func (e *FollowEngine) Unfollow(ctx context.Context, requester, target string) Outcome {
	if e.validate.SameUser(requester, target) {
		return sameUser(OpUnfollow, requester, target)
	}
	missing, err := e.validate.checkUsers(ctx, requester, target)
	if err != nil {
		return storeFailure(OpUnfollow, requester, target, err)
	}
	if missing != "" {
		return notFound(OpUnfollow, requester, target, missing)
	}

	res, err := e.store.TryDeleteFollow(ctx, requester, target)
	if err != nil {
		return storeFailure(OpUnfollow, requester, target, err)
	}
	if res == TxNotFound {
		return conflict(OpUnfollow, requester, target, NotFollowing)
	}

	e.logger.Debug("follow removed", "from", requester, "to", target)
	return ok(OpUnfollow, requester, target)
}
