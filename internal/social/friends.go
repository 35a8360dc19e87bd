package social

import (
	"context"
	"log/slog"
)

// FriendEngine drives the friendship state machine for an unordered
// pair of users: None → Requested(direction) → Friends → None. Each
// transition is decided by one atomic store primitive; the engine's
// own checks only produce earlier, more specific rejections.
type FriendEngine struct {
	store    RelationshipStore
	validate *Validator
	logger   *slog.Logger
}

// NewFriendEngine creates a FriendEngine.
func NewFriendEngine(store RelationshipStore, validate *Validator, logger *slog.Logger) *FriendEngine {
	return &FriendEngine{store: store, validate: validate, logger: logger}
}

// RequestFriendship creates a pending request requester→target. A
// request already pending in either direction, or an existing
// friendship, rejects the transition.
func (e *FriendEngine) RequestFriendship(ctx context.Context, requester, target string) Outcome {
	if e.validate.SameUser(requester, target) {
		return sameUser(OpRequestFriendship, requester, target)
	}
	missing, err := e.validate.checkUsers(ctx, requester, target)
	if err != nil {
		return storeFailure(OpRequestFriendship, requester, target, err)
	}
	if missing != "" {
		return notFound(OpRequestFriendship, requester, target, missing)
	}

	res, err := e.store.TryCreateFriendRequest(ctx, requester, target)
	if err != nil {
		return storeFailure(OpRequestFriendship, requester, target, err)
	}
	switch res {
	case TxAlreadyExists:
		return conflict(OpRequestFriendship, requester, target, RequestAlreadyExists)
	case TxAlreadyFriends:
		return conflict(OpRequestFriendship, requester, target, AlreadyFriends)
	}

	e.logger.Debug("friend request created", "from", requester, "to", target)
	return ok(OpRequestFriendship, requester, target)
}

// CancelRequest withdraws the pending request requester→target. Only
// the sender may cancel, and only in the exact direction it was sent.
// A pair that is already friends rejects cancellation; the two states
// exclude each other by construction, but the check is kept so a
// corrupted pair surfaces as a conflict instead of a silent no-op.
func (e *FriendEngine) CancelRequest(ctx context.Context, requester, target string) Outcome {
	if e.validate.SameUser(requester, target) {
		return sameUser(OpCancelRequest, requester, target)
	}
	missing, err := e.validate.checkUsers(ctx, requester, target)
	if err != nil {
		return storeFailure(OpCancelRequest, requester, target, err)
	}
	if missing != "" {
		return notFound(OpCancelRequest, requester, target, missing)
	}

	friends, err := e.validate.IsFriend(ctx, requester, target)
	if err != nil {
		return storeFailure(OpCancelRequest, requester, target, err)
	}
	if friends {
		return conflict(OpCancelRequest, requester, target, AlreadyFriends)
	}

	res, err := e.store.TryCancelFriendRequest(ctx, requester, target)
	if err != nil {
		return storeFailure(OpCancelRequest, requester, target, err)
	}
	if res == TxNotFound {
		return conflict(OpCancelRequest, requester, target, RequestDoesNotExist)
	}

	e.logger.Debug("friend request canceled", "from", requester, "to", target)
	return ok(OpCancelRequest, requester, target)
}

// AcceptRequest turns the pending request requester→accepter into a
// friendship. Only the addressee may accept; the store swaps the
// request edge for the friendship edge atomically, so the pair is
// never observed with neither edge present.
func (e *FriendEngine) AcceptRequest(ctx context.Context, accepter, requester string) Outcome {
	if e.validate.SameUser(accepter, requester) {
		return sameUser(OpAcceptRequest, accepter, requester)
	}
	missing, err := e.validate.checkUsers(ctx, accepter, requester)
	if err != nil {
		return storeFailure(OpAcceptRequest, accepter, requester, err)
	}
	if missing != "" {
		return notFound(OpAcceptRequest, accepter, requester, missing)
	}

	res, err := e.store.TryAcceptFriendRequest(ctx, requester, accepter)
	if err != nil {
		return storeFailure(OpAcceptRequest, accepter, requester, err)
	}
	switch res {
	case TxNotFound:
		return conflict(OpAcceptRequest, accepter, requester, RequestDoesNotExist)
	case TxAlreadyFriends:
		return conflict(OpAcceptRequest, accepter, requester, AlreadyFriends)
	}

	e.logger.Debug("friendship accepted", "requester", requester, "accepter", accepter)
	return ok(OpAcceptRequest, accepter, requester)
}

// DeleteFriendship dissolves the friendship between a and b. Either
// side may initiate.
func (e *FriendEngine) DeleteFriendship(ctx context.Context, a, b string) Outcome {
	if e.validate.SameUser(a, b) {
		return sameUser(OpDeleteFriendship, a, b)
	}
	missing, err := e.validate.checkUsers(ctx, a, b)
	if err != nil {
		return storeFailure(OpDeleteFriendship, a, b, err)
	}
	if missing != "" {
		return notFound(OpDeleteFriendship, a, b, missing)
	}

	res, err := e.store.TryDeleteFriendship(ctx, a, b)
	if err != nil {
		return storeFailure(OpDeleteFriendship, a, b, err)
	}
	if res == TxNotFound {
		return conflict(OpDeleteFriendship, a, b, FriendshipDoesNotExist)
	}

	e.logger.Debug("friendship deleted", "a", a, "b", b)
	return ok(OpDeleteFriendship, a, b)
}
