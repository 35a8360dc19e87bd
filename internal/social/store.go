package social

import (
	"context"
	"errors"
	"fmt"

	"github.com/daironpf/socialseed/pkg/models"
)

// TxResult is the outcome of an atomic try* store primitive. The
// primitive re-checks its precondition and applies the edge mutation
// plus counter deltas in one transaction; the result it returns is the
// sole authority on whether the mutation happened.
type TxResult int

// Transactional outcomes.
const (
	TxApplied TxResult = iota
	TxAlreadyExists
	TxNotFound
	TxAlreadyFriends
)

func (r TxResult) String() string {
	switch r {
	case TxApplied:
		return "applied"
	case TxAlreadyExists:
		return "already_exists"
	case TxNotFound:
		return "not_found"
	case TxAlreadyFriends:
		return "already_friends"
	default:
		return "unknown"
	}
}

// RetryableError wraps a transient store failure (lock contention,
// timeout, connectivity). The guarded operation is safe to re-run from
// scratch because each attempt re-evaluates its preconditions.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// RelationshipStore persists the social graph. Every Try* method is an
// atomic compare-and-mutate: precondition check, edge change, and
// counter deltas commit together or not at all. Counter updates are
// expressed as in-place deltas, never read-modify-write.
type RelationshipStore interface {
	// Init creates schema objects (tables, constraints, indexes).
	Init(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error

	// CreateUser inserts a new user with all counters at zero.
	CreateUser(ctx context.Context, user models.SocialUser) error

	// GetUser retrieves a user by id, or nil if absent.
	GetUser(ctx context.Context, id string) (*models.SocialUser, error)

	// ListUsers returns up to limit users ordered by user name.
	ListUsers(ctx context.Context, limit int) ([]models.SocialUser, error)

	// DeleteUser removes a user. Incident edges are removed with it;
	// counters of the surviving peers are adjusted in the same
	// transaction.
	DeleteUser(ctx context.Context, id string) error

	// UserExists reports whether a user with the given id exists.
	UserExists(ctx context.Context, id string) (bool, error)

	// IsFollowing reports whether a follow edge from→to exists.
	IsFollowing(ctx context.Context, from, to string) (bool, error)

	// HasFriendRequestBetween reports whether a pending request exists
	// between the pair, in either direction.
	HasFriendRequestBetween(ctx context.Context, a, b string) (bool, error)

	// HasFriendRequestFrom reports whether a pending request exists in
	// exactly the direction from→to.
	HasFriendRequestFrom(ctx context.Context, from, to string) (bool, error)

	// IsFriend reports whether the pair is friends.
	IsFriend(ctx context.Context, a, b string) (bool, error)

	// TryCreateFollow creates the follow edge from→to and bumps
	// from.following / to.followers iff the edge is absent at mutation
	// time. Returns TxAlreadyExists otherwise.
	TryCreateFollow(ctx context.Context, from, to string) (TxResult, error)

	// TryDeleteFollow removes the follow edge from→to and decrements
	// the same counters iff it exists. Returns TxNotFound otherwise.
	TryDeleteFollow(ctx context.Context, from, to string) (TxResult, error)

	// TryCreateFriendRequest creates the request edge from→to and bumps
	// to.friendRequestCount iff no request exists between the pair in
	// either direction and the pair is not already friends.
	TryCreateFriendRequest(ctx context.Context, from, to string) (TxResult, error)

	// TryCancelFriendRequest removes the request edge from→to and
	// decrements to.friendRequestCount iff it exists.
	TryCancelFriendRequest(ctx context.Context, from, to string) (TxResult, error)

	// TryAcceptFriendRequest replaces the request edge
	// requester→accepter with the friendship edge: the delete, the
	// create, accepter.friendRequestCount-1 and both friendCount+1
	// commit as one unit.
	TryAcceptFriendRequest(ctx context.Context, requester, accepter string) (TxResult, error)

	// TryDeleteFriendship removes the friendship edge for the pair and
	// decrements both friendCount iff it exists.
	TryDeleteFriendship(ctx context.Context, a, b string) (TxResult, error)

	// Followers returns users following id, oldest follow first.
	Followers(ctx context.Context, id string, limit int) ([]models.SocialUser, error)

	// Following returns users id follows, oldest follow first.
	Following(ctx context.Context, id string, limit int) ([]models.SocialUser, error)

	// Friends returns the friends of id, oldest friendship first.
	Friends(ctx context.Context, id string, limit int) ([]models.SocialUser, error)

	// IncomingRequests returns users with a pending request to id.
	IncomingRequests(ctx context.Context, id string, limit int) ([]models.SocialUser, error)

	// OutgoingRequests returns users id has a pending request to.
	OutgoingRequests(ctx context.Context, id string, limit int) ([]models.SocialUser, error)

	// FollowSuggestions returns users id does not follow yet.
	FollowSuggestions(ctx context.Context, id string, limit int) ([]models.SocialUser, error)

	// FriendSuggestions returns users with no friendship or pending
	// request with id.
	FriendSuggestions(ctx context.Context, id string, limit int) ([]models.SocialUser, error)

	// CountUsers returns the number of stored users.
	CountUsers(ctx context.Context) (int, error)

	// CountEdges returns the number of stored edges of the given kind.
	CountEdges(ctx context.Context, kind models.EdgeKind) (int, error)
}

// CounterMismatch describes one user whose stored counter disagrees
// with the number of edges actually incident to it.
type CounterMismatch struct {
	UserID  string `json:"user_id"`
	Counter string `json:"counter"`
	Stored  int    `json:"stored"`
	Derived int    `json:"derived"`
}

func (m CounterMismatch) String() string {
	return fmt.Sprintf("user %s: %s stored=%d derived=%d", m.UserID, m.Counter, m.Stored, m.Derived)
}

// CounterAuditor is implemented by stores that can verify the counter
// invariant. A non-empty result is a programming-error class bug: the
// atomic primitives should make drift impossible.
type CounterAuditor interface {
	CheckCounters(ctx context.Context) ([]CounterMismatch, error)
}
