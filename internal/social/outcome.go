package social

import "fmt"

// Status is the top-level classification of an operation outcome.
type Status string

// Outcome statuses.
const (
	StatusOK       Status = "ok"
	StatusSameUser Status = "same_user"
	StatusNotFound Status = "not_found"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
)

// ConflictReason names the precondition that rejected a mutation.
type ConflictReason string

// Conflict reasons.
const (
	AlreadyFollowing       ConflictReason = "already_following"
	NotFollowing           ConflictReason = "not_following"
	RequestAlreadyExists   ConflictReason = "request_already_exists"
	AlreadyFriends         ConflictReason = "already_friends"
	RequestDoesNotExist    ConflictReason = "request_does_not_exist"
	FriendshipDoesNotExist ConflictReason = "friendship_does_not_exist"
)

// Op names the engine operation an outcome belongs to.
type Op string

// Engine operations.
const (
	OpFollow            Op = "follow"
	OpUnfollow          Op = "unfollow"
	OpRequestFriendship Op = "request_friendship"
	OpCancelRequest     Op = "cancel_request"
	OpAcceptRequest     Op = "accept_request"
	OpDeleteFriendship  Op = "delete_friendship"
)

// Outcome is the structured result of one guarded relationship
// operation. Validation failures are values, never panics; they carry
// the operation, both user ids, and the rejecting reason so callers
// can build a precise message without reaching into the store.
type Outcome struct {
	Status  Status         `json:"status"`
	Op      Op             `json:"op"`
	UserA   string         `json:"user_a"`
	UserB   string         `json:"user_b"`
	Missing string         `json:"missing,omitempty"` // user id, when Status is not_found
	Reason  ConflictReason `json:"reason,omitempty"`  // set when Status is conflict
	Err     error          `json:"-"`                 // set when Status is error
}

// OK reports whether the operation applied its mutation.
func (o Outcome) OK() bool { return o.Status == StatusOK }

func (o Outcome) String() string {
	switch o.Status {
	case StatusOK:
		return fmt.Sprintf("%s(%s, %s): ok", o.Op, o.UserA, o.UserB)
	case StatusSameUser:
		return fmt.Sprintf("%s(%s, %s): same user", o.Op, o.UserA, o.UserB)
	case StatusNotFound:
		return fmt.Sprintf("%s(%s, %s): user %s not found", o.Op, o.UserA, o.UserB, o.Missing)
	case StatusConflict:
		return fmt.Sprintf("%s(%s, %s): %s", o.Op, o.UserA, o.UserB, o.Reason)
	default:
		return fmt.Sprintf("%s(%s, %s): store error: %v", o.Op, o.UserA, o.UserB, o.Err)
	}
}

func ok(op Op, a, b string) Outcome {
	return Outcome{Status: StatusOK, Op: op, UserA: a, UserB: b}
}

func sameUser(op Op, a, b string) Outcome {
	return Outcome{Status: StatusSameUser, Op: op, UserA: a, UserB: b}
}

func notFound(op Op, a, b, missing string) Outcome {
	return Outcome{Status: StatusNotFound, Op: op, UserA: a, UserB: b, Missing: missing}
}

func conflict(op Op, a, b string, reason ConflictReason) Outcome {
	return Outcome{Status: StatusConflict, Op: op, UserA: a, UserB: b, Reason: reason}
}

func storeFailure(op Op, a, b string, err error) Outcome {
	return Outcome{Status: StatusError, Op: op, UserA: a, UserB: b, Err: err}
}
