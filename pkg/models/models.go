package models

import "time"

// EdgeKind represents the kind of relationship between two users.
type EdgeKind string

// Edge kind constants for user relationships.
const (
	EdgeFollows       EdgeKind = "follows"
	EdgeFriendRequest EdgeKind = "friend_request"
	EdgeFriendOf      EdgeKind = "friend_of"
)

// SocialUser is a user node in the social graph. The four counters are
// denormalized: each must equal the number of edges of the matching
// kind incident to the user at every transaction boundary.
type SocialUser struct {
	ID        string    `json:"id"`
	UserName  string    `json:"user_name"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`

	FollowersCount     int `json:"followers_count"`
	FollowingCount     int `json:"following_count"`
	FriendCount        int `json:"friend_count"`
	FriendRequestCount int `json:"friend_request_count"`
}

// Edge is a relationship edge between two users. Follow and
// friend-request edges are directed; friendship edges are stored once
// under the canonical pair key and read as undirected.
type Edge struct {
	Kind   EdgeKind  `json:"kind"`
	FromID string    `json:"from_id"`
	ToID   string    `json:"to_id"`
	Since  time.Time `json:"since"`
}

// PairKey returns the canonical ordering of two user ids: the
// lexicographically smaller id first. Undirected relationships are
// keyed by this pair so the same friendship can never be stored twice.
func PairKey(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}
