package social

import "context"

// Validator exposes the pure relationship predicates. The guard runs
// them for cheap early rejection and precise error messages; the
// atomic try* store primitives remain the authority on the final
// decision, so a stale answer here can cost a round trip but never
// corrupt state.
type Validator struct {
	store RelationshipStore
}

// NewValidator creates a Validator over the given store.
func NewValidator(store RelationshipStore) *Validator {
	return &Validator{store: store}
}

// SameUser reports whether both ids name the same user.
func (v *Validator) SameUser(a, b string) bool {
	return a == b
}

// UserExists reports whether the user exists.
func (v *Validator) UserExists(ctx context.Context, id string) (bool, error) {
	return v.store.UserExists(ctx, id)
}

// IsFollowing reports whether a follows b.
func (v *Validator) IsFollowing(ctx context.Context, a, b string) (bool, error) {
	return v.store.IsFollowing(ctx, a, b)
}

// HasFriendRequest reports whether a pending request exists between
// the pair in either direction.
func (v *Validator) HasFriendRequest(ctx context.Context, a, b string) (bool, error) {
	return v.store.HasFriendRequestBetween(ctx, a, b)
}

// HasFriendRequestFrom reports whether a pending request exists in
// exactly the direction from→to.
func (v *Validator) HasFriendRequestFrom(ctx context.Context, from, to string) (bool, error) {
	return v.store.HasFriendRequestFrom(ctx, from, to)
}

// IsFriend reports whether the pair is friends.
func (v *Validator) IsFriend(ctx context.Context, a, b string) (bool, error) {
	return v.store.IsFriend(ctx, a, b)
}

// checkUsers verifies both users exist, returning the id of the first
// missing one.
func (v *Validator) checkUsers(ctx context.Context, a, b string) (missing string, err error) {
	for _, id := range []string{a, b} {
		exists, err := v.store.UserExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", nil
}
