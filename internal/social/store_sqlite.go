package social

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/daironpf/socialseed/pkg/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id                   TEXT PRIMARY KEY,
    user_name            TEXT NOT NULL UNIQUE,
    email                TEXT NOT NULL UNIQUE,
    full_name            TEXT NOT NULL DEFAULT '',
    created_at           DATETIME NOT NULL,
    followers_count      INTEGER NOT NULL DEFAULT 0 CHECK (followers_count >= 0),
    following_count      INTEGER NOT NULL DEFAULT 0 CHECK (following_count >= 0),
    friend_count         INTEGER NOT NULL DEFAULT 0 CHECK (friend_count >= 0),
    friend_request_count INTEGER NOT NULL DEFAULT 0 CHECK (friend_request_count >= 0)
);

CREATE TABLE IF NOT EXISTS follow_edges (
    from_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    to_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    since   DATETIME NOT NULL,
    PRIMARY KEY (from_id, to_id),
    CHECK (from_id <> to_id)
);

CREATE TABLE IF NOT EXISTS friend_requests (
    from_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    to_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    since   DATETIME NOT NULL,
    pair_lo TEXT NOT NULL,
    pair_hi TEXT NOT NULL,
    PRIMARY KEY (from_id, to_id),
    UNIQUE (pair_lo, pair_hi),
    CHECK (from_id <> to_id)
);

CREATE TABLE IF NOT EXISTS friend_edges (
    lo_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    hi_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    since DATETIME NOT NULL,
    PRIMARY KEY (lo_id, hi_id),
    CHECK (lo_id < hi_id)
);

CREATE INDEX IF NOT EXISTS idx_follow_to ON follow_edges(to_id);
CREATE INDEX IF NOT EXISTS idx_requests_to ON friend_requests(to_id);
CREATE INDEX IF NOT EXISTS idx_friend_hi ON friend_edges(hi_id);
`

// SQLiteStore implements RelationshipStore using SQLite. Transactions
// open with an immediate write lock, so every try* primitive observes
// and mutates the edge tables with no writer interleaved between its
// precondition check and its counter deltas.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Init creates the database schema if it doesn't exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// storeErr classifies a driver error: lock contention and timeouts are
// transient and safe to retry from a fresh transaction.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "busy") || strings.Contains(msg, "locked") || strings.Contains(msg, "timeout") {
		return &RetryableError{Err: err}
	}
	return err
}

// CreateUser inserts a new user with all counters at zero.
func (s *SQLiteStore) CreateUser(ctx context.Context, user models.SocialUser) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, user_name, email, full_name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.UserName, user.Email, user.FullName, user.CreatedAt.Format(time.RFC3339))
	return storeErr(err)
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.SocialUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_name, email, full_name, created_at,
		       followers_count, following_count, friend_count, friend_request_count
		FROM users WHERE id = ?
	`, id)
	return scanUser(row)
}

func scanUser(row interface{ Scan(dest ...any) error }) (*models.SocialUser, error) {
	var u models.SocialUser
	var createdAt string

	err := row.Scan(&u.ID, &u.UserName, &u.Email, &u.FullName, &createdAt,
		&u.FollowersCount, &u.FollowingCount, &u.FriendCount, &u.FriendRequestCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storeErr(err)
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

const userColumns = `u.id, u.user_name, u.email, u.full_name, u.created_at,
	u.followers_count, u.following_count, u.friend_count, u.friend_request_count`

func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]models.SocialUser, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var users []models.SocialUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, storeErr(rows.Err())
}

// ListUsers returns up to limit users ordered by user name.
func (s *SQLiteStore) ListUsers(ctx context.Context, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+` FROM users u ORDER BY u.user_name LIMIT ?
	`, limit)
}

// DeleteUser removes a user together with its incident edges and fixes
// the counters of every surviving peer inside one transaction.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	fixups := []struct {
		query string
		args  []any
	}{
		// peers who follow the deleted user lose one "following"
		{`UPDATE users SET following_count = following_count - 1
		  WHERE id IN (SELECT from_id FROM follow_edges WHERE to_id = ?)`, []any{id}},
		// peers the deleted user follows lose one follower
		{`UPDATE users SET followers_count = followers_count - 1
		  WHERE id IN (SELECT to_id FROM follow_edges WHERE from_id = ?)`, []any{id}},
		// friends of the deleted user lose one friend
		{`UPDATE users SET friend_count = friend_count - 1
		  WHERE id IN (SELECT hi_id FROM friend_edges WHERE lo_id = ?
		               UNION SELECT lo_id FROM friend_edges WHERE hi_id = ?)`, []any{id, id}},
		// peers with a pending request from the deleted user lose one pending
		{`UPDATE users SET friend_request_count = friend_request_count - 1
		  WHERE id IN (SELECT to_id FROM friend_requests WHERE from_id = ?)`, []any{id}},
	}
	for _, f := range fixups {
		if _, err := tx.ExecContext(ctx, f.query, f.args...); err != nil {
			return storeErr(err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return storeErr(err)
	}
	return storeErr(tx.Commit())
}

// UserExists reports whether a user with the given id exists.
func (s *SQLiteStore) UserExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM users WHERE id = ?`, id)
}

// IsFollowing reports whether a follow edge from→to exists.
func (s *SQLiteStore) IsFollowing(ctx context.Context, from, to string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM follow_edges WHERE from_id = ? AND to_id = ?`, from, to)
}

// HasFriendRequestBetween reports whether a pending request exists in
// either direction between the pair.
func (s *SQLiteStore) HasFriendRequestBetween(ctx context.Context, a, b string) (bool, error) {
	lo, hi := models.PairKey(a, b)
	return s.exists(ctx, `SELECT 1 FROM friend_requests WHERE pair_lo = ? AND pair_hi = ?`, lo, hi)
}

// HasFriendRequestFrom reports whether a pending request exists in
// exactly the direction from→to.
func (s *SQLiteStore) HasFriendRequestFrom(ctx context.Context, from, to string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM friend_requests WHERE from_id = ? AND to_id = ?`, from, to)
}

// IsFriend reports whether the pair is friends.
func (s *SQLiteStore) IsFriend(ctx context.Context, a, b string) (bool, error) {
	lo, hi := models.PairKey(a, b)
	return s.exists(ctx, `SELECT 1 FROM friend_edges WHERE lo_id = ? AND hi_id = ?`, lo, hi)
}

func (s *SQLiteStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	return true, nil
}

// TryCreateFollow creates the follow edge from→to and bumps both
// counters iff the edge is absent at mutation time.
func (s *SQLiteStore) TryCreateFollow(ctx context.Context, from, to string) (TxResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO follow_edges (from_id, to_id, since) VALUES (?, ?, ?)
	`, from, to, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return TxAlreadyExists, nil
	}

	if err := bumpCounter(ctx, tx, "following_count", +1, from); err != nil {
		return 0, err
	}
	if err := bumpCounter(ctx, tx, "followers_count", +1, to); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr(err)
	}
	return TxApplied, nil
}

// TryDeleteFollow removes the follow edge from→to and decrements both
// counters iff it exists.
func (s *SQLiteStore) TryDeleteFollow(ctx context.Context, from, to string) (TxResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `DELETE FROM follow_edges WHERE from_id = ? AND to_id = ?`, from, to)
	if err != nil {
		return 0, storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return TxNotFound, nil
	}

	if err := bumpCounter(ctx, tx, "following_count", -1, from); err != nil {
		return 0, err
	}
	if err := bumpCounter(ctx, tx, "followers_count", -1, to); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr(err)
	}
	return TxApplied, nil
}

// TryCreateFriendRequest creates the request edge from→to iff neither
// a request (in either direction) nor a friendship exists for the pair.
func (s *SQLiteStore) TryCreateFriendRequest(ctx context.Context, from, to string) (TxResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	lo, hi := models.PairKey(from, to)

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM friend_edges WHERE lo_id = ? AND hi_id = ?`, lo, hi).Scan(&one)
	if err == nil {
		return TxAlreadyFriends, nil
	}
	if err != sql.ErrNoRows {
		return 0, storeErr(err)
	}

	// UNIQUE(pair_lo, pair_hi) makes a reverse request conflict too.
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO friend_requests (from_id, to_id, since, pair_lo, pair_hi)
		VALUES (?, ?, ?, ?, ?)
	`, from, to, time.Now().UTC().Format(time.RFC3339), lo, hi)
	if err != nil {
		return 0, storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return TxAlreadyExists, nil
	}

	if err := bumpCounter(ctx, tx, "friend_request_count", +1, to); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr(err)
	}
	return TxApplied, nil
}

// TryCancelFriendRequest removes the request edge from→to iff it
// exists in exactly that direction.
func (s *SQLiteStore) TryCancelFriendRequest(ctx context.Context, from, to string) (TxResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `DELETE FROM friend_requests WHERE from_id = ? AND to_id = ?`, from, to)
	if err != nil {
		return 0, storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return TxNotFound, nil
	}

	if err := bumpCounter(ctx, tx, "friend_request_count", -1, to); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr(err)
	}
	return TxApplied, nil
}

// TryAcceptFriendRequest deletes the request requester→accepter and
// creates the friendship in the same transaction, so the pair is never
// observed with both edges absent.
func (s *SQLiteStore) TryAcceptFriendRequest(ctx context.Context, requester, accepter string) (TxResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	lo, hi := models.PairKey(requester, accepter)

	res, err := tx.ExecContext(ctx, `DELETE FROM friend_requests WHERE from_id = ? AND to_id = ?`, requester, accepter)
	if err != nil {
		return 0, storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM friend_edges WHERE lo_id = ? AND hi_id = ?`, lo, hi).Scan(&one)
		if err == nil {
			return TxAlreadyFriends, nil
		}
		if err != sql.ErrNoRows {
			return 0, storeErr(err)
		}
		return TxNotFound, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO friend_edges (lo_id, hi_id, since) VALUES (?, ?, ?)
	`, lo, hi, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return 0, storeErr(err)
	}

	if err := bumpCounter(ctx, tx, "friend_request_count", -1, accepter); err != nil {
		return 0, err
	}
	if err := bumpCounter(ctx, tx, "friend_count", +1, requester); err != nil {
		return 0, err
	}
	if err := bumpCounter(ctx, tx, "friend_count", +1, accepter); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr(err)
	}
	return TxApplied, nil
}

// TryDeleteFriendship removes the friendship edge for the pair and
// decrements both friend counters iff it exists.
func (s *SQLiteStore) TryDeleteFriendship(ctx context.Context, a, b string) (TxResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	lo, hi := models.PairKey(a, b)

	res, err := tx.ExecContext(ctx, `DELETE FROM friend_edges WHERE lo_id = ? AND hi_id = ?`, lo, hi)
	if err != nil {
		return 0, storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return TxNotFound, nil
	}

	if err := bumpCounter(ctx, tx, "friend_count", -1, a); err != nil {
		return 0, err
	}
	if err := bumpCounter(ctx, tx, "friend_count", -1, b); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr(err)
	}
	return TxApplied, nil
}

// bumpCounter applies an in-transaction delta. Read-modify-write from
// the caller's side would lose updates under concurrency.
func bumpCounter(ctx context.Context, tx *sql.Tx, column string, delta int, id string) error {
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = %s + ? WHERE id = ?`, column, column), delta, id)
	return storeErr(err)
}

// Followers returns users following id, oldest follow first.
func (s *SQLiteStore) Followers(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN follow_edges e ON e.from_id = u.id
		WHERE e.to_id = ?
		ORDER BY e.since LIMIT ?
	`, id, limit)
}

// Following returns users id follows, oldest follow first.
func (s *SQLiteStore) Following(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN follow_edges e ON e.to_id = u.id
		WHERE e.from_id = ?
		ORDER BY e.since LIMIT ?
	`, id, limit)
}

// Friends returns the friends of id, oldest friendship first.
func (s *SQLiteStore) Friends(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN friend_edges e
		  ON (e.lo_id = ? AND e.hi_id = u.id) OR (e.hi_id = ? AND e.lo_id = u.id)
		ORDER BY e.since LIMIT ?
	`, id, id, limit)
}

// IncomingRequests returns users with a pending request to id.
func (s *SQLiteStore) IncomingRequests(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN friend_requests r ON r.from_id = u.id
		WHERE r.to_id = ?
		ORDER BY r.since LIMIT ?
	`, id, limit)
}

// OutgoingRequests returns users id has a pending request to.
func (s *SQLiteStore) OutgoingRequests(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN friend_requests r ON r.to_id = u.id
		WHERE r.from_id = ?
		ORDER BY r.since LIMIT ?
	`, id, limit)
}

// FollowSuggestions returns users id does not follow yet.
func (s *SQLiteStore) FollowSuggestions(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE u.id <> ?
		  AND NOT EXISTS (SELECT 1 FROM follow_edges e WHERE e.from_id = ? AND e.to_id = u.id)
		ORDER BY u.user_name LIMIT ?
	`, id, id, limit)
}

// FriendSuggestions returns users with no friendship or pending
// request with id.
func (s *SQLiteStore) FriendSuggestions(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE u.id <> ?
		  AND NOT EXISTS (SELECT 1 FROM friend_edges f
		                  WHERE (f.lo_id = u.id AND f.hi_id = ?) OR (f.lo_id = ? AND f.hi_id = u.id))
		  AND NOT EXISTS (SELECT 1 FROM friend_requests r
		                  WHERE (r.from_id = u.id AND r.to_id = ?) OR (r.from_id = ? AND r.to_id = u.id))
		ORDER BY u.user_name LIMIT ?
	`, id, id, id, id, id, limit)
}

// CountUsers returns the number of stored users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, storeErr(err)
}

// CountEdges returns the number of stored edges of the given kind.
func (s *SQLiteStore) CountEdges(ctx context.Context, kind models.EdgeKind) (int, error) {
	var table string
	switch kind {
	case models.EdgeFollows:
		table = "follow_edges"
	case models.EdgeFriendRequest:
		table = "friend_requests"
	case models.EdgeFriendOf:
		table = "friend_edges"
	default:
		return 0, fmt.Errorf("unknown edge kind %q", kind)
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, storeErr(err)
}

// CheckCounters compares every user's stored counters against the edge
// counts they denormalize. Mismatches indicate a broken atomicity
// invariant, not a recoverable runtime condition.
func (s *SQLiteStore) CheckCounters(ctx context.Context) ([]CounterMismatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id,
		       u.followers_count,
		       (SELECT COUNT(*) FROM follow_edges WHERE to_id = u.id),
		       u.following_count,
		       (SELECT COUNT(*) FROM follow_edges WHERE from_id = u.id),
		       u.friend_count,
		       (SELECT COUNT(*) FROM friend_edges WHERE lo_id = u.id OR hi_id = u.id),
		       u.friend_request_count,
		       (SELECT COUNT(*) FROM friend_requests WHERE to_id = u.id)
		FROM users u
	`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var mismatches []CounterMismatch
	for rows.Next() {
		var id string
		var stored, derived [4]int
		if err := rows.Scan(&id,
			&stored[0], &derived[0],
			&stored[1], &derived[1],
			&stored[2], &derived[2],
			&stored[3], &derived[3]); err != nil {
			return nil, storeErr(err)
		}

		names := [4]string{"followers_count", "following_count", "friend_count", "friend_request_count"}
		for i := range names {
			if stored[i] != derived[i] {
				mismatches = append(mismatches, CounterMismatch{
					UserID:  id,
					Counter: names[i],
					Stored:  stored[i],
					Derived: derived[i],
				})
			}
		}
	}
	return mismatches, storeErr(rows.Err())
}
