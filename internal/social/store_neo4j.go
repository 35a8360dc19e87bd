package social

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/daironpf/socialseed/pkg/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore implements RelationshipStore over the Bolt protocol.
// Every try* primitive is a single Cypher statement whose precondition
// re-check runs under write locks: plain reads take no locks in Neo4j,
// so the edge create goes through MERGE (which locks and re-checks
// before creating), and guards that span several edge types take both
// user nodes' locks first. Counter deltas commit in the same
// transaction, gated on the mutation actually happening.
//
// Friendship edges are written once, from the lexicographically
// smaller id, and matched undirected on read.
type Neo4jStore struct {
	driver     neo4j.DriverWithContext
	newSession sessionFactory
	logger     *slog.Logger
}

// NewNeo4jStore creates a RelationshipStore backed by Neo4j.
func NewNeo4jStore(uri, username, password string, logger *slog.Logger) (*Neo4jStore, error) {
	auth := neo4j.NoAuth()
	if username != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("neo4j connectivity check failed: %w", err)
	}

	logger.Info("neo4j store initialized", "uri", uri)
	return &Neo4jStore{
		driver:     driver,
		newSession: newNeo4jSessionFactory(driver),
		logger:     logger,
	}, nil
}

// Init creates the uniqueness constraint on SocialUser.id, which also
// backs id lookups with an index.
func (s *Neo4jStore) Init(ctx context.Context) error {
	_, err := s.runSingle(ctx, `
		CREATE CONSTRAINT social_user_id IF NOT EXISTS
		FOR (u:SocialUser) REQUIRE u.id IS UNIQUE
	`, nil)
	return err
}

// Close closes the driver connection.
func (s *Neo4jStore) Close() error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(context.Background())
}

// boltErr classifies a driver error; connectivity and transaction
// timeouts are transient.
func boltErr(err error) error {
	if err == nil {
		return nil
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsTransactionExecutionLimit(err) {
		return &RetryableError{Err: err}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "deadlock") || strings.Contains(msg, "timeout") {
		return &RetryableError{Err: err}
	}
	return err
}

// runSingle runs one auto-commit statement and returns the first
// record, or nil if the statement produced no rows.
func (s *Neo4jStore) runSingle(ctx context.Context, cypher string, params map[string]any) (*neo4j.Record, error) {
	session := s.newSession(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, boltErr(err)
	}

	var record *neo4j.Record
	if result.Next(ctx) {
		record = result.Record()
	}
	if err := result.Err(); err != nil {
		return nil, boltErr(err)
	}
	return record, nil
}

// CreateUser inserts a new user node with all counters at zero.
func (s *Neo4jStore) CreateUser(ctx context.Context, user models.SocialUser) error {
	_, err := s.runSingle(ctx, `
		CREATE (u:SocialUser {
			id: $id, user_name: $userName, email: $email, full_name: $fullName,
			created_at: $createdAt,
			followers_count: 0, following_count: 0,
			friend_count: 0, friend_request_count: 0
		})
	`, map[string]any{
		"id":        user.ID,
		"userName":  user.UserName,
		"email":     user.Email,
		"fullName":  user.FullName,
		"createdAt": user.CreatedAt.Format(time.RFC3339),
	})
	return err
}

const userReturn = `u.id AS id, u.user_name AS user_name, u.email AS email,
	u.full_name AS full_name, u.created_at AS created_at,
	u.followers_count AS followers_count, u.following_count AS following_count,
	u.friend_count AS friend_count, u.friend_request_count AS friend_request_count`

// GetUser retrieves a user node by id.
func (s *Neo4jStore) GetUser(ctx context.Context, id string) (*models.SocialUser, error) {
	record, err := s.runSingle(ctx, `
		MATCH (u:SocialUser {id: $id}) RETURN `+userReturn,
		map[string]any{"id": id})
	if err != nil || record == nil {
		return nil, err
	}
	return recordToUser(record), nil
}

// ListUsers returns up to limit users ordered by user name.
func (s *Neo4jStore) ListUsers(ctx context.Context, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		MATCH (u:SocialUser) RETURN `+userReturn+`
		ORDER BY u.user_name LIMIT $limit
	`, map[string]any{"limit": limit})
}

// DeleteUser removes a user and its incident edges, adjusting every
// surviving peer's counters in the same statement.
func (s *Neo4jStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.runSingle(ctx, `
		MATCH (u:SocialUser {id: $id})
		CALL { WITH u MATCH (u)<-[:FOLLOWS]-(p) SET p.following_count = p.following_count - 1 }
		CALL { WITH u MATCH (u)-[:FOLLOWS]->(p) SET p.followers_count = p.followers_count - 1 }
		CALL { WITH u MATCH (u)-[:FRIEND_OF]-(p) SET p.friend_count = p.friend_count - 1 }
		CALL { WITH u MATCH (u)-[:REQUESTED_FRIENDSHIP]->(p) SET p.friend_request_count = p.friend_request_count - 1 }
		DETACH DELETE u
	`, map[string]any{"id": id})
	return err
}

// UserExists reports whether a user node with the given id exists.
func (s *Neo4jStore) UserExists(ctx context.Context, id string) (bool, error) {
	record, err := s.runSingle(ctx, `
		OPTIONAL MATCH (u:SocialUser {id: $id})
		RETURN u IS NOT NULL AS found
	`, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	return recordBool(record, "found"), nil
}

// IsFollowing reports whether a follow edge from→to exists.
func (s *Neo4jStore) IsFollowing(ctx context.Context, from, to string) (bool, error) {
	record, err := s.runSingle(ctx, `
		OPTIONAL MATCH (a:SocialUser {id: $from})-[r:FOLLOWS]->(b:SocialUser {id: $to})
		RETURN r IS NOT NULL AS found
	`, map[string]any{"from": from, "to": to})
	if err != nil {
		return false, err
	}
	return recordBool(record, "found"), nil
}

// HasFriendRequestBetween reports whether a pending request exists in
// either direction between the pair.
func (s *Neo4jStore) HasFriendRequestBetween(ctx context.Context, a, b string) (bool, error) {
	record, err := s.runSingle(ctx, `
		OPTIONAL MATCH (a:SocialUser {id: $a})-[r:REQUESTED_FRIENDSHIP]-(b:SocialUser {id: $b})
		RETURN r IS NOT NULL AS found LIMIT 1
	`, map[string]any{"a": a, "b": b})
	if err != nil {
		return false, err
	}
	return recordBool(record, "found"), nil
}

// HasFriendRequestFrom reports whether a pending request exists in
// exactly the direction from→to.
func (s *Neo4jStore) HasFriendRequestFrom(ctx context.Context, from, to string) (bool, error) {
	record, err := s.runSingle(ctx, `
		OPTIONAL MATCH (a:SocialUser {id: $from})-[r:REQUESTED_FRIENDSHIP]->(b:SocialUser {id: $to})
		RETURN r IS NOT NULL AS found
	`, map[string]any{"from": from, "to": to})
	if err != nil {
		return false, err
	}
	return recordBool(record, "found"), nil
}

// IsFriend reports whether the pair is friends.
func (s *Neo4jStore) IsFriend(ctx context.Context, a, b string) (bool, error) {
	record, err := s.runSingle(ctx, `
		OPTIONAL MATCH (a:SocialUser {id: $a})-[r:FRIEND_OF]-(b:SocialUser {id: $b})
		RETURN r IS NOT NULL AS found LIMIT 1
	`, map[string]any{"a": a, "b": b})
	if err != nil {
		return false, err
	}
	return recordBool(record, "found"), nil
}

// TryCreateFollow creates the follow edge through MERGE, which locks
// the pattern and re-checks existence under the lock before creating.
// An OPTIONAL MATCH pre-check would race: two callers could both read
// the edge as absent and both create it. The counter deltas are gated
// on the edge being created by this call.
func (s *Neo4jStore) TryCreateFollow(ctx context.Context, from, to string) (TxResult, error) {
	record, err := s.runSingle(ctx, `
		MATCH (a:SocialUser {id: $from}), (b:SocialUser {id: $to})
		MERGE (a)-[e:FOLLOWS]->(b)
		ON CREATE SET e.since = $since, e.created = true
		WITH a, b, e, coalesce(e.created, false) AS applied
		REMOVE e.created
		FOREACH (_ IN CASE WHEN applied THEN [1] ELSE [] END |
			SET a.following_count = a.following_count + 1,
			    b.followers_count = b.followers_count + 1)
		RETURN applied
	`, map[string]any{"from": from, "to": to, "since": nowRFC3339()})
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, fmt.Errorf("follow %s -> %s: user node missing", from, to)
	}
	if !recordBool(record, "applied") {
		return TxAlreadyExists, nil
	}
	return TxApplied, nil
}

// TryDeleteFollow conditionally removes the follow edge.
func (s *Neo4jStore) TryDeleteFollow(ctx context.Context, from, to string) (TxResult, error) {
	record, err := s.runSingle(ctx, `
		MATCH (a:SocialUser {id: $from})-[e:FOLLOWS]->(b:SocialUser {id: $to})
		DELETE e
		WITH a, b
		SET a.following_count = a.following_count - 1,
		    b.followers_count = b.followers_count - 1
		RETURN 1 AS removed
	`, map[string]any{"from": from, "to": to})
	if err != nil {
		return 0, err
	}
	if record == nil {
		return TxNotFound, nil
	}
	return TxApplied, nil
}

// TryCreateFriendRequest conditionally creates the request edge. The
// guard spans two edge types, so MERGE alone cannot serialize it;
// writing a throwaway property first takes the write locks on both
// user nodes, which makes the pending/friendship checks and the CREATE
// run serialized against racing mutations of the same pair.
func (s *Neo4jStore) TryCreateFriendRequest(ctx context.Context, from, to string) (TxResult, error) {
	record, err := s.runSingle(ctx, `
		MATCH (a:SocialUser {id: $from}), (b:SocialUser {id: $to})
		SET a._lock = true, b._lock = true
		WITH a, b
		OPTIONAL MATCH (a)-[req:REQUESTED_FRIENDSHIP]-(b)
		OPTIONAL MATCH (a)-[fr:FRIEND_OF]-(b)
		FOREACH (_ IN CASE WHEN req IS NULL AND fr IS NULL THEN [1] ELSE [] END |
			CREATE (a)-[:REQUESTED_FRIENDSHIP {since: $since}]->(b)
			SET b.friend_request_count = b.friend_request_count + 1)
		REMOVE a._lock, b._lock
		RETURN req IS NOT NULL AS pending, fr IS NOT NULL AS friends
		LIMIT 1
	`, map[string]any{"from": from, "to": to, "since": nowRFC3339()})
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, fmt.Errorf("friend request %s -> %s: user node missing", from, to)
	}
	switch {
	case recordBool(record, "friends"):
		return TxAlreadyFriends, nil
	case recordBool(record, "pending"):
		return TxAlreadyExists, nil
	}
	return TxApplied, nil
}

// TryCancelFriendRequest conditionally removes the directed request.
func (s *Neo4jStore) TryCancelFriendRequest(ctx context.Context, from, to string) (TxResult, error) {
	record, err := s.runSingle(ctx, `
		MATCH (a:SocialUser {id: $from})-[r:REQUESTED_FRIENDSHIP]->(b:SocialUser {id: $to})
		DELETE r
		WITH b
		SET b.friend_request_count = b.friend_request_count - 1
		RETURN 1 AS removed
	`, map[string]any{"from": from, "to": to})
	if err != nil {
		return 0, err
	}
	if record == nil {
		return TxNotFound, nil
	}
	return TxApplied, nil
}

// TryAcceptFriendRequest swaps the directed request for a friendship
// edge in one statement: the request delete, the accepter's pending
// counter, and the FRIEND_OF create commit together. The friend
// counters move only when the MERGE creates the edge, so a stray
// pre-existing friendship cannot drift them.
func (s *Neo4jStore) TryAcceptFriendRequest(ctx context.Context, requester, accepter string) (TxResult, error) {
	lo, hi := models.PairKey(requester, accepter)
	record, err := s.runSingle(ctx, `
		MATCH (r:SocialUser {id: $requester})-[req:REQUESTED_FRIENDSHIP]->(a:SocialUser {id: $accepter})
		DELETE req
		SET a.friend_request_count = a.friend_request_count - 1
		WITH r, a
		MATCH (lo:SocialUser {id: $lo}), (hi:SocialUser {id: $hi})
		MERGE (lo)-[f:FRIEND_OF]->(hi)
		ON CREATE SET f.since = $since, f.created = true
		WITH r, a, f, coalesce(f.created, false) AS created
		REMOVE f.created
		FOREACH (_ IN CASE WHEN created THEN [1] ELSE [] END |
			SET r.friend_count = r.friend_count + 1,
			    a.friend_count = a.friend_count + 1)
		RETURN 1 AS accepted
	`, map[string]any{
		"requester": requester, "accepter": accepter,
		"lo": lo, "hi": hi, "since": nowRFC3339(),
	})
	if err != nil {
		return 0, err
	}
	if record != nil {
		return TxApplied, nil
	}

	// No request matched: classify without mutating.
	friends, err := s.IsFriend(ctx, requester, accepter)
	if err != nil {
		return 0, err
	}
	if friends {
		return TxAlreadyFriends, nil
	}
	return TxNotFound, nil
}

// TryDeleteFriendship conditionally removes the friendship edge.
func (s *Neo4jStore) TryDeleteFriendship(ctx context.Context, a, b string) (TxResult, error) {
	record, err := s.runSingle(ctx, `
		MATCH (a:SocialUser {id: $a})-[f:FRIEND_OF]-(b:SocialUser {id: $b})
		DELETE f
		WITH a, b
		SET a.friend_count = a.friend_count - 1,
		    b.friend_count = b.friend_count - 1
		RETURN 1 AS removed
	`, map[string]any{"a": a, "b": b})
	if err != nil {
		return 0, err
	}
	if record == nil {
		return TxNotFound, nil
	}
	return TxApplied, nil
}

// Followers returns users following id, oldest follow first.
func (s *Neo4jStore) Followers(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		MATCH (u:SocialUser)-[e:FOLLOWS]->(:SocialUser {id: $id})
		RETURN `+userReturn+` ORDER BY e.since LIMIT $limit
	`, map[string]any{"id": id, "limit": limit})
}

// Following returns users id follows, oldest follow first.
func (s *Neo4jStore) Following(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		MATCH (:SocialUser {id: $id})-[e:FOLLOWS]->(u:SocialUser)
		RETURN `+userReturn+` ORDER BY e.since LIMIT $limit
	`, map[string]any{"id": id, "limit": limit})
}

// Friends returns the friends of id, oldest friendship first.
func (s *Neo4jStore) Friends(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		MATCH (:SocialUser {id: $id})-[e:FRIEND_OF]-(u:SocialUser)
		RETURN `+userReturn+` ORDER BY e.since LIMIT $limit
	`, map[string]any{"id": id, "limit": limit})
}

// IncomingRequests returns users with a pending request to id.
func (s *Neo4jStore) IncomingRequests(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		MATCH (u:SocialUser)-[r:REQUESTED_FRIENDSHIP]->(:SocialUser {id: $id})
		RETURN `+userReturn+` ORDER BY r.since LIMIT $limit
	`, map[string]any{"id": id, "limit": limit})
}

// OutgoingRequests returns users id has a pending request to.
func (s *Neo4jStore) OutgoingRequests(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		MATCH (:SocialUser {id: $id})-[r:REQUESTED_FRIENDSHIP]->(u:SocialUser)
		RETURN `+userReturn+` ORDER BY r.since LIMIT $limit
	`, map[string]any{"id": id, "limit": limit})
}

// FollowSuggestions returns users id does not follow yet.
func (s *Neo4jStore) FollowSuggestions(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		MATCH (o:SocialUser {id: $id})
		MATCH (u:SocialUser)
		WHERE u <> o AND NOT (o)-[:FOLLOWS]->(u)
		RETURN `+userReturn+` ORDER BY u.user_name LIMIT $limit
	`, map[string]any{"id": id, "limit": limit})
}

// FriendSuggestions returns users with no friendship or pending
// request with id.
func (s *Neo4jStore) FriendSuggestions(ctx context.Context, id string, limit int) ([]models.SocialUser, error) {
	return s.queryUsers(ctx, `
		MATCH (o:SocialUser {id: $id})
		MATCH (u:SocialUser)
		WHERE u <> o
		  AND NOT (o)-[:FRIEND_OF]-(u)
		  AND NOT (o)-[:REQUESTED_FRIENDSHIP]-(u)
		RETURN `+userReturn+` ORDER BY u.user_name LIMIT $limit
	`, map[string]any{"id": id, "limit": limit})
}

// CountUsers returns the number of stored users.
func (s *Neo4jStore) CountUsers(ctx context.Context) (int, error) {
	record, err := s.runSingle(ctx, `MATCH (u:SocialUser) RETURN count(u) AS n`, nil)
	if err != nil {
		return 0, err
	}
	return recordInt(record, "n"), nil
}

// CountEdges returns the number of stored edges of the given kind.
func (s *Neo4jStore) CountEdges(ctx context.Context, kind models.EdgeKind) (int, error) {
	var relType string
	switch kind {
	case models.EdgeFollows:
		relType = "FOLLOWS"
	case models.EdgeFriendRequest:
		relType = "REQUESTED_FRIENDSHIP"
	case models.EdgeFriendOf:
		relType = "FRIEND_OF"
	default:
		return 0, fmt.Errorf("unknown edge kind %q", kind)
	}

	record, err := s.runSingle(ctx,
		fmt.Sprintf(`MATCH ()-[r:%s]->() RETURN count(r) AS n`, relType), nil)
	if err != nil {
		return 0, err
	}
	return recordInt(record, "n"), nil
}

// CheckCounters compares every user's stored counters against derived
// edge counts.
func (s *Neo4jStore) CheckCounters(ctx context.Context) ([]CounterMismatch, error) {
	session := s.newSession(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	result, err := session.Run(ctx, `
		MATCH (u:SocialUser)
		RETURN u.id AS id,
		       u.followers_count AS followers_stored,
		       COUNT { (u)<-[:FOLLOWS]-() } AS followers_derived,
		       u.following_count AS following_stored,
		       COUNT { (u)-[:FOLLOWS]->() } AS following_derived,
		       u.friend_count AS friend_stored,
		       COUNT { (u)-[:FRIEND_OF]-() } AS friend_derived,
		       u.friend_request_count AS request_stored,
		       COUNT { (u)<-[:REQUESTED_FRIENDSHIP]-() } AS request_derived
	`, nil)
	if err != nil {
		return nil, boltErr(err)
	}

	var mismatches []CounterMismatch
	for result.Next(ctx) {
		record := result.Record()
		id := recordString(record, "id")
		checks := []struct {
			counter string
			stored  int
			derived int
		}{
			{"followers_count", recordInt(record, "followers_stored"), recordInt(record, "followers_derived")},
			{"following_count", recordInt(record, "following_stored"), recordInt(record, "following_derived")},
			{"friend_count", recordInt(record, "friend_stored"), recordInt(record, "friend_derived")},
			{"friend_request_count", recordInt(record, "request_stored"), recordInt(record, "request_derived")},
		}
		for _, c := range checks {
			if c.stored != c.derived {
				mismatches = append(mismatches, CounterMismatch{
					UserID: id, Counter: c.counter, Stored: c.stored, Derived: c.derived,
				})
			}
		}
	}
	return mismatches, boltErr(result.Err())
}

func (s *Neo4jStore) queryUsers(ctx context.Context, cypher string, params map[string]any) ([]models.SocialUser, error) {
	session := s.newSession(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, boltErr(err)
	}

	var users []models.SocialUser
	for result.Next(ctx) {
		users = append(users, *recordToUser(result.Record()))
	}
	return users, boltErr(result.Err())
}

// recordToUser converts a neo4j record to a models.SocialUser.
func recordToUser(record *neo4j.Record) *models.SocialUser {
	u := &models.SocialUser{
		ID:                 recordString(record, "id"),
		UserName:           recordString(record, "user_name"),
		Email:              recordString(record, "email"),
		FullName:           recordString(record, "full_name"),
		FollowersCount:     recordInt(record, "followers_count"),
		FollowingCount:     recordInt(record, "following_count"),
		FriendCount:        recordInt(record, "friend_count"),
		FriendRequestCount: recordInt(record, "friend_request_count"),
	}
	if created := recordString(record, "created_at"); created != "" {
		u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	}
	return u
}

func recordString(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func recordBool(record *neo4j.Record, key string) bool {
	if record == nil {
		return false
	}
	v, ok := record.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func recordInt(record *neo4j.Record, key string) int {
	if record == nil {
		return 0
	}
	v, ok := record.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
