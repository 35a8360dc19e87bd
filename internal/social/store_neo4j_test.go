package social

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func newMockNeo4jStore(session *mockSession) *Neo4jStore {
	return &Neo4jStore{
		newSession: mockSessionFactory(session),
		logger:     testLogger(),
	}
}

func TestNeo4jTryCreateFollowApplied(t *testing.T) {
	session := &mockSession{
		runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
			return &mockResult{records: []*neo4j.Record{
				makeRecord(map[string]any{"applied": true}),
			}}, nil
		},
	}
	store := newMockNeo4jStore(session)

	res, err := store.TryCreateFollow(context.Background(), "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if res != TxApplied {
		t.Errorf("result = %v, want applied", res)
	}

	if len(session.calls) != 1 {
		t.Fatalf("Run called %d times, want 1", len(session.calls))
	}
	call := session.calls[0]
	// MERGE locks the pattern and re-checks before creating, where a
	// plain read takes no lock and would race a concurrent create.
	if !strings.Contains(call.cypher, "MERGE (a)-[e:FOLLOWS]->(b)") {
		t.Errorf("cypher must create the edge through MERGE: %s", call.cypher)
	}
	if !strings.Contains(call.cypher, "ON CREATE SET") || !strings.Contains(call.cypher, "AS applied") {
		t.Errorf("cypher must detect creation via ON CREATE: %s", call.cypher)
	}
	if !strings.Contains(call.cypher, "following_count") || !strings.Contains(call.cypher, "followers_count") {
		t.Errorf("cypher missing counter deltas: %s", call.cypher)
	}
	counters := strings.Index(call.cypher, "following_count")
	if gate := strings.Index(call.cypher, "FOREACH"); gate < 0 || counters < gate {
		t.Errorf("counter deltas must be gated on the edge being created: %s", call.cypher)
	}
	if call.params["from"] != "a" || call.params["to"] != "b" {
		t.Errorf("params = %v", call.params)
	}
	if !session.closed {
		t.Error("session not closed")
	}
}

func TestNeo4jTryCreateFollowAlreadyExists(t *testing.T) {
	session := &mockSession{
		runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
			return &mockResult{records: []*neo4j.Record{
				makeRecord(map[string]any{"applied": false}),
			}}, nil
		},
	}
	store := newMockNeo4jStore(session)

	res, err := store.TryCreateFollow(context.Background(), "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if res != TxAlreadyExists {
		t.Errorf("result = %v, want already_exists", res)
	}
}

func TestNeo4jTryCreateFollowMissingUser(t *testing.T) {
	// No row back means the MATCH on the user nodes failed.
	session := &mockSession{}
	store := newMockNeo4jStore(session)

	_, err := store.TryCreateFollow(context.Background(), "a", "ghost")
	if err == nil {
		t.Fatal("expected error for missing user node")
	}
}

func TestNeo4jTryCreateFriendRequestStates(t *testing.T) {
	tests := []struct {
		name    string
		pending bool
		friends bool
		want    TxResult
	}{
		{"applied", false, false, TxApplied},
		{"pending blocks", true, false, TxAlreadyExists},
		{"friends block", false, true, TxAlreadyFriends},
		{"friends win over pending", true, true, TxAlreadyFriends},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &mockSession{
				runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
					return &mockResult{records: []*neo4j.Record{
						makeRecord(map[string]any{"pending": tt.pending, "friends": tt.friends}),
					}}, nil
				},
			}
			store := newMockNeo4jStore(session)

			res, err := store.TryCreateFriendRequest(context.Background(), "a", "b")
			if err != nil {
				t.Fatal(err)
			}
			if res != tt.want {
				t.Errorf("result = %v, want %v", res, tt.want)
			}
		})
	}
}

func TestNeo4jTryCreateFriendRequestLocksBeforeChecking(t *testing.T) {
	session := &mockSession{
		runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
			return &mockResult{records: []*neo4j.Record{
				makeRecord(map[string]any{"pending": false, "friends": false}),
			}}, nil
		},
	}
	store := newMockNeo4jStore(session)

	if _, err := store.TryCreateFriendRequest(context.Background(), "a", "b"); err != nil {
		t.Fatal(err)
	}

	cypher := session.calls[0].cypher
	// The duplicate/friendship checks span two edge types, so both user
	// nodes must hold write locks before the reads run. Otherwise two
	// concurrent requests both see no edge and both create one.
	lock := strings.Index(cypher, "_lock = true")
	check := strings.Index(cypher, "OPTIONAL MATCH")
	if lock < 0 || check < 0 || lock > check {
		t.Errorf("node locks must be taken before the edge checks: %s", cypher)
	}
	if !strings.Contains(cypher, "REMOVE a._lock, b._lock") {
		t.Errorf("lock properties must be cleared: %s", cypher)
	}
	if !strings.Contains(cypher, "friend_request_count") {
		t.Errorf("cypher missing pending counter delta: %s", cypher)
	}
}

func TestNeo4jTryDeleteFollowNotFound(t *testing.T) {
	session := &mockSession{}
	store := newMockNeo4jStore(session)

	res, err := store.TryDeleteFollow(context.Background(), "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if res != TxNotFound {
		t.Errorf("result = %v, want not_found", res)
	}
}

func TestNeo4jAcceptClassifiesMissingRequest(t *testing.T) {
	// The accept statement matches nothing; the follow-up IsFriend
	// check distinguishes already-friends from no-request.
	for _, friends := range []bool{true, false} {
		session := &mockSession{
			runFunc: func(cypher string, _ map[string]any) (resultIterator, error) {
				if strings.Contains(cypher, "FRIEND_OF]-") && strings.Contains(cypher, "OPTIONAL MATCH") {
					return &mockResult{records: []*neo4j.Record{
						makeRecord(map[string]any{"found": friends}),
					}}, nil
				}
				return &mockResult{}, nil
			},
		}
		store := newMockNeo4jStore(session)

		res, err := store.TryAcceptFriendRequest(context.Background(), "a", "b")
		if err != nil {
			t.Fatal(err)
		}
		want := TxNotFound
		if friends {
			want = TxAlreadyFriends
		}
		if res != want {
			t.Errorf("friends=%v: result = %v, want %v", friends, res, want)
		}
	}
}

func TestNeo4jTryAcceptFriendRequestApplied(t *testing.T) {
	session := &mockSession{
		runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
			return &mockResult{records: []*neo4j.Record{
				makeRecord(map[string]any{"accepted": int64(1)}),
			}}, nil
		},
	}
	store := newMockNeo4jStore(session)

	res, err := store.TryAcceptFriendRequest(context.Background(), "b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if res != TxApplied {
		t.Errorf("result = %v, want applied", res)
	}

	call := session.calls[0]
	// The friendship edge is written from the smaller id of the pair.
	if call.params["lo"] != "a" || call.params["hi"] != "b" {
		t.Errorf("pair params = %v, want lo=a hi=b", call.params)
	}
	if !strings.Contains(call.cypher, "DELETE req") || !strings.Contains(call.cypher, "MERGE") {
		t.Errorf("cypher must swap request for friendship in one statement: %s", call.cypher)
	}
}

func TestNeo4jTryAcceptGatesFriendCountersOnCreate(t *testing.T) {
	session := &mockSession{
		runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
			return &mockResult{records: []*neo4j.Record{
				makeRecord(map[string]any{"accepted": int64(1)}),
			}}, nil
		},
	}
	store := newMockNeo4jStore(session)

	if _, err := store.TryAcceptFriendRequest(context.Background(), "a", "b"); err != nil {
		t.Fatal(err)
	}

	cypher := session.calls[0].cypher
	// If a FRIEND_OF edge already exists the MERGE matches instead of
	// creating, and the friend counters must not move. The pending
	// counter always moves: the request edge really was deleted.
	gate := strings.Index(cypher, "FOREACH")
	friend := strings.Index(cypher, "friend_count = ")
	if gate < 0 || friend < gate {
		t.Errorf("friend counters must be gated on the MERGE creating: %s", cypher)
	}
	pending := strings.Index(cypher, "friend_request_count")
	if pending < 0 || pending > gate {
		t.Errorf("pending counter must decrement unconditionally with the delete: %s", cypher)
	}
	if !strings.Contains(cypher, "ON CREATE SET") {
		t.Errorf("cypher must detect creation via ON CREATE: %s", cypher)
	}
}

func TestNeo4jGetUser(t *testing.T) {
	session := &mockSession{
		runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
			return &mockResult{records: []*neo4j.Record{
				makeUserRecord("u1", "alice", 2, 3, 1, 0),
			}}, nil
		},
	}
	store := newMockNeo4jStore(session)

	user, err := store.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.UserName != "alice" {
		t.Errorf("UserName = %q, want %q", user.UserName, "alice")
	}
	if user.FollowersCount != 2 || user.FollowingCount != 3 || user.FriendCount != 1 {
		t.Errorf("counters = %d/%d/%d, want 2/3/1",
			user.FollowersCount, user.FollowingCount, user.FriendCount)
	}
	if user.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}
}

func TestNeo4jGetUserNotFound(t *testing.T) {
	store := newMockNeo4jStore(&mockSession{})

	user, err := store.GetUser(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if user != nil {
		t.Errorf("expected nil, got %+v", user)
	}
}

func TestNeo4jUserExists(t *testing.T) {
	session := &mockSession{
		runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
			return &mockResult{records: []*neo4j.Record{
				makeRecord(map[string]any{"found": true}),
			}}, nil
		},
	}
	store := newMockNeo4jStore(session)

	exists, err := store.UserExists(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("UserExists = false, want true")
	}
}

func TestNeo4jFollowers(t *testing.T) {
	session := &mockSession{
		runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
			return &mockResult{records: []*neo4j.Record{
				makeUserRecord("u2", "bob", 0, 1, 0, 0),
				makeUserRecord("u3", "carol", 0, 1, 0, 0),
			}}, nil
		},
	}
	store := newMockNeo4jStore(session)

	users, err := store.Followers(context.Background(), "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0].ID != "u2" || users[1].ID != "u3" {
		t.Errorf("users = %+v", users)
	}
	if session.calls[0].params["limit"] != 10 {
		t.Errorf("limit param = %v, want 10", session.calls[0].params["limit"])
	}
}

func TestNeo4jCheckCounters(t *testing.T) {
	session := &mockSession{
		runFunc: func(_ string, _ map[string]any) (resultIterator, error) {
			return &mockResult{records: []*neo4j.Record{
				makeRecord(map[string]any{
					"id":                "u1",
					"followers_stored":  int64(3),
					"followers_derived": int64(2),
					"following_stored":  int64(1),
					"following_derived": int64(1),
					"friend_stored":     int64(0),
					"friend_derived":    int64(0),
					"request_stored":    int64(0),
					"request_derived":   int64(0),
				}),
			}}, nil
		},
	}
	store := newMockNeo4jStore(session)

	mismatches, err := store.CheckCounters(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(mismatches) != 1 {
		t.Fatalf("got %d mismatches, want 1: %v", len(mismatches), mismatches)
	}
	m := mismatches[0]
	if m.UserID != "u1" || m.Counter != "followers_count" || m.Stored != 3 || m.Derived != 2 {
		t.Errorf("mismatch = %+v", m)
	}
}

func TestNeo4jRunErrorsAreClassified(t *testing.T) {
	store := &Neo4jStore{
		newSession: failSessionFactory(errors.New("transaction deadlock detected")),
		logger:     testLogger(),
	}

	_, err := store.UserExists(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("deadlock error should be retryable: %v", err)
	}
}

func TestNeo4jClose(t *testing.T) {
	driver := &mockDriver{}
	store := &Neo4jStore{driver: driver, logger: testLogger()}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if !driver.closed {
		t.Error("driver not closed")
	}

	var nilStore Neo4jStore
	if err := nilStore.Close(); err != nil {
		t.Errorf("Close on empty store: %v", err)
	}
}
