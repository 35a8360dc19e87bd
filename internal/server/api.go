package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/daironpf/socialseed/internal/social"
	"github.com/daironpf/socialseed/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// outcomeStatus maps an engine outcome to an HTTP status code. created
// selects 201 over 200 for applied mutations that add an edge.
func outcomeStatus(out social.Outcome, created bool) int {
	switch out.Status {
	case social.StatusOK:
		if created {
			return http.StatusCreated
		}
		return http.StatusOK
	case social.StatusSameUser:
		return http.StatusForbidden
	case social.StatusNotFound:
		return http.StatusNotFound
	case social.StatusConflict:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// writeOutcome renders a guarded operation outcome.
func (s *Server) writeOutcome(w http.ResponseWriter, out social.Outcome, created bool) {
	if out.Status == social.StatusError {
		s.logger.Error("relationship operation failed",
			"op", out.Op, "user_a", out.UserA, "user_b", out.UserB, "error", out.Err)
	}
	writeJSON(w, outcomeStatus(out, created), out)
}

// limitParam reads ?limit= clamped to [1, pageSize], defaulting to pageSize.
func (s *Server) limitParam(r *http.Request) int {
	limit := s.pageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= s.pageSize {
			limit = parsed
		}
	}
	return limit
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createUserRequest is the JSON body for POST /api/v1/users.
type createUserRequest struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.UserName = strings.TrimSpace(req.UserName)
	req.Email = strings.TrimSpace(req.Email)
	if req.UserName == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "user_name and email required")
		return
	}

	user := models.SocialUser{
		ID:        uuid.NewString(),
		UserName:  req.UserName,
		Email:     req.Email,
		FullName:  req.FullName,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		s.logger.Error("creating user", "user_name", req.UserName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context(), s.limitParam(r))
	if err != nil {
		s.logger.Error("listing users", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	user, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.logger.Error("getting user", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	exists, err := s.store.UserExists(ctx, id)
	if err != nil {
		s.logger.Error("checking user", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := s.store.DeleteUser(ctx, id); err != nil {
		s.logger.Error("deleting user", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	out := s.guard.Follow(r.Context(), r.PathValue("id"), r.PathValue("target"))
	s.writeOutcome(w, out, true)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	out := s.guard.Unfollow(r.Context(), r.PathValue("id"), r.PathValue("target"))
	s.writeOutcome(w, out, false)
}

func (s *Server) handleRequestFriendship(w http.ResponseWriter, r *http.Request) {
	out := s.guard.RequestFriendship(r.Context(), r.PathValue("id"), r.PathValue("target"))
	s.writeOutcome(w, out, true)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	out := s.guard.CancelRequest(r.Context(), r.PathValue("id"), r.PathValue("target"))
	s.writeOutcome(w, out, false)
}

// handleAcceptRequest accepts the pending request sent by {target} to {id}.
func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	out := s.guard.AcceptRequest(r.Context(), r.PathValue("id"), r.PathValue("target"))
	s.writeOutcome(w, out, true)
}

func (s *Server) handleDeleteFriendship(w http.ResponseWriter, r *http.Request) {
	out := s.guard.DeleteFriendship(r.Context(), r.PathValue("id"), r.PathValue("target"))
	s.writeOutcome(w, out, false)
}

// serveUserList serves one per-user list endpoint backed by a store query.
func (s *Server) serveUserList(w http.ResponseWriter, r *http.Request, what string,
	query func(id string, limit int) ([]models.SocialUser, error)) {
	id := r.PathValue("id")

	exists, err := s.store.UserExists(r.Context(), id)
	if err != nil {
		s.logger.Error("checking user", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	users, err := query(id, s.limitParam(r))
	if err != nil {
		s.logger.Error("listing "+what, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	s.serveUserList(w, r, "followers", func(id string, limit int) ([]models.SocialUser, error) {
		return s.store.Followers(r.Context(), id, limit)
	})
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	s.serveUserList(w, r, "following", func(id string, limit int) ([]models.SocialUser, error) {
		return s.store.Following(r.Context(), id, limit)
	})
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	s.serveUserList(w, r, "friends", func(id string, limit int) ([]models.SocialUser, error) {
		return s.store.Friends(r.Context(), id, limit)
	})
}

func (s *Server) handleIncomingRequests(w http.ResponseWriter, r *http.Request) {
	s.serveUserList(w, r, "incoming requests", func(id string, limit int) ([]models.SocialUser, error) {
		return s.store.IncomingRequests(r.Context(), id, limit)
	})
}

func (s *Server) handleOutgoingRequests(w http.ResponseWriter, r *http.Request) {
	s.serveUserList(w, r, "outgoing requests", func(id string, limit int) ([]models.SocialUser, error) {
		return s.store.OutgoingRequests(r.Context(), id, limit)
	})
}

func (s *Server) handleFollowSuggestions(w http.ResponseWriter, r *http.Request) {
	s.serveUserList(w, r, "follow suggestions", func(id string, limit int) ([]models.SocialUser, error) {
		return s.store.FollowSuggestions(r.Context(), id, limit)
	})
}

func (s *Server) handleFriendSuggestions(w http.ResponseWriter, r *http.Request) {
	s.serveUserList(w, r, "friend suggestions", func(id string, limit int) ([]models.SocialUser, error) {
		return s.store.FriendSuggestions(r.Context(), id, limit)
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, _ := s.store.CountUsers(ctx)
	follows, _ := s.store.CountEdges(ctx, models.EdgeFollows)
	requests, _ := s.store.CountEdges(ctx, models.EdgeFriendRequest)
	friendships, _ := s.store.CountEdges(ctx, models.EdgeFriendOf)

	writeJSON(w, http.StatusOK, map[string]any{
		"users_total":      users,
		"follow_edges":     follows,
		"pending_requests": requests,
		"friendship_edges": friendships,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	auditor, ok := s.store.(social.CounterAuditor)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "counter audit not supported by this store")
		return
	}

	mismatches, err := auditor.CheckCounters(r.Context())
	if err != nil {
		s.logger.Error("counter audit", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"consistent": len(mismatches) == 0,
		"mismatches": mismatches,
	})
}
