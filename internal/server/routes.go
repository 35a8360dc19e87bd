package server

import "net/http"

// RegisterRoutes registers all API routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, s *Server) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/v1/users", s.handleCreateUser)
	mux.HandleFunc("GET /api/v1/users", s.handleListUsers)
	mux.HandleFunc("GET /api/v1/users/{id}", s.handleGetUser)
	mux.HandleFunc("DELETE /api/v1/users/{id}", s.handleDeleteUser)

	mux.HandleFunc("POST /api/v1/users/{id}/follow/{target}", s.handleFollow)
	mux.HandleFunc("DELETE /api/v1/users/{id}/follow/{target}", s.handleUnfollow)

	mux.HandleFunc("POST /api/v1/users/{id}/friend-requests/{target}", s.handleRequestFriendship)
	mux.HandleFunc("DELETE /api/v1/users/{id}/friend-requests/{target}", s.handleCancelRequest)
	mux.HandleFunc("POST /api/v1/users/{id}/friend-requests/{target}/accept", s.handleAcceptRequest)
	mux.HandleFunc("DELETE /api/v1/users/{id}/friends/{target}", s.handleDeleteFriendship)

	mux.HandleFunc("GET /api/v1/users/{id}/followers", s.handleFollowers)
	mux.HandleFunc("GET /api/v1/users/{id}/following", s.handleFollowing)
	mux.HandleFunc("GET /api/v1/users/{id}/friends", s.handleFriends)
	mux.HandleFunc("GET /api/v1/users/{id}/friend-requests/incoming", s.handleIncomingRequests)
	mux.HandleFunc("GET /api/v1/users/{id}/friend-requests/outgoing", s.handleOutgoingRequests)
	mux.HandleFunc("GET /api/v1/users/{id}/suggestions/follow", s.handleFollowSuggestions)
	mux.HandleFunc("GET /api/v1/users/{id}/suggestions/friends", s.handleFriendSuggestions)

	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/stats/audit", s.handleAudit)
}
