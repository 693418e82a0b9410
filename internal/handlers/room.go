// internal/handlers/room.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"

	"github.com/blattodea/roachpoker/internal/database"
	"github.com/blattodea/roachpoker/internal/models"
	"github.com/blattodea/roachpoker/internal/room"
)

type createRoomRequest struct {
	Name       string                 `json:"name"`
	Private    bool                   `json:"private"`
	InviteCode string                 `json:"inviteCode"`
	Rules      map[string]interface{} `json:"rules"`
}

// CreateRoomHandler creates a room owned by the caller. Guests are minted on
// the fly, so an anonymous visitor can open a table in one request.
func (srv *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, _, err := EnsureEphemeralUser(w, r)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = "Table"
	}
	if req.Private && req.InviteCode == "" {
		http.Error(w, "private rooms require an inviteCode", http.StatusBadRequest)
		return
	}

	rm := room.NewRoomWithDefaults(userID, req.Name, req.Private, req.InviteCode)
	if req.Rules != nil {
		if err := rm.Rules.Update(req.Rules); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	srv.WireRoom(rm)
	srv.RoomStore.AddRoom(rm)
	log.Infof("Room %s created by user %s.", rm.ID, userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rm)
}

// roomSummary is the public listing shape; membership details stay out.
type roomSummary struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Status     room.RoomStatus `json:"status"`
	Private    bool            `json:"private"`
	Players    int             `json:"players"`
	MaxPlayers int             `json:"maxPlayers"`
}

// ListRoomsHandler returns a summary of every known room.
func (srv *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rooms := srv.RoomStore.ListRooms()
	out := make([]roomSummary, 0, len(rooms))
	for _, rm := range rooms {
		rm.Mu.Lock()
		players := 0
		for _, p := range rm.Participants {
			if p.Role == models.RolePlayer {
				players++
			}
		}
		out = append(out, roomSummary{
			ID:         rm.ID,
			Name:       rm.Name,
			Status:     rm.Status,
			Private:    rm.Private,
			Players:    players,
			MaxPlayers: rm.Rules.MaxPlayers,
		})
		rm.Mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// RoomDetailHandler serves GET /rooms/{id} and POST /rooms/{id}/leave.
func (srv *Server) RoomDetailHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	roomID, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	rm, err := srv.RoomStore.GetRoom(roomID)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load room", http.StatusInternalServerError)
		return
	}

	if len(parts) >= 2 && parts[1] == "leave" {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID, _, err := EnsureEphemeralUser(w, r)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}
		rm.Leave(userID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rm.Mu.Lock()
	detail := map[string]interface{}{
		"id":         rm.ID.String(),
		"name":       rm.Name,
		"creator_id": rm.CreatorID.String(),
		"private":    rm.Private,
		"status":     string(rm.Status),
		"rules":      rm.Rules,
		"roster":     participantRoster(rm),
	}
	if rm.SessionID != uuid.Nil {
		detail["session_id"] = rm.SessionID.String()
	}
	rm.Mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

// participantRoster flattens the membership list. Assumes room lock held.
func participantRoster(rm *room.Room) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rm.Participants))
	for _, p := range rm.Participants {
		out = append(out, map[string]interface{}{
			"id":           p.UserID.String(),
			"display_name": p.DisplayName,
			"role":         string(p.Role),
			"seat":         p.SeatOrNegative(),
			"is_ready":     p.Ready,
			"status":       string(p.Status),
		})
	}
	return out
}

// SessionHandler serves the REST mirror of the realtime surface:
//
//	GET  /sessions/{id}/state   per-viewer snapshot
//	POST /sessions/{id}/actions same action router as the socket
//	GET  /sessions/{id}/result  archived result after completion
func (srv *Server) SessionHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
	if len(parts) < 2 {
		http.Error(w, "missing session id or resource", http.StatusBadRequest)
		return
	}
	sessionID, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	switch parts[1] {
	case "state":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sess, ok := srv.SessionStore.GetSession(sessionID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		userID, _, err := EnsureEphemeralUser(w, r)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}
		sess.Mu.Lock()
		state := sess.GetStateForViewer(userID)
		sess.Mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(state)

	case "actions":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sess, ok := srv.SessionStore.GetSession(sessionID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		userID, _, err := EnsureEphemeralUser(w, r)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusForbidden)
			return
		}
		var action models.GameAction
		if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
			http.Error(w, "invalid action payload", http.StatusBadRequest)
			return
		}
		sess.Mu.Lock()
		sess.HandlePlayerAction(userID, action)
		state := sess.GetStateForViewer(userID)
		sess.Mu.Unlock()
		// Rejections are delivered on the socket; REST callers get the
		// resulting snapshot either way.
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(state)

	case "result":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if database.DB == nil {
			http.Error(w, "result archive unavailable", http.StatusServiceUnavailable)
			return
		}
		res, err := database.FetchSessionResult(r.Context(), sessionID)
		if err != nil {
			http.Error(w, "session result not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)

	default:
		http.Error(w, "unknown session resource", http.StatusNotFound)
	}
}
