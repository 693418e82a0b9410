// internal/handlers/server.go
package handlers

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"

	"github.com/blattodea/roachpoker/internal/database"
	"github.com/blattodea/roachpoker/internal/game"
	"github.com/blattodea/roachpoker/internal/models"
	"github.com/blattodea/roachpoker/internal/room"
)

// Server is the high-level struct owning the in-memory room and session
// stores. Handlers hang off it; one instance serves the whole process.
type Server struct {
	RoomStore    *room.RoomStore
	SessionStore *game.SessionStore
}

// NewServer creates a Server with empty stores.
func NewServer() *Server {
	return &Server{
		RoomStore:    room.NewRoomStore(),
		SessionStore: game.NewSessionStore(),
	}
}

// WireRoom installs the server-side callbacks on a freshly created room.
func (srv *Server) WireRoom(r *room.Room) {
	r.OnAllReady = func(readyRoom *room.Room) {
		srv.StartSession(readyRoom)
	}
	r.OnPlayerGone = func(roomID, userID uuid.UUID) {
		if sess, ok := srv.SessionStore.GetSessionByRoomID(roomID); ok {
			sess.ForfeitPlayer(userID)
		}
	}
	r.OnEmpty = func(roomID uuid.UUID) {
		// An abandoned room takes its session with it.
		if sess, ok := srv.SessionStore.GetSessionByRoomID(roomID); ok {
			srv.SessionStore.DeleteSession(sess.ID)
		}
		srv.RoomStore.DeleteRoom(roomID)
	}
}

// StartSession builds a session from a room's seated players, wires the
// broadcast plumbing, and deals. Callers must NOT hold the room lock.
func (srv *Server) StartSession(r *room.Room) *game.Session {
	r.Mu.Lock()
	if r.Status != room.StatusLobby {
		r.Mu.Unlock()
		log.Warnf("Room %s: start requested in status %s. Ignoring.", r.ID, r.Status)
		return nil
	}
	seated := r.SeatedPlayersUnsafe()
	if len(seated) < 2 {
		r.Mu.Unlock()
		log.Warnf("Room %s: cannot start with %d seated players.", r.ID, len(seated))
		return nil
	}

	players := make([]*game.Player, 0, len(seated))
	for _, p := range seated {
		players = append(players, &game.Player{
			ID:          p.UserID,
			DisplayName: p.DisplayName,
			Seat:        *p.Seat,
			Connected:   p.Status == models.ConnConnected,
		})
	}
	sess := game.NewSession(r.ID, r.Rules, players)
	r.Status = room.StatusInGame
	r.SessionID = sess.ID
	r.Mu.Unlock()

	// Session events fan out to room connections. The session lock is held
	// when these fire; they take the room lock, never the other way around.
	sess.BroadcastFn = func(ev game.Event) {
		r.Mu.Lock()
		r.BroadcastAllUnsafe(eventToMessage(ev))
		r.Mu.Unlock()
	}
	sess.BroadcastToPlayerFn = func(playerID uuid.UUID, ev game.Event) {
		r.Mu.Lock()
		conn, ok := r.Connections[playerID]
		r.Mu.Unlock()
		if ok {
			conn.Write(eventToMessage(ev))
		}
	}
	sess.OnSessionEnd = func(roomID uuid.UUID, result game.FinalResults) {
		srv.onSessionEnd(sess, roomID, result)
	}

	srv.SessionStore.AddSession(sess)
	log.Infof("Room %s: session %s starting with %d players.", r.ID, sess.ID, len(players))
	sess.Begin()
	return sess
}

// onSessionEnd archives the result, marks the room completed, and drops the
// session from the store. Runs off the session lock.
func (srv *Server) onSessionEnd(sess *game.Session, roomID uuid.UUID, result game.FinalResults) {
	if database.DB != nil {
		tallies := make(map[string]map[string]int, len(result.Tallies))
		for uid, perCreature := range result.Tallies {
			m := make(map[string]int, len(perCreature))
			for creature, n := range perCreature {
				m[string(creature)] = n
			}
			tallies[uid.String()] = m
		}
		go database.RecordSessionResult(database.SessionResult{
			SessionID: sess.ID,
			RoomID:    roomID,
			WinnerID:  result.WinnerID,
			LoserID:   result.LoserID,
			Tallies:   tallies,
			Rounds:    result.Rounds,
			Duration:  result.Duration,
			EndedAt:   time.Now(),
		})
	}

	r, err := srv.RoomStore.GetRoom(roomID)
	if err != nil {
		log.Warnf("Session %s ended but room %s is gone.", sess.ID, roomID)
		srv.SessionStore.DeleteSession(sess.ID)
		return
	}

	r.Mu.Lock()
	// Completion is terminal: the room never returns to the lobby, and a
	// rematch starts in a fresh room. SessionID stays set for result lookups.
	r.Status = room.StatusCompleted
	r.BroadcastAllUnsafe(map[string]interface{}{
		"type":      "room_completed",
		"status":    string(r.Status),
		"winner_id": result.WinnerID.String(),
		"loser_id":  result.LoserID.String(),
	})
	r.Mu.Unlock()

	srv.SessionStore.DeleteSession(sess.ID)
	log.Infof("Session %s removed from store after completion.", sess.ID)
}

// eventToMessage flattens a session event into the map shape room
// connections transmit.
func eventToMessage(ev game.Event) map[string]interface{} {
	msg := map[string]interface{}{
		"type": string(ev.Type),
	}
	if ev.Version != 0 {
		msg["session_version"] = ev.Version
	}
	if ev.User != nil {
		msg["user"] = map[string]interface{}{"id": ev.User.ID.String()}
	}
	if ev.Payload != nil {
		msg["payload"] = ev.Payload
	}
	if ev.State != nil {
		msg["state"] = ev.State
	}
	return msg
}
