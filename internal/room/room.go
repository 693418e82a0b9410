// internal/room/room.go
package room

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blattodea/roachpoker/internal/game"
	"github.com/blattodea/roachpoker/internal/models"
)

var (
	ErrAccessDenied    = errors.New("access denied: invite code required")
	ErrRoomFull        = errors.New("room is full")
	ErrRoomNotJoinable = errors.New("room is not accepting participants")
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	StatusLobby     RoomStatus = "lobby"
	StatusInGame    RoomStatus = "in_game"
	StatusCompleted RoomStatus = "completed"
	StatusAbandoned RoomStatus = "abandoned"
)

// Room is an ephemeral grouping of participants with chat, rules, ready
// states, and (once all players are ready) a running game session.
type Room struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	CreatorID uuid.UUID  `json:"creatorID"`
	Private   bool       `json:"private"`
	Status    RoomStatus `json:"status"`
	SessionID uuid.UUID  `json:"sessionId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`

	// InviteCode gates joins on private rooms. Empty on public rooms.
	InviteCode string `json:"-"`

	Rules game.RoomRules `json:"rules"`

	// Participants maps userID -> participant record (players and spectators).
	Participants map[uuid.UUID]*models.Participant `json:"-"`

	// Connections holds the live WebSocket connections of participants.
	Connections map[uuid.UUID]*RoomConnection `json:"-"`

	// graceTimers tracks disconnected participants still holding their seat.
	graceTimers map[uuid.UUID]*time.Timer

	// loneTimer abandons a lobby stuck at a single seated player.
	loneTimer *time.Timer

	// OnEmpty is called when the last participant leaves; typically wired to
	// store deletion by the code that created the room.
	OnEmpty func(roomID uuid.UUID) `json:"-"`

	// OnAllReady is called (outside the lock) when every seated player is
	// ready and the table can start.
	OnAllReady func(r *Room) `json:"-"`

	// OnPlayerGone is called when a seated player leaves or runs out their
	// grace period while a game is in progress; wired to session forfeit.
	OnPlayerGone func(roomID, userID uuid.UUID) `json:"-"`

	// Mutex guards all room state, connections and ready flags included.
	Mu sync.Mutex
}

// RoomConnection is a single participant's live presence in the room. ID is
// an opaque per-socket identifier; a reconnect gets a fresh one.
type RoomConnection struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	DisplayName string
	Cancel      func()
	OutChan     chan map[string]interface{}
}

// Write pushes a message onto the connection's OutChan non-blockingly. The
// channel is never closed, so a write racing a supersede or leave is at worst
// dropped rather than a panic; a full buffer means the consumer fell behind.
func (conn *RoomConnection) Write(msg map[string]interface{}) {
	select {
	case conn.OutChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		log.Printf("RoomConnection Write WARNING: OutChan for user %s full. Dropped message type '%s'.", conn.UserID, msgType)
	}
}

// WriteError is a convenience to send an error object.
func (conn *RoomConnection) WriteError(msg string) {
	conn.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}

// NewRoomWithDefaults creates a room in lobby state with default rules.
func NewRoomWithDefaults(creatorID uuid.UUID, name string, private bool, inviteCode string) *Room {
	roomID, _ := uuid.NewRandom()
	return &Room{
		ID:           roomID,
		Name:         name,
		CreatorID:    creatorID,
		Private:      private,
		InviteCode:   inviteCode,
		Status:       StatusLobby,
		CreatedAt:    time.Now(),
		Rules:        game.DefaultRules(),
		Participants: make(map[uuid.UUID]*models.Participant),
		Connections:  make(map[uuid.UUID]*RoomConnection),
		graceTimers:  make(map[uuid.UUID]*time.Timer),
	}
}

// seatedPlayersUnsafe counts seated players. Assumes lock held.
func (r *Room) seatedPlayersUnsafe() int {
	n := 0
	for _, p := range r.Participants {
		if p.Role == models.RolePlayer {
			n++
		}
	}
	return n
}

// lowestFreeSeatUnsafe finds the lowest unoccupied seat index. Assumes lock held.
func (r *Room) lowestFreeSeatUnsafe() int {
	taken := make(map[int]bool)
	for _, p := range r.Participants {
		if p.Role == models.RolePlayer && p.Seat != nil {
			taken[*p.Seat] = true
		}
	}
	for seat := 0; seat < r.Rules.MaxPlayers; seat++ {
		if !taken[seat] {
			return seat
		}
	}
	return -1
}

// JoinUnsafe admits a user as a seated player, or as a spectator when the
// table is full (or on request) and spectators are allowed. A returning
// participant keeps their existing record. Assumes lock held.
func (r *Room) JoinUnsafe(userID uuid.UUID, displayName, inviteCode string, asSpectator bool) (*models.Participant, error) {
	if existing, ok := r.Participants[userID]; ok {
		// Rejoin within the grace period: same seat, same role.
		r.cancelGraceUnsafe(userID)
		existing.Status = models.ConnConnected
		return existing, nil
	}
	if r.Status == StatusCompleted || r.Status == StatusAbandoned {
		return nil, ErrRoomNotJoinable
	}
	if r.Private && inviteCode != r.InviteCode {
		return nil, ErrAccessDenied
	}

	role := models.RolePlayer
	var seat *int
	if asSpectator || r.Status == StatusInGame || r.seatedPlayersUnsafe() >= r.Rules.MaxPlayers {
		if !r.Rules.AllowSpectators {
			return nil, ErrRoomFull
		}
		role = models.RoleSpectator
	} else {
		s := r.lowestFreeSeatUnsafe()
		if s < 0 {
			if !r.Rules.AllowSpectators {
				return nil, ErrRoomFull
			}
			role = models.RoleSpectator
		} else {
			seat = &s
		}
	}

	p := &models.Participant{
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		Seat:        seat,
		Status:      models.ConnConnected,
		JoinedAt:    time.Now(),
	}
	r.Participants[userID] = p
	log.Printf("Room %s: user %s (%s) joined as %s.", r.ID, userID, displayName, role)
	r.broadcastDeltaUnsafe("participant_joined", userID)
	r.refreshLoneTimerUnsafe()
	return p, nil
}

// LeaveUnsafe removes a participant. Seated players leaving mid-game are
// forfeited via OnPlayerGone; the creator role transfers to the
// longest-tenured remaining player (lowest seat tiebreak); an empty room is
// abandoned. Assumes lock held; callbacks fire outside via returned closure.
func (r *Room) LeaveUnsafe(userID uuid.UUID) (after func()) {
	p, ok := r.Participants[userID]
	if !ok {
		return func() {}
	}
	r.cancelGraceUnsafe(userID)
	wasPlayer := p.Role == models.RolePlayer
	delete(r.Participants, userID)

	if conn, ok := r.Connections[userID]; ok {
		delete(r.Connections, userID)
		// Cancelling the pump context ends the socket; OutChan stays open so
		// an in-flight private send can never hit a closed channel.
		if conn.Cancel != nil {
			conn.Cancel()
		}
	}

	log.Printf("Room %s: user %s left.", r.ID, userID)
	r.broadcastDeltaUnsafe("participant_left", userID)

	if userID == r.CreatorID {
		r.transferCreatorUnsafe()
	}
	r.refreshLoneTimerUnsafe()

	isEmpty := len(r.Participants) == 0
	if isEmpty && r.Status != StatusCompleted {
		r.Status = StatusAbandoned
	}

	onEmpty := r.OnEmpty
	onGone := r.OnPlayerGone
	inGame := r.Status == StatusInGame
	roomID := r.ID
	return func() {
		if inGame && wasPlayer && onGone != nil {
			onGone(roomID, userID)
		}
		if isEmpty && onEmpty != nil {
			log.Printf("Room %s is now empty. Triggering OnEmpty callback.", roomID)
			onEmpty(roomID)
		}
	}
}

// Leave removes a participant, acquiring the lock itself.
func (r *Room) Leave(userID uuid.UUID) {
	r.Mu.Lock()
	after := r.LeaveUnsafe(userID)
	r.Mu.Unlock()
	after()
}

// transferCreatorUnsafe hands creator rights to the longest-tenured remaining
// player, lowest seat on a tie. Assumes lock held.
func (r *Room) transferCreatorUnsafe() {
	var best *models.Participant
	for _, p := range r.Participants {
		if p.Role != models.RolePlayer {
			continue
		}
		if best == nil ||
			p.JoinedAt.Before(best.JoinedAt) ||
			(p.JoinedAt.Equal(best.JoinedAt) && p.SeatOrNegative() < best.SeatOrNegative()) {
			best = p
		}
	}
	if best == nil {
		return
	}
	r.CreatorID = best.UserID
	log.Printf("Room %s: creator role transferred to %s.", r.ID, best.UserID)
	r.BroadcastAllUnsafe(map[string]interface{}{
		"type":       "creator_changed",
		"creator_id": best.UserID.String(),
	})
}

// AddConnection registers a live connection for a participant, superseding
// any previous one. Acquires the lock.
func (r *Room) AddConnection(userID uuid.UUID, conn *RoomConnection) {
	r.Mu.Lock()
	if old, ok := r.Connections[userID]; ok && old != conn {
		// The superseded pump dies with its context; its channel stays open.
		if old.Cancel != nil {
			old.Cancel()
		}
	}
	r.Connections[userID] = conn
	if p, ok := r.Participants[userID]; ok {
		p.Status = models.ConnConnected
	}
	r.cancelGraceUnsafe(userID)
	statePayload := r.getRoomStatePayloadUnsafe(userID)
	r.Mu.Unlock()

	conn.Write(statePayload)
}

// MarkReadyUnsafe flips a seated player's ready flag. Spectators cannot
// ready. Returns true when every seated player is now ready and the table
// can start. Assumes lock held.
func (r *Room) MarkReadyUnsafe(userID uuid.UUID, ready bool) bool {
	p, ok := r.Participants[userID]
	if !ok || p.Role != models.RolePlayer || r.Status != StatusLobby {
		return false
	}
	if p.Ready == ready {
		return false
	}
	p.Ready = ready
	r.BroadcastAllUnsafe(map[string]interface{}{
		"type":     "ready_status_changed",
		"user_id":  userID.String(),
		"is_ready": ready,
	})
	return ready && r.AreAllReadyUnsafe()
}

// AreAllReadyUnsafe reports whether every seated player is ready and at
// least two are seated. Assumes lock held.
func (r *Room) AreAllReadyUnsafe() bool {
	players := 0
	for _, p := range r.Participants {
		if p.Role != models.RolePlayer {
			continue
		}
		players++
		if !p.Ready {
			return false
		}
	}
	return players >= 2
}

// HandleDisconnectUnsafe marks a participant disconnected and starts the
// grace timer that frees their seat on expiry. Assumes lock held.
func (r *Room) HandleDisconnectUnsafe(userID uuid.UUID) {
	p, ok := r.Participants[userID]
	if !ok {
		return
	}
	p.Status = models.ConnDisconnected
	delete(r.Connections, userID)
	r.broadcastDeltaUnsafe("participant_disconnected", userID)

	grace := time.Duration(r.Rules.GracePeriodSec) * time.Second
	if grace <= 0 {
		after := r.LeaveUnsafe(userID)
		go after()
		return
	}
	r.cancelGraceUnsafe(userID)
	var timer *time.Timer
	timer = time.AfterFunc(grace, func() {
		r.Mu.Lock()
		// A reconnect replaces the timer; only the current one may evict.
		if r.graceTimers[userID] != timer {
			r.Mu.Unlock()
			return
		}
		delete(r.graceTimers, userID)
		log.Printf("Room %s: grace period expired for %s.", r.ID, userID)
		after := r.LeaveUnsafe(userID)
		r.Mu.Unlock()
		after()
	})
	r.graceTimers[userID] = timer
}

// cancelGraceUnsafe stops and clears a pending grace timer. Assumes lock held.
func (r *Room) cancelGraceUnsafe(userID uuid.UUID) {
	if t, ok := r.graceTimers[userID]; ok {
		t.Stop()
		delete(r.graceTimers, userID)
	}
}

// refreshLoneTimerUnsafe arms the abandonment timer when exactly one seated
// player remains in the lobby and cancels it otherwise. A room may not sit at
// a single player past the grace period; spectators do not keep it alive.
// Assumes lock held.
func (r *Room) refreshLoneTimerUnsafe() {
	grace := time.Duration(r.Rules.GracePeriodSec) * time.Second
	if r.Status != StatusLobby || grace <= 0 || r.seatedPlayersUnsafe() != 1 {
		if r.loneTimer != nil {
			r.loneTimer.Stop()
			r.loneTimer = nil
		}
		return
	}
	if r.loneTimer != nil {
		// Already counting down; the deadline does not reset.
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(grace, func() {
		r.Mu.Lock()
		if r.loneTimer != timer || r.Status != StatusLobby || r.seatedPlayersUnsafe() > 1 {
			r.Mu.Unlock()
			return
		}
		r.loneTimer = nil
		log.Printf("Room %s: single player lingered past the grace period. Abandoning.", r.ID)
		ids := make([]uuid.UUID, 0, len(r.Participants))
		for id := range r.Participants {
			ids = append(ids, id)
		}
		afters := make([]func(), 0, len(ids))
		for _, id := range ids {
			afters = append(afters, r.LeaveUnsafe(id))
		}
		r.Mu.Unlock()
		for _, after := range afters {
			after()
		}
	})
	r.loneTimer = timer
}

// BroadcastAllUnsafe sends msg to every connected participant. Assumes lock held.
func (r *Room) BroadcastAllUnsafe(msg map[string]interface{}) {
	for _, conn := range r.Connections {
		conn.Write(msg)
	}
}

// BroadcastChatUnsafe relays a chat line to the whole room. Assumes lock held.
func (r *Room) BroadcastChatUnsafe(senderID uuid.UUID, msg string) {
	p, ok := r.Participants[senderID]
	if !ok {
		return
	}
	r.BroadcastAllUnsafe(map[string]interface{}{
		"type":         "chat",
		"user_id":      senderID.String(),
		"display_name": p.DisplayName,
		"msg":          msg,
		"ts":           time.Now().Unix(),
	})
}

// broadcastDeltaUnsafe announces one participant's membership change along
// with the refreshed roster. The change name is the wire event type
// (participant_joined, participant_left, participant_disconnected).
// Assumes lock held.
func (r *Room) broadcastDeltaUnsafe(change string, userID uuid.UUID) {
	r.BroadcastAllUnsafe(map[string]interface{}{
		"type":        change,
		"user_id":     userID.String(),
		"room_status": r.getRosterPayloadUnsafe(),
	})
}

// getRosterPayloadUnsafe gathers the participant roster. Assumes lock held.
func (r *Room) getRosterPayloadUnsafe() map[string]interface{} {
	participants := []map[string]interface{}{}
	for _, p := range r.Participants {
		participants = append(participants, map[string]interface{}{
			"id":           p.UserID.String(),
			"display_name": p.DisplayName,
			"role":         string(p.Role),
			"seat":         p.SeatOrNegative(),
			"is_ready":     p.Ready,
			"status":       string(p.Status),
			"is_creator":   p.UserID == r.CreatorID,
		})
	}
	return map[string]interface{}{
		"participants": participants,
	}
}

// getRoomStatePayloadUnsafe prepares the full room state for one viewer.
// Assumes lock held.
func (r *Room) getRoomStatePayloadUnsafe(userID uuid.UUID) map[string]interface{} {
	sessionIDStr := ""
	if r.SessionID != uuid.Nil {
		sessionIDStr = r.SessionID.String()
	}
	return map[string]interface{}{
		"type":        "room_joined",
		"room_id":     r.ID.String(),
		"name":        r.Name,
		"creator_id":  r.CreatorID.String(),
		"your_id":     userID.String(),
		"private":     r.Private,
		"status":      string(r.Status),
		"session_id":  sessionIDStr,
		"rules":       r.Rules,
		"room_status": r.getRosterPayloadUnsafe(),
	}
}

// SendRoomState sends the full room state to one participant. Assumes lock held.
func (r *Room) SendRoomState(userID uuid.UUID) {
	conn, ok := r.Connections[userID]
	if !ok {
		return
	}
	conn.Write(r.getRoomStatePayloadUnsafe(userID))
}

// UpdateRulesUnsafe applies a partial rules update. Only the creator may
// change rules, and only in the lobby. Assumes lock held.
func (r *Room) UpdateRulesUnsafe(userID uuid.UUID, newRules map[string]interface{}) error {
	if userID != r.CreatorID {
		return errors.New("only the room creator may change rules")
	}
	if r.Status != StatusLobby {
		return errors.New("rules are frozen once the game starts")
	}
	tmp := r.Rules
	if err := tmp.Update(newRules); err != nil {
		return err
	}
	if tmp != r.Rules {
		r.Rules = tmp
		r.BroadcastAllUnsafe(map[string]interface{}{
			"type":  "room_rules_updated",
			"rules": r.Rules,
		})
	}
	return nil
}

// SeatedPlayersUnsafe returns the seated players ordered by seat index.
// Assumes lock held.
func (r *Room) SeatedPlayersUnsafe() []*models.Participant {
	out := make([]*models.Participant, 0, r.Rules.MaxPlayers)
	for seat := 0; seat < r.Rules.MaxPlayers; seat++ {
		for _, p := range r.Participants {
			if p.Role == models.RolePlayer && p.Seat != nil && *p.Seat == seat {
				out = append(out, p)
			}
		}
	}
	return out
}
