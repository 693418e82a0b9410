// internal/game/session.go
package game

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blattodea/roachpoker/internal/cache"
	"github.com/blattodea/roachpoker/internal/models"
)

// OnSessionEndFunc handles a finished session: room status transition,
// result archival, broadcasting back to the room.
type OnSessionEndFunc func(roomID uuid.UUID, result FinalResults)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusSetup     SessionStatus = "setup"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// RoundStatus is the lifecycle state of an in-flight round.
type RoundStatus string

const (
	RoundAwaitingResponse RoundStatus = "awaiting_response"
	RoundResolved         RoundStatus = "resolved"
)

// Player is a seated participant's in-session state. Hand contents are
// private; the penalty pile is public (penalty cards land face up).
type Player struct {
	ID          uuid.UUID
	DisplayName string
	Seat        int
	Hand        []*models.Card
	Penalty     []*models.Card
	Connected   bool
	Forfeited   bool
}

// PenaltyCount returns how many cards of one creature sit in the pile.
func (p *Player) PenaltyCount(c models.CreatureType) int {
	n := 0
	for _, card := range p.Penalty {
		if card.Creature == c {
			n++
		}
	}
	return n
}

// removeCard takes a card out of the hand and returns it, or nil if absent.
func (p *Player) removeCard(cardID uuid.UUID) *models.Card {
	for i, c := range p.Hand {
		if c.ID == cardID {
			p.Hand = append(p.Hand[:i], p.Hand[i+1:]...)
			return c
		}
	}
	return nil
}

// Round is one claim/response/pass cycle. The card is owned by the round
// while in flight; the actual creature is known only to the server and to
// players recorded in seenBy (the original claimant and every passer).
type Round struct {
	ID              uuid.UUID
	card            *models.Card
	OriginID        uuid.UUID // player whose hand the card left
	ClaimantID      uuid.UUID // claimant of the current hop
	TargetID        uuid.UUID // who owes the response
	ClaimedCreature models.CreatureType
	PassCount       int
	Status          RoundStatus
	seenBy          map[uuid.UUID]bool
}

// FinalResults summarizes a completed session.
type FinalResults struct {
	WinnerID uuid.UUID
	LoserID  uuid.UUID
	Tallies  map[uuid.UUID]map[models.CreatureType]int
	Rounds   int
	Duration time.Duration
}

// Session holds the entire state for one room's game in memory. All mutating
// operations on a session are serialized under Mu; the websocket layer locks
// before routing an action and the timers re-acquire the lock on fire, so the
// session behaves as a single sequential actor.
type Session struct {
	ID     uuid.UUID
	RoomID uuid.UUID

	Rules   RoomRules
	Players []*Player // seat order; index == turn order

	Status             SessionStatus
	Version            int64 // bumped once per accepted mutating action
	RoundNum           int
	CurRound           *Round
	CurrentPlayerIndex int
	TurnDeadline       time.Time
	Paused             bool

	// TurnDuration overrides the rules-derived action window when non-zero.
	TurnDuration time.Duration

	StartedAt   time.Time
	turnTimer   *time.Timer
	warnTimer   *time.Timer
	actionIndex int
	rng         *rand.Rand

	// Forfeited holds cards abandoned by players who left mid-game. SetAside
	// holds undealt remainder cards. Both count toward card conservation.
	Forfeited []*models.Card
	SetAside  []*models.Card

	Mu sync.Mutex

	// BroadcastFn sends an event to every connected participant (players and
	// spectators). BroadcastToPlayerFn targets a single player.
	BroadcastFn         func(ev Event)
	BroadcastToPlayerFn func(playerID uuid.UUID, ev Event)

	// OnSessionEnd is invoked exactly once when the session completes.
	OnSessionEnd OnSessionEndFunc
}

// NewSession builds a session in setup state for the given seat-ordered
// players. Begin deals and activates it.
func NewSession(roomID uuid.UUID, rules RoomRules, players []*Player) *Session {
	id, _ := uuid.NewRandom()
	return &Session{
		ID:      id,
		RoomID:  roomID,
		Rules:   rules,
		Players: players,
		Status:  StatusSetup,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Begin deals the deck, fixes turn order, activates the session, and
// broadcasts the initial state plus each player's private hand.
func (s *Session) Begin() {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if s.Status != StatusSetup {
		log.Printf("Session %s: Begin called in status %s. Ignoring.", s.ID, s.Status)
		return
	}
	s.deal()
	s.Status = StatusActive
	s.StartedAt = time.Now()
	s.RoundNum = 1
	s.CurrentPlayerIndex = 0
	s.bumpVersion()

	s.fireEvent(Event{
		Type:    EventGameStarted,
		Version: s.Version,
		Payload: map[string]interface{}{
			"session_id":        s.ID.String(),
			"room_id":           s.RoomID.String(),
			"current_player_id": s.Players[s.CurrentPlayerIndex].ID.String(),
			"round_number":      s.RoundNum,
			"hand_size":         len(s.Players[0].Hand),
		},
	})
	for _, p := range s.Players {
		s.sendHand(p.ID)
	}
	s.logAction(uuid.Nil, "game_started", map[string]interface{}{"players": len(s.Players)})
	s.scheduleNextTurnTimer()
}

// deal builds the fixed 64-card deck, shuffles, and partitions it evenly
// among players. Remainder cards are set aside, never entering play.
func (s *Session) deal() {
	var deck []*models.Card
	for _, creature := range models.Creatures {
		for i := 0; i < models.CopiesPerCreature; i++ {
			cid, _ := uuid.NewRandom()
			deck = append(deck, &models.Card{ID: cid, Creature: creature})
		}
	}
	s.rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	per := len(deck) / len(s.Players)
	for i, p := range s.Players {
		p.Hand = append([]*models.Card{}, deck[i*per:(i+1)*per]...)
		p.Penalty = []*models.Card{}
	}
	s.SetAside = append([]*models.Card{}, deck[per*len(s.Players):]...)
	log.Printf("Session %s: dealt %d cards to each of %d players (%d set aside).",
		s.ID, per, len(s.Players), len(s.SetAside))
}

// bumpVersion advances the optimistic-concurrency fence. Assumes lock held.
func (s *Session) bumpVersion() {
	s.Version++
}

// CardCount returns the total number of cards across hands, penalty piles,
// the in-flight round, the forfeited bucket, and the set-aside stack. It must
// equal models.DeckSize for the lifetime of the session.
func (s *Session) CardCount() int {
	n := len(s.SetAside) + len(s.Forfeited)
	for _, p := range s.Players {
		n += len(p.Hand) + len(p.Penalty)
	}
	if s.CurRound != nil && s.CurRound.Status == RoundAwaitingResponse {
		n++
	}
	return n
}

// getPlayerByID returns the player or nil. Assumes lock held.
func (s *Session) getPlayerByID(id uuid.UUID) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Session) playerIndex(id uuid.UUID) int {
	for i, p := range s.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// activePlayers counts players still in the game. Assumes lock held.
func (s *Session) activePlayers() int {
	n := 0
	for _, p := range s.Players {
		if !p.Forfeited {
			n++
		}
	}
	return n
}

// obligatedPlayerID is whoever currently owes an action: the designated
// responder while a round is in flight, else the current-turn claimant.
// Assumes lock held.
func (s *Session) obligatedPlayerID() uuid.UUID {
	if s.CurRound != nil && s.CurRound.Status == RoundAwaitingResponse {
		return s.CurRound.TargetID
	}
	return s.Players[s.CurrentPlayerIndex].ID
}

// fireEvent broadcasts to all participants. Assumes lock held.
func (s *Session) fireEvent(ev Event) {
	if s.BroadcastFn != nil {
		s.BroadcastFn(ev)
	}
}

// fireEventToPlayer sends to one player. Assumes lock held.
func (s *Session) fireEventToPlayer(playerID uuid.UUID, ev Event) {
	if s.BroadcastToPlayerFn != nil {
		s.BroadcastToPlayerFn(playerID, ev)
	}
}

// rejectAction sends a structured rejection to the offending player only.
// No state mutation has happened by the time this is called. Assumes lock held.
func (s *Session) rejectAction(playerID uuid.UUID, code, message, attempted string) {
	s.fireEventToPlayer(playerID, Event{
		Type:    EventActionError,
		Version: s.Version,
		Payload: map[string]interface{}{
			"error_code":       code,
			"message":          message,
			"action_attempted": attempted,
		},
	})
}

// sendHand privately sends a player their current hand. Assumes lock held.
func (s *Session) sendHand(playerID uuid.UUID) {
	p := s.getPlayerByID(playerID)
	if p == nil {
		return
	}
	hand := make([]map[string]interface{}, 0, len(p.Hand))
	for _, c := range p.Hand {
		hand = append(hand, map[string]interface{}{
			"id":       c.ID.String(),
			"creature": string(c.Creature),
		})
	}
	s.fireEventToPlayer(playerID, Event{
		Type:    EventPrivateHand,
		Version: s.Version,
		Payload: map[string]interface{}{"hand": hand},
	})
}

// logAction pushes an action record onto the stats queue. Fire-and-forget;
// skipped entirely when redis is not connected (tests, degraded mode).
func (s *Session) logAction(actorID uuid.UUID, actionType string, payload map[string]interface{}) {
	s.actionIndex++
	if cache.Rdb == nil {
		return
	}
	record := cache.GameActionRecord{
		SessionID:     s.ID,
		RoomID:        s.RoomID,
		ActionIndex:   s.actionIndex,
		ActorUserID:   actorID,
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().Unix(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := cache.PublishGameAction(ctx, record); err != nil {
			log.Printf("Session %s: failed to publish action record: %v", s.ID, err)
		}
	}()
}

// HandlePlayerAction validates and routes a player's move. The lock is
// assumed to be HELD by the caller (websocket handler, REST mirror, or a
// timer that re-acquired it).
func (s *Session) HandlePlayerAction(playerID uuid.UUID, action models.GameAction) {
	if s.Status != StatusActive {
		s.rejectAction(playerID, ErrCodeGameNotActive, "The game is not active.", action.ActionType)
		return
	}
	p := s.getPlayerByID(playerID)
	if p == nil || p.Forfeited {
		s.rejectAction(playerID, ErrCodeGameNotActive, "You are not an active player in this game.", action.ActionType)
		return
	}
	if s.Paused {
		s.Paused = false // any legal attempt resumes a paused session
	}

	// Version fence: an action built against an older broadcast is rejected
	// rather than applied out of order. Version 0 means "unfenced" (REST).
	if action.Version != 0 && action.Version != s.Version {
		s.rejectAction(playerID, ErrCodeStaleVersion,
			"Action references a stale session version; resync and retry.", action.ActionType)
		return
	}

	switch action.ActionType {
	case ActionClaimCard:
		s.handleClaim(playerID, action.Payload)
	case ActionRespond:
		s.handleRespond(playerID, action.Payload)
	case ActionPassCard:
		s.handlePass(playerID, action.Payload)
	case ActionForfeit:
		s.ForfeitPlayerLocked(playerID)
	default:
		s.rejectAction(playerID, ErrCodeUnknownAction, "Unknown action type.", action.ActionType)
	}
}

// handleClaim starts a round: the current player serves one of their cards
// face down to a target with a claimed creature type. Assumes lock held.
func (s *Session) handleClaim(playerID uuid.UUID, payload map[string]interface{}) {
	if s.CurRound != nil && s.CurRound.Status == RoundAwaitingResponse {
		s.rejectAction(playerID, ErrCodeRoundInFlight, "A round is already awaiting a response.", ActionClaimCard)
		return
	}
	if s.Players[s.CurrentPlayerIndex].ID != playerID {
		s.rejectAction(playerID, ErrCodeNotYourTurn, "It's not your turn.", ActionClaimCard)
		return
	}

	cardIDStr, _ := payload["card_id"].(string)
	creatureStr, _ := payload["claimed_creature"].(string)
	targetIDStr, _ := payload["target_player_id"].(string)

	cardID, err := uuid.Parse(cardIDStr)
	if err != nil {
		s.rejectAction(playerID, ErrCodeInvalidPayload, "Invalid card_id.", ActionClaimCard)
		return
	}
	if !models.IsValidCreature(creatureStr) {
		s.rejectAction(playerID, ErrCodeInvalidPayload, "Unknown creature type.", ActionClaimCard)
		return
	}
	targetID, err := uuid.Parse(targetIDStr)
	if err != nil {
		s.rejectAction(playerID, ErrCodeInvalidPayload, "Invalid target_player_id.", ActionClaimCard)
		return
	}
	target := s.getPlayerByID(targetID)
	if target == nil || target.Forfeited || targetID == playerID {
		s.rejectAction(playerID, ErrCodeInvalidTarget, "Target must be another active player.", ActionClaimCard)
		return
	}

	claimant := s.getPlayerByID(playerID)
	card := claimant.removeCard(cardID)
	if card == nil {
		s.rejectAction(playerID, ErrCodeCardNotInHand, "That card is not in your hand.", ActionClaimCard)
		return
	}

	rid, _ := uuid.NewRandom()
	s.CurRound = &Round{
		ID:              rid,
		card:            card,
		OriginID:        playerID,
		ClaimantID:      playerID,
		TargetID:        targetID,
		ClaimedCreature: models.CreatureType(creatureStr),
		Status:          RoundAwaitingResponse,
		seenBy:          map[uuid.UUID]bool{playerID: true},
	}
	s.bumpVersion()

	// Public facts only: who claimed what to whom. The card's identity stays
	// with the server until a believe/disbelieve resolution.
	s.fireEvent(Event{
		Type:    EventActionPerformed,
		Version: s.Version,
		User:    &EventUser{ID: playerID},
		Payload: map[string]interface{}{
			"action_type":        ActionClaimCard,
			"round_id":           rid.String(),
			"claimed_creature":   creatureStr,
			"target_player_id":   targetID.String(),
			"claimant_hand_size": len(claimant.Hand),
		},
	})
	s.sendHand(playerID)
	s.logAction(playerID, ActionClaimCard, map[string]interface{}{
		"round_id": rid.String(), "claimed": creatureStr, "target": targetID.String(),
	})
	s.scheduleNextTurnTimer()
}

// handleRespond resolves the in-flight round with believe or disbelieve.
// Only the designated responder may act. Assumes lock held.
func (s *Session) handleRespond(playerID uuid.UUID, payload map[string]interface{}) {
	round := s.CurRound
	if round == nil || round.Status != RoundAwaitingResponse {
		s.rejectAction(playerID, ErrCodeRoundNotFound, "No round is awaiting a response.", ActionRespond)
		return
	}
	if roundIDStr, ok := payload["round_id"].(string); ok {
		rid, err := uuid.Parse(roundIDStr)
		if err != nil || rid != round.ID {
			s.rejectAction(playerID, ErrCodeRoundNotFound, "Round id does not match the round in flight.", ActionRespond)
			return
		}
	}
	if playerID != round.TargetID {
		s.rejectAction(playerID, ErrCodeNotResponder,
			"Only "+round.TargetID.String()+" may respond to this claim.", ActionRespond)
		return
	}
	believe, ok := payload["believe"].(bool)
	if !ok {
		s.rejectAction(playerID, ErrCodeInvalidPayload, "Missing believe field.", ActionRespond)
		return
	}
	s.resolveRound(playerID, believe, false)
}

// handlePass forwards the in-flight card to a new target under a fresh
// claim. The passer peeks at the card, so it can never return to them.
// Assumes lock held.
func (s *Session) handlePass(playerID uuid.UUID, payload map[string]interface{}) {
	round := s.CurRound
	if round == nil || round.Status != RoundAwaitingResponse {
		s.rejectAction(playerID, ErrCodeRoundNotFound, "No round is awaiting a response.", ActionPassCard)
		return
	}
	if playerID != round.TargetID {
		s.rejectAction(playerID, ErrCodeNotResponder,
			"Only "+round.TargetID.String()+" may act on this claim.", ActionPassCard)
		return
	}

	creatureStr, _ := payload["new_claim"].(string)
	targetIDStr, _ := payload["target_player_id"].(string)
	if !models.IsValidCreature(creatureStr) {
		s.rejectAction(playerID, ErrCodeInvalidPayload, "Unknown creature type in new_claim.", ActionPassCard)
		return
	}
	targetID, err := uuid.Parse(targetIDStr)
	if err != nil {
		s.rejectAction(playerID, ErrCodeInvalidPayload, "Invalid target_player_id.", ActionPassCard)
		return
	}
	target := s.getPlayerByID(targetID)
	if target == nil || target.Forfeited || targetID == playerID {
		s.rejectAction(playerID, ErrCodeInvalidTarget, "Target must be another active player.", ActionPassCard)
		return
	}
	// The card cannot go to anyone who has already inspected it this round.
	if round.seenBy[targetID] {
		s.rejectAction(playerID, ErrCodeInvalidTarget,
			"That player has already seen this card; you must respond instead.", ActionPassCard)
		return
	}

	// The passer privately learns the card before re-claiming.
	s.fireEventToPlayer(playerID, Event{
		Type:    EventPrivateSyncState,
		Version: s.Version,
		Payload: map[string]interface{}{
			"peeked_round_id": round.ID.String(),
			"actual_creature": string(round.card.Creature),
		},
	})

	round.seenBy[playerID] = true
	round.ClaimantID = playerID
	round.TargetID = targetID
	round.ClaimedCreature = models.CreatureType(creatureStr)
	round.PassCount++
	s.bumpVersion()

	s.fireEvent(Event{
		Type:    EventActionPerformed,
		Version: s.Version,
		User:    &EventUser{ID: playerID},
		Payload: map[string]interface{}{
			"action_type":      ActionPassCard,
			"round_id":         round.ID.String(),
			"claimed_creature": creatureStr,
			"target_player_id": targetID.String(),
			"pass_count":       round.PassCount,
		},
	})
	s.logAction(playerID, ActionPassCard, map[string]interface{}{
		"round_id": round.ID.String(), "claimed": creatureStr,
		"target": targetID.String(), "pass_count": round.PassCount,
	})
	s.scheduleNextTurnTimer()
}

// resolveRound reveals the card and assigns it as a penalty. A wrong guess
// (believed a lie, or disbelieved a truth) penalizes the responder; a right
// guess penalizes the claimant of the current hop. The receiver starts the
// next round. Assumes lock held.
func (s *Session) resolveRound(responderID uuid.UUID, believe, automatic bool) {
	round := s.CurRound
	actual := round.card.Creature
	truthful := actual == round.ClaimedCreature
	wrongGuess := (believe && !truthful) || (!believe && truthful)

	var receiver *Player
	if wrongGuess {
		receiver = s.getPlayerByID(responderID)
	} else {
		receiver = s.getPlayerByID(round.ClaimantID)
	}
	receiver.Penalty = append(receiver.Penalty, round.card)
	round.Status = RoundResolved
	s.CurRound = nil
	s.bumpVersion()

	pileCount := receiver.PenaltyCount(actual)
	s.fireEvent(Event{
		Type:    EventActionPerformed,
		Version: s.Version,
		User:    &EventUser{ID: responderID},
		Payload: map[string]interface{}{
			"action_type":      ActionRespond,
			"round_id":         round.ID.String(),
			"believed":         believe,
			"automatic":        automatic,
			"actual_creature":  string(actual),
			"claimed_creature": string(round.ClaimedCreature),
			"truthful":         truthful,
			"receiver_id":      receiver.ID.String(),
			"pile_count":       pileCount,
			"round_number":     s.RoundNum,
		},
	})
	s.logAction(responderID, ActionRespond, map[string]interface{}{
		"round_id": round.ID.String(), "believed": believe, "automatic": automatic,
		"actual": string(actual), "receiver": receiver.ID.String(),
	})

	// Win check runs on the very resolution that crosses the threshold.
	if pileCount >= s.Rules.PenaltyThreshold {
		s.endSession(receiver.ID)
		return
	}

	s.RoundNum++
	s.advanceTurnTo(receiver.ID)
}

// advanceTurnTo hands the turn to the penalty receiver. A player with an
// empty hand at the start of their turn loses immediately. Assumes lock held.
func (s *Session) advanceTurnTo(playerID uuid.UUID) {
	idx := s.playerIndex(playerID)
	if idx < 0 || s.Players[idx].Forfeited {
		idx = s.nextActiveIndex(s.CurrentPlayerIndex)
		if idx < 0 {
			s.endSession(uuid.Nil)
			return
		}
	}
	s.CurrentPlayerIndex = idx

	next := s.Players[s.CurrentPlayerIndex]
	if len(next.Hand) == 0 {
		log.Printf("Session %s: player %s starts their turn with an empty hand. Game over.", s.ID, next.ID)
		s.endSession(next.ID)
		return
	}

	s.fireEvent(Event{
		Type:    EventGameStateUpdated,
		Version: s.Version,
		Payload: map[string]interface{}{
			"update_type":       "turn_started",
			"current_player_id": next.ID.String(),
			"round_number":      s.RoundNum,
		},
	})
	s.scheduleNextTurnTimer()
}

// nextActiveIndex finds the next non-forfeited seat after from, or -1.
// Assumes lock held.
func (s *Session) nextActiveIndex(from int) int {
	for i := 1; i <= len(s.Players); i++ {
		idx := (from + i) % len(s.Players)
		if !s.Players[idx].Forfeited {
			return idx
		}
	}
	return -1
}

// scheduleNextTurnTimer (re)arms the action deadline for whoever owes the
// next action, plus a warning at three quarters of the window. A timer firing
// for a superseded version is a no-op: the human action that already reached
// the serialization point wins. Assumes lock held.
func (s *Session) scheduleNextTurnTimer() {
	duration := s.TurnDuration
	if duration <= 0 {
		duration = time.Duration(s.Rules.TurnTimerSec) * time.Second
	}
	if duration <= 0 || s.Status != StatusActive {
		return
	}
	if s.turnTimer != nil {
		s.turnTimer.Stop()
	}
	if s.warnTimer != nil {
		s.warnTimer.Stop()
	}

	s.TurnDeadline = time.Now().Add(duration)
	obligated := s.obligatedPlayerID()
	versionAtSchedule := s.Version

	s.warnTimer = time.AfterFunc(duration*3/4, func() {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		if s.Status != StatusActive || s.Version != versionAtSchedule {
			return
		}
		s.fireEventToPlayer(obligated, Event{
			Type:    EventTurnTimeoutWarning,
			Version: s.Version,
			Payload: map[string]interface{}{
				"seconds_remaining": int(time.Until(s.TurnDeadline).Seconds()),
			},
		})
	})

	s.turnTimer = time.AfterFunc(duration, func() {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		if s.Status != StatusActive || s.Version != versionAtSchedule {
			// Stale timer: an action landed first.
			return
		}
		s.handleDeadline(obligated)
	})
}

// handleDeadline performs the configured automatic action for a player who
// ran out the clock. The resulting broadcast is shaped exactly like a manual
// action; only the automatic flag differs. Assumes lock held.
func (s *Session) handleDeadline(playerID uuid.UUID) {
	log.Printf("Session %s: player %s missed the action deadline.", s.ID, playerID)
	s.logAction(playerID, "turn_timeout", nil)

	if s.Rules.TimeoutPolicy == TimeoutPause {
		s.Paused = true
		s.fireEvent(Event{
			Type:    EventTurnTimeout,
			Version: s.Version,
			User:    &EventUser{ID: playerID},
			Payload: map[string]interface{}{"automatic_action": "pause"},
		})
		return
	}

	if s.CurRound != nil && s.CurRound.Status == RoundAwaitingResponse {
		// Obligated responder: the deterministic auto-action is believe.
		s.fireEvent(Event{
			Type:    EventTurnTimeout,
			Version: s.Version,
			User:    &EventUser{ID: playerID},
			Payload: map[string]interface{}{"automatic_action": "believe"},
		})
		s.resolveRound(playerID, true, true)
		return
	}

	// Obligated claimant: play a random legal claim against a random opponent.
	claimant := s.getPlayerByID(playerID)
	if claimant == nil || len(claimant.Hand) == 0 {
		next := s.nextActiveIndex(s.CurrentPlayerIndex)
		if next < 0 {
			s.endSession(uuid.Nil)
			return
		}
		s.advanceTurnTo(s.Players[next].ID)
		return
	}
	card := claimant.Hand[s.rng.Intn(len(claimant.Hand))]
	creature := models.Creatures[s.rng.Intn(len(models.Creatures))]
	var targets []*Player
	for _, p := range s.Players {
		if p.ID != playerID && !p.Forfeited {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		s.endSession(uuid.Nil)
		return
	}
	target := targets[s.rng.Intn(len(targets))]

	s.fireEvent(Event{
		Type:    EventTurnTimeout,
		Version: s.Version,
		User:    &EventUser{ID: playerID},
		Payload: map[string]interface{}{"automatic_action": "random_claim"},
	})
	s.handleClaim(playerID, map[string]interface{}{
		"card_id":          card.ID.String(),
		"claimed_creature": string(creature),
		"target_player_id": target.ID.String(),
	})
}

// HandleDisconnect marks a player disconnected. Their seat, hand, and any
// pending obligation are retained; timers keep running so a vanished player
// cannot stall the table. The room registry owns the grace-period expiry.
func (s *Session) HandleDisconnect(playerID uuid.UUID) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	p := s.getPlayerByID(playerID)
	if p == nil || !p.Connected {
		return
	}
	p.Connected = false
	s.logAction(playerID, "player_disconnect", nil)
	s.fireEvent(Event{
		Type:    EventGameStateUpdated,
		Version: s.Version,
		User:    &EventUser{ID: playerID},
		Payload: map[string]interface{}{"update_type": "player_disconnected"},
	})
}

// HandleReconnect marks a player connected again and sends them a fresh
// authoritative snapshot.
func (s *Session) HandleReconnect(playerID uuid.UUID) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	p := s.getPlayerByID(playerID)
	if p == nil {
		return
	}
	p.Connected = true
	s.logAction(playerID, "player_reconnect", nil)
	s.sendSyncState(playerID)
	s.fireEvent(Event{
		Type:    EventGameStateUpdated,
		Version: s.Version,
		User:    &EventUser{ID: playerID},
		Payload: map[string]interface{}{"update_type": "player_reconnected"},
	})
}

// ForfeitPlayer removes a player mid-game: their hand (and an in-flight card
// they originated or hold the obligation for) moves to the forfeited bucket,
// never to an opponent's pile, and the win condition is evaluated immediately.
func (s *Session) ForfeitPlayer(playerID uuid.UUID) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.ForfeitPlayerLocked(playerID)
}

// ForfeitPlayerLocked is ForfeitPlayer with the lock already held.
func (s *Session) ForfeitPlayerLocked(playerID uuid.UUID) {
	p := s.getPlayerByID(playerID)
	if p == nil || p.Forfeited || s.Status != StatusActive {
		return
	}
	p.Forfeited = true
	p.Connected = false
	s.Forfeited = append(s.Forfeited, p.Hand...)
	p.Hand = nil

	// If the forfeiter is a party to the in-flight round, the round folds and
	// its card joins the forfeited bucket; nobody is penalized for it.
	if s.CurRound != nil && s.CurRound.Status == RoundAwaitingResponse &&
		(s.CurRound.ClaimantID == playerID || s.CurRound.TargetID == playerID) {
		s.Forfeited = append(s.Forfeited, s.CurRound.card)
		s.CurRound = nil
	}
	s.bumpVersion()

	s.fireEvent(Event{
		Type:    EventGameStateUpdated,
		Version: s.Version,
		User:    &EventUser{ID: playerID},
		Payload: map[string]interface{}{"update_type": "player_forfeited"},
	})
	s.logAction(playerID, "player_forfeit", nil)

	if s.activePlayers() <= 1 {
		s.endSession(playerID)
		return
	}
	if s.CurRound == nil {
		next := s.nextActiveIndex(s.playerIndex(playerID))
		if next >= 0 {
			s.advanceTurnTo(s.Players[next].ID)
		}
	}
}

// endSession completes the session. loserID is the player who triggered the
// loss condition (uuid.Nil when the game collapsed with no legal continuation).
// Assumes lock held.
func (s *Session) endSession(loserID uuid.UUID) {
	if s.Status == StatusCompleted {
		return
	}
	s.Status = StatusCompleted
	if s.turnTimer != nil {
		s.turnTimer.Stop()
	}
	if s.warnTimer != nil {
		s.warnTimer.Stop()
	}
	s.bumpVersion()

	result := FinalResults{
		LoserID:  loserID,
		Tallies:  make(map[uuid.UUID]map[models.CreatureType]int),
		Rounds:   s.RoundNum,
		Duration: time.Since(s.StartedAt),
	}
	// Winner: fewest penalty cards among the survivors, lowest seat tiebreak.
	best := -1
	for _, p := range s.Players {
		tally := make(map[models.CreatureType]int)
		for _, c := range p.Penalty {
			tally[c.Creature]++
		}
		result.Tallies[p.ID] = tally
		if p.ID == loserID || p.Forfeited {
			continue
		}
		if best == -1 || len(p.Penalty) < len(s.Players[best].Penalty) ||
			(len(p.Penalty) == len(s.Players[best].Penalty) && p.Seat < s.Players[best].Seat) {
			best = s.playerIndex(p.ID)
		}
	}
	if best >= 0 {
		result.WinnerID = s.Players[best].ID
	}

	standings := make([]map[string]interface{}, 0, len(s.Players))
	for _, p := range s.Players {
		standings = append(standings, map[string]interface{}{
			"player_id":     p.ID.String(),
			"penalty_cards": len(p.Penalty),
			"forfeited":     p.Forfeited,
		})
	}
	s.fireEvent(Event{
		Type:    EventGameCompleted,
		Version: s.Version,
		Payload: map[string]interface{}{
			"winner_id":             result.WinnerID.String(),
			"loser_id":              result.LoserID.String(),
			"final_standings":       standings,
			"rounds_played":         result.Rounds,
			"game_duration_seconds": int(result.Duration.Seconds()),
		},
	})
	s.logAction(uuid.Nil, "game_completed", map[string]interface{}{
		"winner": result.WinnerID.String(), "loser": result.LoserID.String(),
	})

	if s.OnSessionEnd != nil {
		// Persistence and room transitions happen off the session lock.
		go s.OnSessionEnd(s.RoomID, result)
	}
}
