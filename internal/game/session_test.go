// internal/game/session_test.go
package game

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blattodea/roachpoker/internal/models"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu           sync.Mutex
	allEvents    []Event
	playerEvents map[uuid.UUID][]Event
}

func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{
		playerEvents: make(map[uuid.UUID][]Event),
	}
}

func (mb *mockBroadcaster) broadcastFn(ev Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = append(mb.allEvents, ev)
}

func (mb *mockBroadcaster) broadcastToPlayerFn(playerID uuid.UUID, ev Event) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents[playerID] = append(mb.playerEvents[playerID], ev)
}

func (mb *mockBroadcaster) clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = []Event{}
	mb.playerEvents = make(map[uuid.UUID][]Event)
}

func (mb *mockBroadcaster) getLastEvent() *Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.allEvents) == 0 {
		return nil
	}
	return &mb.allEvents[len(mb.allEvents)-1]
}

func (mb *mockBroadcaster) getLastPlayerEvent(playerID uuid.UUID) *Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	events, ok := mb.playerEvents[playerID]
	if !ok || len(events) == 0 {
		return nil
	}
	return &events[len(events)-1]
}

func (mb *mockBroadcaster) eventsOfType(et EventType) []Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []Event
	for _, ev := range mb.allEvents {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

// setupTestSession initializes an active session with dealt hands and mock
// broadcasters. Turn timers are disabled unless the rules enable them.
func setupTestSession(t *testing.T, numPlayers int, rules *RoomRules) (*Session, []*Player, *mockBroadcaster) {
	t.Helper()

	players := make([]*Player, numPlayers)
	for i := 0; i < numPlayers; i++ {
		players[i] = &Player{
			ID:          uuid.New(),
			DisplayName: "Player",
			Seat:        i,
			Connected:   true,
		}
	}

	r := DefaultRules()
	r.TurnTimerSec = 0 // no timers unless a test opts in
	if rules != nil {
		r = *rules
	}

	s := NewSession(uuid.New(), r, players)
	mb := newMockBroadcaster()
	s.BroadcastFn = mb.broadcastFn
	s.BroadcastToPlayerFn = mb.broadcastToPlayerFn

	s.Begin()
	require.Equal(t, StatusActive, s.Status, "session should be active after Begin")
	require.Equal(t, models.DeckSize, s.CardCount(), "deal must conserve the deck")

	mb.clear()
	return s, players, mb
}

// otherCreature returns a creature different from c.
func otherCreature(c models.CreatureType) models.CreatureType {
	for _, cand := range models.Creatures {
		if cand != c {
			return cand
		}
	}
	return c
}

func claimPayload(card *models.Card, claimed models.CreatureType, target uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"card_id":          card.ID.String(),
		"claimed_creature": string(claimed),
		"target_player_id": target.String(),
	}
}

func TestDealSplitsDeckEvenly(t *testing.T) {
	s, players, _ := setupTestSession(t, 3, nil)
	for _, p := range players {
		assert.Len(t, p.Hand, models.DeckSize/3)
		assert.Empty(t, p.Penalty)
	}
	assert.Len(t, s.SetAside, models.DeckSize%3)
}

func TestBelievedBluffPenalizesResponder(t *testing.T) {
	s, players, mb := setupTestSession(t, 2, nil)
	playerA, playerB := players[0], players[1]

	card := playerA.Hand[0]
	bluff := otherCreature(card.Creature)
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, bluff, playerB.ID),
	})
	require.NotNil(t, s.CurRound, "round should be in flight")
	require.Equal(t, playerB.ID, s.CurRound.TargetID)

	claimEv := mb.getLastEvent()
	require.NotNil(t, claimEv)
	assert.Equal(t, EventActionPerformed, claimEv.Type)
	assert.Equal(t, string(bluff), claimEv.Payload["claimed_creature"])
	// The claim must never leak the card's identity.
	assert.NotContains(t, claimEv.Payload, "actual_creature")

	s.HandlePlayerAction(playerB.ID, models.GameAction{
		ActionType: ActionRespond,
		Payload:    map[string]interface{}{"believe": true},
	})

	require.Nil(t, s.CurRound, "round should be resolved")
	require.Len(t, playerB.Penalty, 1, "responder guessed wrong and takes the card")
	assert.Equal(t, card.ID, playerB.Penalty[0].ID)
	assert.Empty(t, playerA.Penalty)
	assert.Equal(t, playerB.ID, s.Players[s.CurrentPlayerIndex].ID, "receiver starts the next round")
	assert.Equal(t, 2, s.RoundNum)
	assert.Equal(t, models.DeckSize, s.CardCount())

	resolveEv := mb.getLastEvent()
	require.NotNil(t, resolveEv)
	assert.Equal(t, EventGameStateUpdated, resolveEv.Type) // turn_started follows resolution
	resolved := mb.eventsOfType(EventActionPerformed)
	last := resolved[len(resolved)-1]
	assert.Equal(t, false, last.Payload["truthful"])
	assert.Equal(t, string(card.Creature), last.Payload["actual_creature"])
	assert.Equal(t, playerB.ID.String(), last.Payload["receiver_id"])
}

func TestDisbelievedTruthPenalizesResponder(t *testing.T) {
	s, players, _ := setupTestSession(t, 2, nil)
	playerA, playerB := players[0], players[1]

	card := playerA.Hand[0]
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, card.Creature, playerB.ID),
	})
	s.HandlePlayerAction(playerB.ID, models.GameAction{
		ActionType: ActionRespond,
		Payload:    map[string]interface{}{"believe": false},
	})

	require.Len(t, playerB.Penalty, 1, "calling a truth a lie is a wrong guess")
	assert.Empty(t, playerA.Penalty)
	assert.Equal(t, playerB.ID, s.Players[s.CurrentPlayerIndex].ID)
}

func TestCaughtBluffPenalizesClaimant(t *testing.T) {
	s, players, _ := setupTestSession(t, 2, nil)
	playerA, playerB := players[0], players[1]

	card := playerA.Hand[0]
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, otherCreature(card.Creature), playerB.ID),
	})
	s.HandlePlayerAction(playerB.ID, models.GameAction{
		ActionType: ActionRespond,
		Payload:    map[string]interface{}{"believe": false},
	})

	require.Len(t, playerA.Penalty, 1, "caught bluffer takes their own card back face up")
	assert.Equal(t, card.ID, playerA.Penalty[0].ID)
	assert.Empty(t, playerB.Penalty)
	assert.Equal(t, playerA.ID, s.Players[s.CurrentPlayerIndex].ID)
}

func TestPassChainAndSeenSet(t *testing.T) {
	s, players, mb := setupTestSession(t, 3, nil)
	playerA, playerB, playerC := players[0], players[1], players[2]

	card := playerA.Hand[0]
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, card.Creature, playerB.ID),
	})
	require.NotNil(t, s.CurRound)

	// B passes to C under a new claim; B privately learns the card first.
	s.HandlePlayerAction(playerB.ID, models.GameAction{
		ActionType: ActionPassCard,
		Payload: map[string]interface{}{
			"new_claim":        string(otherCreature(card.Creature)),
			"target_player_id": playerC.ID.String(),
		},
	})
	require.NotNil(t, s.CurRound)
	assert.Equal(t, playerB.ID, s.CurRound.ClaimantID)
	assert.Equal(t, playerC.ID, s.CurRound.TargetID)
	assert.Equal(t, 1, s.CurRound.PassCount)

	peek := mb.getLastPlayerEvent(playerB.ID)
	require.NotNil(t, peek, "passer should get a private peek")
	assert.Equal(t, EventPrivateSyncState, peek.Type)
	assert.Equal(t, string(card.Creature), peek.Payload["actual_creature"])

	// C cannot send the card back to anyone who has inspected it.
	for _, seen := range []uuid.UUID{playerA.ID, playerB.ID} {
		s.HandlePlayerAction(playerC.ID, models.GameAction{
			ActionType: ActionPassCard,
			Payload: map[string]interface{}{
				"new_claim":        string(card.Creature),
				"target_player_id": seen.String(),
			},
		})
		rej := mb.getLastPlayerEvent(playerC.ID)
		require.NotNil(t, rej)
		assert.Equal(t, EventActionError, rej.Type)
		assert.Equal(t, ErrCodeInvalidTarget, rej.Payload["error_code"])
	}
	require.NotNil(t, s.CurRound, "failed passes must not resolve the round")

	// Everyone else has seen the card, so C must respond. C disbelieves B's
	// bluff claim, which is a right guess: B takes the penalty.
	s.HandlePlayerAction(playerC.ID, models.GameAction{
		ActionType: ActionRespond,
		Payload:    map[string]interface{}{"believe": false},
	})
	require.Nil(t, s.CurRound)
	require.Len(t, playerB.Penalty, 1)
	assert.Equal(t, card.ID, playerB.Penalty[0].ID)
	assert.Equal(t, models.DeckSize, s.CardCount())
}

func TestRejectionsDoNotMutateState(t *testing.T) {
	s, players, mb := setupTestSession(t, 3, nil)
	playerA, playerB, playerC := players[0], players[1], players[2]
	versionBefore := s.Version

	// Not B's turn to claim.
	s.HandlePlayerAction(playerB.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(playerB.Hand[0], playerB.Hand[0].Creature, playerA.ID),
	})
	rej := mb.getLastPlayerEvent(playerB.ID)
	require.NotNil(t, rej)
	assert.Equal(t, ErrCodeNotYourTurn, rej.Payload["error_code"])

	// A cannot target themselves.
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(playerA.Hand[0], playerA.Hand[0].Creature, playerA.ID),
	})
	rej = mb.getLastPlayerEvent(playerA.ID)
	require.NotNil(t, rej)
	assert.Equal(t, ErrCodeInvalidTarget, rej.Payload["error_code"])

	// A cannot serve a card that is not in their hand.
	ghost := &models.Card{ID: uuid.New(), Creature: models.CreatureBat}
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(ghost, models.CreatureBat, playerB.ID),
	})
	rej = mb.getLastPlayerEvent(playerA.ID)
	require.NotNil(t, rej)
	assert.Equal(t, ErrCodeCardNotInHand, rej.Payload["error_code"])

	// Nobody can respond while no round is in flight.
	s.HandlePlayerAction(playerC.ID, models.GameAction{
		ActionType: ActionRespond,
		Payload:    map[string]interface{}{"believe": true},
	})
	rej = mb.getLastPlayerEvent(playerC.ID)
	require.NotNil(t, rej)
	assert.Equal(t, ErrCodeRoundNotFound, rej.Payload["error_code"])

	assert.Equal(t, versionBefore, s.Version, "rejections must not advance the version")
	assert.Nil(t, s.CurRound)
	assert.Equal(t, models.DeckSize, s.CardCount())
}

func TestOnlyDesignatedResponderMayAct(t *testing.T) {
	s, players, mb := setupTestSession(t, 3, nil)
	playerA, playerB, playerC := players[0], players[1], players[2]

	card := playerA.Hand[0]
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, card.Creature, playerB.ID),
	})

	s.HandlePlayerAction(playerC.ID, models.GameAction{
		ActionType: ActionRespond,
		Payload:    map[string]interface{}{"believe": true},
	})
	rej := mb.getLastPlayerEvent(playerC.ID)
	require.NotNil(t, rej)
	assert.Equal(t, ErrCodeNotResponder, rej.Payload["error_code"])
	require.NotNil(t, s.CurRound, "round stays in flight after a stranger's respond")
}

func TestStaleVersionRejected(t *testing.T) {
	s, players, mb := setupTestSession(t, 2, nil)
	playerA, playerB := players[0], players[1]

	card := playerA.Hand[0]
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Version:    s.Version,
		Payload:    claimPayload(card, card.Creature, playerB.ID),
	})
	require.NotNil(t, s.CurRound)
	versionAfterClaim := s.Version

	// B responds against the pre-claim version: conflict.
	s.HandlePlayerAction(playerB.ID, models.GameAction{
		ActionType: ActionRespond,
		Version:    versionAfterClaim - 1,
		Payload:    map[string]interface{}{"believe": true},
	})
	rej := mb.getLastPlayerEvent(playerB.ID)
	require.NotNil(t, rej)
	assert.Equal(t, EventActionError, rej.Type)
	assert.Equal(t, ErrCodeStaleVersion, rej.Payload["error_code"])
	require.NotNil(t, s.CurRound, "stale action must not resolve the round")
	assert.Equal(t, versionAfterClaim, s.Version)

	// The same action fenced with the current version goes through.
	s.HandlePlayerAction(playerB.ID, models.GameAction{
		ActionType: ActionRespond,
		Version:    s.Version,
		Payload:    map[string]interface{}{"believe": true},
	})
	assert.Nil(t, s.CurRound)
}

func TestVersionIsMonotonic(t *testing.T) {
	s, players, mb := setupTestSession(t, 2, nil)
	playerA, playerB := players[0], players[1]

	for i := 0; i < 3 && s.Status == StatusActive; i++ {
		current := s.Players[s.CurrentPlayerIndex]
		target := playerA
		if current == playerA {
			target = playerB
		}
		card := current.Hand[0]
		s.HandlePlayerAction(current.ID, models.GameAction{
			ActionType: ActionClaimCard,
			Payload:    claimPayload(card, card.Creature, target.ID),
		})
		s.HandlePlayerAction(target.ID, models.GameAction{
			ActionType: ActionRespond,
			Payload:    map[string]interface{}{"believe": true},
		})
	}

	var last int64
	for _, ev := range mb.allEvents {
		if ev.Version == 0 {
			continue
		}
		assert.GreaterOrEqual(t, ev.Version, last, "broadcast versions must not regress")
		last = ev.Version
	}
	assert.Equal(t, s.Version, last)
}

func TestPenaltyThresholdEndsGame(t *testing.T) {
	rules := DefaultRules()
	rules.TurnTimerSec = 0
	rules.PenaltyThreshold = 2
	s, players, mb := setupTestSession(t, 2, &rules)
	playerA, playerB := players[0], players[1]

	// A already holds one matching penalty card; one more of the same
	// creature crosses the threshold.
	card := playerA.Hand[0]
	preload := &models.Card{ID: uuid.New(), Creature: card.Creature}
	playerA.Penalty = append(playerA.Penalty, preload)

	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, card.Creature, playerB.ID),
	})
	// B believes the truth: right guess, claimant A takes the card.
	s.HandlePlayerAction(playerB.ID, models.GameAction{
		ActionType: ActionRespond,
		Payload:    map[string]interface{}{"believe": true},
	})

	assert.Equal(t, StatusCompleted, s.Status)
	ended := mb.eventsOfType(EventGameCompleted)
	require.Len(t, ended, 1)
	assert.Equal(t, playerA.ID.String(), ended[0].Payload["loser_id"])
	assert.Equal(t, playerB.ID.String(), ended[0].Payload["winner_id"])
}

func TestEmptyHandAtTurnStartLoses(t *testing.T) {
	s, players, mb := setupTestSession(t, 2, nil)
	playerA, playerB := players[0], players[1]

	// Drain B's hand into the set-aside stack so the deck stays whole.
	s.SetAside = append(s.SetAside, playerB.Hand...)
	playerB.Hand = nil

	card := playerA.Hand[0]
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, otherCreature(card.Creature), playerB.ID),
	})
	// B believes the bluff, takes the penalty, and must start the next
	// round with nothing to serve.
	s.HandlePlayerAction(playerB.ID, models.GameAction{
		ActionType: ActionRespond,
		Payload:    map[string]interface{}{"believe": true},
	})

	assert.Equal(t, StatusCompleted, s.Status)
	ended := mb.eventsOfType(EventGameCompleted)
	require.Len(t, ended, 1)
	assert.Equal(t, playerB.ID.String(), ended[0].Payload["loser_id"])
	assert.Equal(t, models.DeckSize, s.CardCount())
}

func TestForfeitFoldsRoundIntoForfeitedBucket(t *testing.T) {
	s, players, _ := setupTestSession(t, 3, nil)
	playerA, playerB := players[0], players[1]

	card := playerA.Hand[0]
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, card.Creature, playerB.ID),
	})
	require.NotNil(t, s.CurRound)
	handSizeB := len(playerB.Hand)

	s.HandlePlayerAction(playerB.ID, models.GameAction{ActionType: ActionForfeit})

	assert.True(t, playerB.Forfeited)
	assert.Nil(t, s.CurRound, "a forfeiting responder folds the round")
	// B's hand plus the in-flight card, never an opponent's pile.
	assert.Len(t, s.Forfeited, handSizeB+1)
	assert.Empty(t, playerA.Penalty)
	assert.Equal(t, StatusActive, s.Status, "two players remain")
	assert.Equal(t, models.DeckSize, s.CardCount())
}

func TestForfeitDownToOnePlayerEndsGame(t *testing.T) {
	s, players, mb := setupTestSession(t, 2, nil)
	playerA, playerB := players[0], players[1]

	s.HandlePlayerAction(playerA.ID, models.GameAction{ActionType: ActionForfeit})

	assert.Equal(t, StatusCompleted, s.Status)
	ended := mb.eventsOfType(EventGameCompleted)
	require.Len(t, ended, 1)
	assert.Equal(t, playerB.ID.String(), ended[0].Payload["winner_id"])
	assert.Equal(t, models.DeckSize, s.CardCount())
}

func TestTimeoutAutoBelieves(t *testing.T) {
	rules := DefaultRules()
	rules.TurnTimerSec = 0
	rules.TimeoutPolicy = TimeoutAuto
	s, players, mb := setupTestSession(t, 2, &rules)
	playerA, playerB := players[0], players[1]

	s.Mu.Lock()
	s.TurnDuration = 80 * time.Millisecond
	s.Mu.Unlock()

	card := playerA.Hand[0]
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, otherCreature(card.Creature), playerB.ID),
	})

	// B never responds; the deadline resolves the round as believe.
	time.Sleep(250 * time.Millisecond)

	s.Mu.Lock()
	defer s.Mu.Unlock()
	require.Nil(t, s.CurRound, "deadline should have resolved the round")
	require.Len(t, playerB.Penalty, 1, "auto-believe on a bluff penalizes the responder")

	timeouts := mb.eventsOfType(EventTurnTimeout)
	require.NotEmpty(t, timeouts)
	assert.Equal(t, "believe", timeouts[0].Payload["automatic_action"])
	resolved := mb.eventsOfType(EventActionPerformed)
	last := resolved[len(resolved)-1]
	assert.Equal(t, true, last.Payload["automatic"])
}

func TestTimeoutPausePolicyFreezes(t *testing.T) {
	rules := DefaultRules()
	rules.TurnTimerSec = 0
	rules.TimeoutPolicy = TimeoutPause
	s, players, mb := setupTestSession(t, 2, &rules)
	playerA, playerB := players[0], players[1]

	s.Mu.Lock()
	s.TurnDuration = 80 * time.Millisecond
	s.Mu.Unlock()

	card := playerA.Hand[0]
	s.HandlePlayerAction(playerA.ID, models.GameAction{
		ActionType: ActionClaimCard,
		Payload:    claimPayload(card, card.Creature, playerB.ID),
	})

	time.Sleep(250 * time.Millisecond)

	s.Mu.Lock()
	defer s.Mu.Unlock()
	assert.True(t, s.Paused, "pause policy freezes instead of auto-acting")
	require.NotNil(t, s.CurRound, "round stays in flight while paused")
	timeouts := mb.eventsOfType(EventTurnTimeout)
	require.NotEmpty(t, timeouts)
	assert.Equal(t, "pause", timeouts[0].Payload["automatic_action"])
}

func TestDisconnectKeepsSeatAndHand(t *testing.T) {
	s, players, _ := setupTestSession(t, 2, nil)
	playerB := players[1]
	handSize := len(playerB.Hand)

	s.HandleDisconnect(playerB.ID)
	assert.False(t, playerB.Connected)
	assert.False(t, playerB.Forfeited)
	assert.Len(t, playerB.Hand, handSize)

	s.HandleReconnect(playerB.ID)
	assert.True(t, playerB.Connected)
}
