// internal/game/sync_state.go
package game

import (
	"github.com/google/uuid"

	"github.com/blattodea/roachpoker/internal/models"
)

// ObfCard is a fully revealed card. Only cards the viewer is entitled to see
// (their own hand, everyone's penalty piles) appear in this form.
type ObfCard struct {
	ID       uuid.UUID           `json:"id"`
	Creature models.CreatureType `json:"creature"`
}

// ObfPlayerState is one player's state as a given viewer may see it. Hand is
// populated only for the viewer themselves; everyone else gets HandSize.
type ObfPlayerState struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Seat        int       `json:"seat"`
	HandSize    int       `json:"hand_size"`
	Hand        []ObfCard `json:"hand,omitempty"`
	Penalty     []ObfCard `json:"penalty"`
	Connected   bool      `json:"connected"`
	Forfeited   bool      `json:"forfeited"`
}

// ObfRoundState is the public view of the in-flight round: the claim chain's
// public facts, never the card's identity. ActualCreature is filled only when
// the viewer has inspected the card this round (claimant or passer).
type ObfRoundState struct {
	ID              uuid.UUID           `json:"id"`
	ClaimantID      uuid.UUID           `json:"claimant_id"`
	TargetID        uuid.UUID           `json:"target_id"`
	ClaimedCreature models.CreatureType `json:"claimed_creature"`
	PassCount       int                 `json:"pass_count"`
	ActualCreature  models.CreatureType `json:"actual_creature,omitempty"`
}

// ObfSessionState is a per-viewer snapshot of the session: the authoritative
// baseline a client rebuilds from after reconnect or version conflict.
type ObfSessionState struct {
	SessionID       uuid.UUID        `json:"session_id"`
	RoomID          uuid.UUID        `json:"room_id"`
	Status          SessionStatus    `json:"status"`
	Version         int64            `json:"session_version"`
	RoundNumber     int              `json:"round_number"`
	CurrentPlayerID uuid.UUID        `json:"current_player_id"`
	Players         []ObfPlayerState `json:"players"`
	Round           *ObfRoundState   `json:"round,omitempty"`
	SetAsideCount   int              `json:"set_aside_count"`
	ForfeitedCount  int              `json:"forfeited_count"`
	TurnDeadline    int64            `json:"turn_deadline_unix,omitempty"`
	Paused          bool             `json:"paused"`
}

func obfCards(cards []*models.Card) []ObfCard {
	out := make([]ObfCard, 0, len(cards))
	for _, c := range cards {
		out = append(out, ObfCard{ID: c.ID, Creature: c.Creature})
	}
	return out
}

// GetStateForViewer builds the snapshot visible to viewerID. A spectator (or
// any non-player id) sees the public view: hand sizes, penalty piles, and the
// round's claim chain with the card hidden. Assumes lock held.
func (s *Session) GetStateForViewer(viewerID uuid.UUID) *ObfSessionState {
	state := &ObfSessionState{
		SessionID:      s.ID,
		RoomID:         s.RoomID,
		Status:         s.Status,
		Version:        s.Version,
		RoundNumber:    s.RoundNum,
		SetAsideCount:  len(s.SetAside),
		ForfeitedCount: len(s.Forfeited),
		Paused:         s.Paused,
	}
	if s.Status == StatusActive {
		state.CurrentPlayerID = s.Players[s.CurrentPlayerIndex].ID
		if !s.TurnDeadline.IsZero() {
			state.TurnDeadline = s.TurnDeadline.Unix()
		}
	}

	for _, p := range s.Players {
		ps := ObfPlayerState{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Seat:        p.Seat,
			HandSize:    len(p.Hand),
			Penalty:     obfCards(p.Penalty),
			Connected:   p.Connected,
			Forfeited:   p.Forfeited,
		}
		if p.ID == viewerID {
			ps.Hand = obfCards(p.Hand)
		}
		state.Players = append(state.Players, ps)
	}

	if r := s.CurRound; r != nil && r.Status == RoundAwaitingResponse {
		rs := &ObfRoundState{
			ID:              r.ID,
			ClaimantID:      r.ClaimantID,
			TargetID:        r.TargetID,
			ClaimedCreature: r.ClaimedCreature,
			PassCount:       r.PassCount,
		}
		if r.seenBy[viewerID] {
			rs.ActualCreature = r.card.Creature
		}
		state.Round = rs
	}
	return state
}

// sendSyncState privately sends a viewer their authoritative snapshot.
// Assumes lock held.
func (s *Session) sendSyncState(viewerID uuid.UUID) {
	s.fireEventToPlayer(viewerID, Event{
		Type:    EventPrivateSyncState,
		Version: s.Version,
		State:   s.GetStateForViewer(viewerID),
	})
}

// SendSyncState locks and sends the snapshot. For use outside the action path.
func (s *Session) SendSyncState(viewerID uuid.UUID) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.sendSyncState(viewerID)
}
