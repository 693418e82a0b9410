// internal/game/events.go
package game

import (
	"github.com/google/uuid"
)

// EventType is an enum-like type for broadcasting session events. Names match
// the socket contract the clients speak.
type EventType string

const (
	EventGameStarted        EventType = "game_started"
	EventGameStateUpdated   EventType = "game_state_updated"
	EventActionPerformed    EventType = "action_performed"
	EventTurnTimeoutWarning EventType = "turn_timeout_warning"
	EventTurnTimeout        EventType = "turn_timeout"
	EventGameCompleted      EventType = "game_completed"
	EventActionError        EventType = "game_action_error"
	EventPrivateHand        EventType = "your_hand"
	EventPrivateSyncState   EventType = "private_sync_state"
)

// Action type strings accepted by HandlePlayerAction.
const (
	ActionClaimCard = "claim_card"
	ActionRespond   = "respond_to_claim"
	ActionPassCard  = "pass_card"
	ActionForfeit   = "forfeit"
)

// Rejection codes carried in game_action_error payloads. Authorization and
// validation failures never mutate state.
const (
	ErrCodeGameNotActive  = "GAME_NOT_ACTIVE"
	ErrCodeNotYourTurn    = "NOT_YOUR_TURN"
	ErrCodeNotResponder   = "NOT_RESPONDER"
	ErrCodeCardNotInHand  = "CARD_NOT_IN_HAND"
	ErrCodeInvalidTarget  = "INVALID_TARGET"
	ErrCodeRoundNotFound  = "ROUND_NOT_FOUND"
	ErrCodeRoundInFlight  = "ROUND_IN_FLIGHT"
	ErrCodeStaleVersion   = "STALE_VERSION"
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeUnknownAction  = "UNKNOWN_ACTION"
)

// EventUser identifies a player inside event payloads.
type EventUser struct {
	ID uuid.UUID `json:"id"`
}

// Event is the wire shape for everything the session broadcasts. Version is
// the session version the event reflects; heartbeat and connection events
// never travel through this type and carry no version.
type Event struct {
	Type    EventType              `json:"type"`
	Version int64                  `json:"session_version,omitempty"`
	User    *EventUser             `json:"user,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`

	// State carries a per-viewer snapshot on sync events.
	State *ObfSessionState `json:"state,omitempty"`
}
