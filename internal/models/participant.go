// internal/models/participant.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole distinguishes seated players from spectators.
type ParticipantRole string

const (
	RolePlayer    ParticipantRole = "player"
	RoleSpectator ParticipantRole = "spectator"
)

// ConnStatus tracks a participant's connection lifecycle inside a room.
type ConnStatus string

const (
	ConnConnected    ConnStatus = "connected"
	ConnDisconnected ConnStatus = "disconnected"
	ConnReconnecting ConnStatus = "reconnecting"
)

// Participant is a user's membership in a room. Seat is nil for spectators
// and stable once assigned; a disconnected participant keeps their seat and
// hand until they leave or the grace period expires.
type Participant struct {
	UserID      uuid.UUID       `json:"user_id"`
	DisplayName string          `json:"display_name"`
	Role        ParticipantRole `json:"role"`
	Seat        *int            `json:"seat,omitempty"`
	Ready       bool            `json:"ready"`
	Status      ConnStatus      `json:"status"`
	JoinedAt    time.Time       `json:"joined_at"`
}

// SeatOrNegative returns the seat position, or -1 for spectators. Handy for
// sorting and tiebreaks.
func (p *Participant) SeatOrNegative() int {
	if p.Seat == nil {
		return -1
	}
	return *p.Seat
}
