// internal/game/rules.go
package game

import "fmt"

// Timeout policies for a player who owes an action and runs out the clock.
const (
	// TimeoutAuto performs the deterministic automatic action: an obligated
	// responder believes, an obligated claimant plays a random legal claim.
	TimeoutAuto = "auto"
	// TimeoutPause freezes the session until a human acts; no automatic move.
	TimeoutPause = "pause"
)

// RoomRules defines the configurable knobs of a room and its sessions.
type RoomRules struct {
	MaxPlayers       int    `json:"maxPlayers"`       // player seats (spectators are not counted)
	TurnTimerSec     int    `json:"turnTimerSec"`     // seconds a player has to act; 0 disables the timer
	PenaltyThreshold int    `json:"penaltyThreshold"` // N of one creature in a pile loses the game
	GracePeriodSec   int    `json:"gracePeriodSec"`   // seconds a disconnected participant keeps their seat
	TimeoutPolicy    string `json:"timeoutPolicy"`    // TimeoutAuto or TimeoutPause
	AllowSpectators  bool   `json:"allowSpectators"`
}

// DefaultRules returns the standard two-to-six player configuration.
func DefaultRules() RoomRules {
	return RoomRules{
		MaxPlayers:       6,
		TurnTimerSec:     30,
		PenaltyThreshold: 4,
		GracePeriodSec:   60,
		TimeoutPolicy:    TimeoutAuto,
		AllowSpectators:  true,
	}
}

// Update applies a partial rules map onto the receiver. Unknown keys are
// ignored; a present key with the wrong type or an out-of-range value fails
// without applying anything else.
func (rules *RoomRules) Update(newRules map[string]interface{}) error {
	assignInt := func(field *int, key string, minVal int) error {
		if val, exists := newRules[key]; exists && val != nil {
			floatVal, ok := val.(float64)
			if !ok {
				intVal, ok := val.(int)
				if !ok {
					return fmt.Errorf("invalid type for %s", key)
				}
				*field = intVal
			} else {
				*field = int(floatVal)
			}
			if *field < minVal {
				return fmt.Errorf("%s must be >= %d", key, minVal)
			}
		}
		return nil
	}

	if err := assignInt(&rules.MaxPlayers, "maxPlayers", 2); err != nil {
		return err
	}
	if err := assignInt(&rules.TurnTimerSec, "turnTimerSec", 0); err != nil {
		return err
	}
	if err := assignInt(&rules.PenaltyThreshold, "penaltyThreshold", 2); err != nil {
		return err
	}
	if err := assignInt(&rules.GracePeriodSec, "gracePeriodSec", 0); err != nil {
		return err
	}

	if val, exists := newRules["timeoutPolicy"]; exists && val != nil {
		s, ok := val.(string)
		if !ok || (s != TimeoutAuto && s != TimeoutPause) {
			return fmt.Errorf("invalid timeoutPolicy")
		}
		rules.TimeoutPolicy = s
	}
	if val, exists := newRules["allowSpectators"]; exists && val != nil {
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("invalid type for allowSpectators")
		}
		rules.AllowSpectators = b
	}
	return nil
}
