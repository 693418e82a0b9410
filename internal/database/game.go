// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// SessionResult is the archived record of a completed session: who lost, who
// won, every player's per-creature penalty tally, and how long the game ran.
type SessionResult struct {
	SessionID uuid.UUID                 `json:"session_id"`
	RoomID    uuid.UUID                 `json:"room_id"`
	WinnerID  uuid.UUID                 `json:"winner_id"`
	LoserID   uuid.UUID                 `json:"loser_id"`
	Tallies   map[string]map[string]int `json:"tallies"` // user id -> creature -> count
	Rounds    int                       `json:"rounds"`
	Duration  time.Duration             `json:"duration"`
	EndedAt   time.Time                 `json:"ended_at"`
}

// RecordSessionResult archives a completed session. Called off the room
// actor's critical path; failures are logged, never surfaced to players.
func RecordSessionResult(res SessionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	talliesJSON, err := json.Marshal(res.Tallies)
	if err != nil {
		log.Printf("failed to marshal session tallies for %s: %v", res.SessionID, err)
		return
	}

	q := `
		INSERT INTO game_results (session_id, room_id, winner_id, loser_id, tallies, rounds, duration_seconds, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err = DB.Exec(ctx, q,
		res.SessionID, res.RoomID, res.WinnerID, res.LoserID,
		talliesJSON, res.Rounds, int(res.Duration.Seconds()), res.EndedAt,
	)
	if err != nil {
		log.Printf("failed to record session result for %s: %v", res.SessionID, err)
	}
}

// FetchSessionResult loads an archived result, e.g. for the room detail
// endpoint after completion.
func FetchSessionResult(ctx context.Context, sessionID uuid.UUID) (*SessionResult, error) {
	q := `
		SELECT session_id, room_id, winner_id, loser_id, tallies, rounds, duration_seconds, ended_at
		FROM game_results WHERE session_id = $1
	`
	var res SessionResult
	var talliesJSON []byte
	var durationSec int
	err := DB.QueryRow(ctx, q, sessionID).Scan(
		&res.SessionID, &res.RoomID, &res.WinnerID, &res.LoserID,
		&talliesJSON, &res.Rounds, &durationSec, &res.EndedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("session result %s not found: %w", sessionID, err)
	}
	res.Duration = time.Duration(durationSec) * time.Second
	if err := json.Unmarshal(talliesJSON, &res.Tallies); err != nil {
		return nil, fmt.Errorf("failed to decode tallies: %w", err)
	}
	return &res, nil
}
