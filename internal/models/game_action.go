// internal/models/game_action.go
package models

// GameAction captures a player's in-game move. Version is the session
// version the client believed current when it sent the action; the session
// rejects actions carrying a stale version.
type GameAction struct {
	ActionType string                 `json:"action_type"`
	Version    int64                  `json:"session_version"`
	Payload    map[string]interface{} `json:"payload"`
}
