// internal/models/user.go
package models

import "github.com/google/uuid"

// User is a registered or guest account. Guests (IsEphemeral) are minted on
// the fly for socket joins without a token and carry no credentials.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`
	IsBanned    bool `json:"is_banned"`
}
