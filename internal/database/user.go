// internal/database/user.go
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/blattodea/roachpoker/internal/auth"
	"github.com/blattodea/roachpoker/internal/models"
)

// CreateUser inserts a new user. Non-ephemeral users get their password
// hashed with Argon2id before storage; the plaintext never reaches the DB.
func CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	hashed := ""
	if !user.IsEphemeral && user.Password != "" {
		var err error
		hashed, err = auth.CreateHash(user.Password, auth.Params)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
	}
	user.Password = ""

	q := `
		INSERT INTO users (id, email, password, username, is_ephemeral, is_banned)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := DB.Exec(ctx, q, user.ID, user.Email, hashed, user.Username, user.IsEphemeral, user.IsBanned)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByID fetches a user row by primary key.
func GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	q := `
		SELECT id, email, username, is_ephemeral, is_banned
		FROM users WHERE id = $1
	`
	u := &models.User{}
	err := DB.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Username, &u.IsEphemeral, &u.IsBanned)
	if err != nil {
		return nil, fmt.Errorf("user %s not found: %w", id, err)
	}
	return u, nil
}

// UpdateUserCredentials rewrites a user's email, password hash, username,
// and ephemeral flag. Used when a guest claims a permanent account.
func UpdateUserCredentials(ctx context.Context, user *models.User) error {
	hashed := ""
	if user.Password != "" {
		var err error
		hashed, err = auth.CreateHash(user.Password, auth.Params)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
	}
	user.Password = ""

	q := `
		UPDATE users
		SET email = $2, password = $3, username = $4, is_ephemeral = $5
		WHERE id = $1
	`
	_, err := DB.Exec(ctx, q, user.ID, user.Email, hashed, user.Username, user.IsEphemeral)
	if err != nil {
		return fmt.Errorf("failed to update user credentials: %w", err)
	}
	return nil
}

// AuthenticateUser checks email+password and returns a signed JWT on success.
// Banned users are rejected even with valid credentials.
func AuthenticateUser(ctx context.Context, email, password string) (string, error) {
	q := `
		SELECT id, password, username, is_banned
		FROM users WHERE email = $1
	`
	var id uuid.UUID
	var hashed, username string
	var banned bool
	if err := DB.QueryRow(ctx, q, email).Scan(&id, &hashed, &username, &banned); err != nil {
		return "", fmt.Errorf("no user for email: %w", err)
	}
	if banned {
		return "", fmt.Errorf("user is banned")
	}

	ok, err := auth.ComparePasswordAndHash(password, hashed)
	if err != nil {
		return "", fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("invalid credentials")
	}

	return auth.CreateJWT(id.String(), username)
}
