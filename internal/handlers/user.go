package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/blattodea/roachpoker/internal/auth"
	"github.com/blattodea/roachpoker/internal/database"
	"github.com/blattodea/roachpoker/internal/models"
)

// EnsureEphemeralUser resolves the caller's identity from the auth cookie,
// minting a guest account and token when none is present or the token fails
// verification. Returns the user's ID and display name.
func EnsureEphemeralUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, error) {
	cookieHeader := r.Header.Get("Cookie")
	if strings.Contains(cookieHeader, "auth_token=") {
		token := extractCookieToken(cookieHeader, "auth_token")
		userIDStr, displayName, err := auth.AuthenticateJWT(token)
		if err == nil {
			userID, parseErr := uuid.Parse(userIDStr)
			if parseErr != nil {
				return uuid.Nil, "", fmt.Errorf("invalid user ID in token: %w", parseErr)
			}
			return userID, displayName, nil
		}
		// Fall through to a fresh guest on any verification failure.
	}
	return createGuest(w)
}

// createGuest inserts a guest user, signs a token for them, and sets the
// auth cookie on the response.
func createGuest(w http.ResponseWriter) (uuid.UUID, string, error) {
	guest := models.User{
		Username:    "Guest",
		IsEphemeral: true,
	}
	if database.DB != nil {
		if err := database.CreateUser(context.Background(), &guest); err != nil {
			return uuid.Nil, "", fmt.Errorf("failed to create guest user: %w", err)
		}
	} else {
		// Degraded mode without Postgres: identity lives only in the token.
		guest.ID = uuid.New()
	}
	displayName := fmt.Sprintf("Guest_%s", guest.ID.String()[:4])
	token, err := auth.CreateJWT(guest.ID.String(), displayName)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("failed to create guest JWT: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return guest.ID, displayName, nil
}

// CreateUserHandler registers a permanent account.
func CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		http.Error(w, "email, password, and username are required", http.StatusBadRequest)
		return
	}

	user := models.User{
		Email:       req.Email,
		Password:    req.Password,
		Username:    req.Username,
		IsEphemeral: false,
	}
	if err := database.CreateUser(r.Context(), &user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "email already exists", http.StatusConflict)
			return
		}
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// LoginHandler authenticates email+password and returns a signed token, also
// set as the auth cookie.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	token, err := database.AuthenticateUser(context.Background(), req.Email, req.Password)
	if err != nil {
		log.Printf("failed to authenticate user: %v", err)
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   auth.TOKEN_EXPIRE_TIME_SEC,
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(loginResponse{Token: token}); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

type claimGuestRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// ClaimGuestHandler upgrades a guest account to a permanent one, keeping the
// same user ID so room membership and history carry over.
func ClaimGuestHandler(w http.ResponseWriter, r *http.Request) {
	token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
	userIDStr, _, err := auth.AuthenticateJWT(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		http.Error(w, "invalid user id in token", http.StatusForbidden)
		return
	}

	u, err := database.GetUserByID(r.Context(), userID)
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if !u.IsEphemeral {
		http.Error(w, "user is not a guest", http.StatusBadRequest)
		return
	}

	var req claimGuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid claim payload", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	u.Email = req.Email
	u.Password = req.Password
	if req.Username != "" {
		u.Username = req.Username
	}
	u.IsEphemeral = false

	if err := database.UpdateUserCredentials(r.Context(), u); err != nil {
		http.Error(w, "failed to claim guest account", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "guest account claimed successfully")
}
