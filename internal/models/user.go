package models

import "time"

// Identity is the authenticated caller resolved from the session cookie.
type Identity struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// User is a stored profile, refreshed by the client after sign-in.
type User struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   string    `json:"picture"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserPublic is the profile subset attached to recordings in API responses.
type UserPublic struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
}
