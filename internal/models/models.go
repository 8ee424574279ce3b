package models

import "time"

// User is an identity record. ID is an opaque string (UUID) on every backend.
type User struct {
	ID         string
	Email      string
	Password   string
	FirstName  string
	SecondName string
	CreatedAt  time.Time
}

// Token is a persisted access credential. Refresh credentials are never stored.
type Token struct {
	ID        string
	Value     string
	Revoked   bool
	UserID    string
	CreatedAt time.Time
}

// TokenPair is what the session flows hand back to clients.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
