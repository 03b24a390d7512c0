package entity

import "time"

// RefreshSession represents a persisted refresh session. The token itself is never
// stored, only its hash.
type RefreshSession struct {
	ID        int64     `db:"id"`
	TokenHash string    `db:"token_hash"`
	UserID    int64     `db:"user_id"`
	ClientID  string    `db:"client_id"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Pair is returned to clients after login or refresh.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}
