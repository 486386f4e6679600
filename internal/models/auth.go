package models

import "time"

// AuthUser is the denormalized identity carried in tokens and sessions so
// auth checks never need a database round-trip.
type AuthUser struct {
	ID   string   `json:"id"`
	Role UserRole `json:"role"`
}

// AccessTokenPayload is the encrypted payload of the short-lived access
// token. Never persisted; reissued on every refresh.
type AccessTokenPayload struct {
	SessionID string   `json:"session_id"`
	User      AuthUser `json:"user"`
}

// RefreshTokenPayload is the encrypted payload of the long-lived refresh
// token. It carries identifiers only; whether the token is still usable is
// decided server-side.
type RefreshTokenPayload struct {
	SessionID string `json:"session_id"`
	FamilyID  string `json:"family_id"`
	TokenID   string `json:"token_id"`
}

// SessionRefreshState is the live rotation state of a session's refresh
// token. Used flips exactly once; a session whose token is used is a dead
// lineage and any later presentation of that token is a replay.
type SessionRefreshState struct {
	FamilyID  string    `json:"family_id"`
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// AuthSession is the fast-path session record. It exists in the store iff
// its refresh token has not expired; the store entry's TTL equals the
// refresh expiry so the record self-evicts.
type AuthSession struct {
	SessionID    string              `json:"session_id"`
	User         AuthUser            `json:"user"`
	RefreshToken SessionRefreshState `json:"refresh_token"`
}

// AuthStateKind enumerates the three derived authentication states.
type AuthStateKind string

const (
	StateUnauthenticated AuthStateKind = "unauthenticated"
	StateAuthenticated   AuthStateKind = "authenticated"
	StateExpired         AuthStateKind = "expired"
)

// AuthState is derived fresh on every request and never persisted.
// SessionID, User and ExpiresAt are only meaningful for Authenticated and
// Expired states.
type AuthState struct {
	Kind      AuthStateKind
	SessionID string
	User      AuthUser
	ExpiresAt time.Time
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the authenticated user; tokens travel only in
// cookies, never in the response body.
type LoginResponse struct {
	User     UserInfo  `json:"user"`
	IssuedAt time.Time `json:"issued_at"`
}
