package models

import "time"

// RefreshTokenFamily is the durable revocation unit: one continuous login
// lineage descending from a single sign-in. Invalidating a family revokes
// every refresh token ever issued under it.
type RefreshTokenFamily struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	Invalidated   bool       `db:"invalidated" json:"invalidated"`
	InvalidatedAt *time.Time `db:"invalidated_at" json:"invalidated_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// RefreshToken is the persisted row behind one issued refresh token. The
// wire token carries only identifiers; mutable rotation state lives in the
// session store and here.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	FamilyID  string     `db:"family_id" json:"family_id"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	RotatedAt *time.Time `db:"rotated_at" json:"rotated_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
