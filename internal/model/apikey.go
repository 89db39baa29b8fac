package model

import "time"

// APIKeyPrefixLen is the number of leading characters of a raw key that are
// stored in clear for indexed lookup and display.
const APIKeyPrefixLen = 12

// APIKey is a bearer credential issued to a user. The raw key is never
// stored; only its prefix and a keyed SHA-256 digest are persisted.
type APIKey struct {
	ID        int64      `json:"id" db:"id"`
	UserID    int64      `json:"user_id" db:"user_id"`
	KeyPrefix string     `json:"key_prefix" db:"key_prefix"`
	KeyHash   string     `json:"-" db:"key_hash"` // never expose
	Label     string     `json:"label" db:"label"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// Expired reports whether the key has an expiry strictly before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
