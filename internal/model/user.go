package model

import "time"

// User is a person who signs in to the CRM. Passwords are stored as bcrypt
// hashes.
type User struct {
	ID           int64      `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	PasswordHash string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Role         Role       `json:"role" db:"role"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Authentication methods recorded on a Principal.
const (
	AuthMethodAPIKey  = "api_key"
	AuthMethodSession = "session"
)

// Principal is the authenticated identity behind a request. It is a plain
// value: handlers receive a copy and cannot mutate what later handlers see.
type Principal struct {
	UserID int64
	Email  string
	Role   Role
	Method string
	KeyID  int64 // zero unless Method is AuthMethodAPIKey
}

// Owns reports whether the principal may access a record owned by ownerID.
func (p Principal) Owns(ownerID int64) bool {
	return p.Role.SeesAll() || p.UserID == ownerID
}
