package store

import (
	"context"
	"fmt"

	"github.com/tallycrm/tally/internal/model"
)

// CreateUser inserts a new user. The ID, CreatedAt, and UpdatedAt fields are
// populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	t := utcNow()
	u.CreatedAt = t
	u.UpdatedAt = t

	const q = `INSERT INTO users
		(email, name, password_hash, role, is_active, created_at, updated_at)
		VALUES
		(:email, :name, :password_hash, :role, :is_active, :created_at, :updated_at)`

	id, err := s.insert(ctx, s.db, q, u)
	if err != nil {
		return fmt.Errorf("insert user: %w", classify(err))
	}
	u.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.get(ctx, &u, "get user", "SELECT * FROM users WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.get(ctx, &u, "get user by email", "SELECT * FROM users WHERE email = ?", email); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// HasAnyUser reports whether at least one user exists. Used for first-run
// detection.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// SetUserActive enables or disables a user account.
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	return s.exec(ctx, s.db, "set user active",
		"UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?", active, utcNow(), id)
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	t := utcNow()
	return s.exec(ctx, s.db, "update user last login",
		"UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?", t, t, id)
}
