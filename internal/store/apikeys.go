package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tallycrm/tally/internal/model"
)

// CreateAPIKey inserts a new API key record. KeyPrefix and KeyHash must
// already be set. The ID and CreatedAt fields are populated after insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = utcNow()
	key.ExpiresAt = utcPtr(key.ExpiresAt)

	const q = `INSERT INTO api_keys
		(user_id, key_prefix, key_hash, label, is_active, expires_at, created_at)
		VALUES
		(:user_id, :key_prefix, :key_hash, :label, :is_active, :expires_at, :created_at)`

	id, err := s.insert(ctx, s.db, q, key)
	if err != nil {
		return fmt.Errorf("insert api key: %w", classify(err))
	}
	key.ID = id
	return nil
}

// FindActiveAPIKey returns the active key whose prefix and digest both
// match. The prefix narrows the lookup through its index; the digest makes
// the match exact.
func (s *Store) FindActiveAPIKey(ctx context.Context, prefix, hash string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.get(ctx, &key, "find api key",
		"SELECT * FROM api_keys WHERE key_prefix = ? AND key_hash = ? AND is_active = ?",
		prefix, hash, true)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.get(ctx, &key, "get api key", "SELECT * FROM api_keys WHERE id = ?", id); err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns API keys, newest first. A non-zero userID restricts
// the listing to that user's keys.
func (s *Store) ListAPIKeys(ctx context.Context, userID int64) ([]model.APIKey, error) {
	var w where
	if userID != 0 {
		w.add("user_id = ?", userID)
	}
	keys := []model.APIKey{}
	q := s.db.Rebind("SELECT * FROM api_keys" + w.String() + " ORDER BY created_at DESC, id DESC")
	if err := s.db.SelectContext(ctx, &keys, q, w.args...); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks an API key as inactive by ID.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	return s.exec(ctx, s.db, "revoke api key",
		"UPDATE api_keys SET is_active = ? WHERE id = ?", false, id)
}

// RevokeAPIKeyByPrefix marks the active key with the given prefix inactive.
func (s *Store) RevokeAPIKeyByPrefix(ctx context.Context, prefix string) error {
	return s.exec(ctx, s.db, "revoke api key by prefix",
		"UPDATE api_keys SET is_active = ? WHERE key_prefix = ? AND is_active = ?", false, prefix, true)
}

// TouchAPIKey sets the last_used timestamp for an API key. Concurrent calls
// for the same key are harmless; the last write wins.
func (s *Store) TouchAPIKey(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, s.db, "update api key last used",
		"UPDATE api_keys SET last_used = ? WHERE id = ?", at.UTC(), id)
}
