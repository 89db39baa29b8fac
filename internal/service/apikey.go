package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tallycrm/tally/internal/model"
)

// APIKeyPrefix starts every issued key so they are easy to spot in logs
// and secret scanners.
const APIKeyPrefix = "tly_"

// IssuedKey is a freshly created key. Raw is shown to the caller once and
// never stored.
type IssuedKey struct {
	Key model.APIKey `json:"key"`
	Raw string       `json:"api_key"`
}

// GenerateAPIKey returns a new raw key: "tly_" followed by 40 hex chars.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}

// IssueAPIKey creates and stores a key for userID. A nil expiresAt means the
// key never expires.
func (s *AuthService) IssueAPIKey(ctx context.Context, userID int64, label string, expiresAt *time.Time) (*IssuedKey, error) {
	raw, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	key := model.APIKey{
		UserID:    userID,
		KeyPrefix: raw[:model.APIKeyPrefixLen],
		KeyHash:   HashAPIKey(s.pepper, raw),
		Label:     label,
		IsActive:  true,
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateAPIKey(ctx, &key); err != nil {
		return nil, err
	}
	return &IssuedKey{Key: key, Raw: raw}, nil
}
