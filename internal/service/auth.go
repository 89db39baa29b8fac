// Package service resolves credentials presented on a request into an
// authenticated model.Principal. API keys are looked up by prefix and
// digest; browser sessions use short-lived HS256 JWTs.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("expired credential")
	ErrAuthUnavailable   = errors.New("authentication unavailable")
)

// IsUnauthorized reports whether err is a credential failure that should be
// answered with 401 rather than a server error.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrExpiredCredential)
}

// Store is the persistence the auth service needs. *store.Store satisfies it.
type Store interface {
	FindActiveAPIKey(ctx context.Context, prefix, hash string) (*model.APIKey, error)
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	TouchAPIKey(ctx context.Context, id int64, at time.Time) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUserLastLogin(ctx context.Context, id int64) error
}

// Options configures an AuthService.
type Options struct {
	JWTSecret  string
	KeyPepper  string        // HMAC key for API key digests; empty means plain SHA-256
	SessionTTL time.Duration // default 24h
	Logger     *slog.Logger
}

// AuthService authenticates API keys and user sessions.
type AuthService struct {
	store      Store
	jwtSecret  []byte
	pepper     []byte
	sessionTTL time.Duration
	recorder   *LastUsedRecorder
	logger     *slog.Logger
	now        func() time.Time
}

func NewAuthService(s Store, opts Options) *AuthService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		store:      s,
		jwtSecret:  []byte(opts.JWTSecret),
		pepper:     []byte(opts.KeyPepper),
		sessionTTL: ttl,
		recorder:   NewLastUsedRecorder(s, logger),
		logger:     logger,
		now:        time.Now,
	}
}

// Recorder returns the background last-used recorder so the server can
// drain it on shutdown.
func (s *AuthService) Recorder() *LastUsedRecorder {
	return s.recorder
}

// SessionTTL is the lifetime of tokens issued by Login.
func (s *AuthService) SessionTTL() time.Duration {
	return s.sessionTTL
}

// AuthenticateKey resolves a raw API key to the principal of its owner.
//
// The key is found by its 12-character prefix and full digest; the raw key
// is never compared or stored. On success the key's last-used time is
// recorded in the background. Storage failures are reported as
// ErrAuthUnavailable; every other failure wraps one of the unauthorized
// sentinels with a reason meant for logs only.
func (s *AuthService) AuthenticateKey(ctx context.Context, rawKey string) (model.Principal, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return model.Principal{}, ErrMissingCredential
	}
	if len(rawKey) < model.APIKeyPrefixLen {
		return model.Principal{}, fmt.Errorf("%w: key shorter than prefix", ErrInvalidCredential)
	}
	prefix := rawKey[:model.APIKeyPrefixLen]

	key, err := s.store.FindActiveAPIKey(ctx, prefix, HashAPIKey(s.pepper, rawKey))
	if errors.Is(err, store.ErrNotFound) {
		return model.Principal{}, fmt.Errorf("%w: no active key for prefix %s", ErrInvalidCredential, prefix)
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}

	now := s.now()
	if key.Expired(now) {
		return model.Principal{}, fmt.Errorf("%w: key %s expired at %s", ErrExpiredCredential, prefix, key.ExpiresAt.Format(time.RFC3339))
	}

	user, err := s.activeUser(ctx, key.UserID)
	if err != nil {
		return model.Principal{}, err
	}

	s.recorder.Record(key.ID, now)

	return model.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Method: model.AuthMethodAPIKey,
		KeyID:  key.ID,
	}, nil
}

// activeUser loads the owner of a credential. A missing or disabled user
// invalidates the credential.
func (s *AuthService) activeUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d not found", ErrInvalidCredential, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user %d is disabled", ErrInvalidCredential, id)
	}
	return user, nil
}

// HashAPIKey returns the hex digest stored for a raw API key: HMAC-SHA256
// keyed by pepper, or plain SHA-256 when pepper is empty.
func HashAPIKey(pepper []byte, rawKey string) string {
	if len(pepper) == 0 {
		h := sha256.Sum256([]byte(rawKey))
		return hex.EncodeToString(h[:])
	}
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}
