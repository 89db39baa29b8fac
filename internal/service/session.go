package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/store"
)

const jwtIssuer = "tally"

type jwtClaims struct {
	UserID int64      `json:"user_id"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Session is the result of a successful Login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// HashPassword returns the bcrypt hash stored for a user password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Login verifies an email and password and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown email", ErrInvalidCredential)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user %d is disabled", ErrInvalidCredential, user.ID)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: password mismatch", ErrInvalidCredential)
	}

	token, exp, err := s.IssueJWT(user, s.sessionTTL)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateUserLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to update last login", "user_id", user.ID, "error", err)
	}
	return &Session{Token: token, ExpiresAt: exp, User: user}, nil
}

// IssueJWT creates a signed session token for user.
func (s *AuthService) IssueJWT(user *model.User, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(ttl)
	claims := jwtClaims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    jwtIssuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, exp, nil
}

// AuthenticateSession verifies a session token and resolves its user. The
// role comes from the current user record, not the token, so demotions
// apply immediately.
func (s *AuthService) AuthenticateSession(ctx context.Context, tokenStr string) (model.Principal, error) {
	if tokenStr == "" {
		return model.Principal{}, ErrMissingCredential
	}

	claims := &jwtClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(jwtIssuer), jwt.WithTimeFunc(s.now))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return model.Principal{}, fmt.Errorf("%w: session token expired", ErrExpiredCredential)
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user, err := s.activeUser(ctx, claims.UserID)
	if err != nil {
		return model.Principal{}, err
	}
	return model.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Method: model.AuthMethodSession,
	}, nil
}
