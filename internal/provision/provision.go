// Package provision implements the first-login upsert for externally
// authenticated identities. Two concurrent first logins for one unseen
// identity may race; correctness relies on the store's unique constraint plus
// insert-then-reread-on-collision, not on an application level lock.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itemvault/itemvault/pkg/logger"
	"github.com/itemvault/itemvault/pkg/storage"
)

// ErrAccountLinkingDenied is returned when a forwarded identity matches an
// existing password account and automatic linking is not enabled. Matching by
// email alone would allow identity takeover when the upstream provider's
// email claim is unverified, so linking requires explicit opt-in.
var ErrAccountLinkingDenied = errors.New("account exists with password credentials and automatic linking is disabled")

// Claims is the identity information extracted from forwarded headers. Role
// information is deliberately absent: admin elevation must come from an
// explicit administrative action, never from identity claims.
type Claims struct {
	Email    string
	Username string
	FullName string
	Provider string
}

// Service ensures a user row exists for an externally authenticated identity.
type Service struct {
	ds                  storage.UserStore
	logger              logger.Logger
	allowAccountLinking bool
	now                 func() time.Time
}

type Option func(*Service)

// WithAccountLinking permits linking a forwarded identity onto an existing
// password account matched by email. Only enable this when every upstream
// provider verifies email ownership.
func WithAccountLinking() Option {
	return func(s *Service) {
		s.allowAccountLinking = true
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(ds storage.UserStore, logger logger.Logger, opts ...Option) *Service {
	s := &Service{
		ds:     ds,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureUser returns the stored user for the claimed identity, creating it on
// first login. The identity is matched by email first, then by username. At
// most one row is ever created per identity regardless of concurrent first
// logins, and every successful call touches last_login.
func (s *Service) EnsureUser(ctx context.Context, claims Claims) (*storage.User, error) {
	if claims.Email == "" {
		return nil, errors.New("claims missing email")
	}

	user, err := s.lookup(ctx, claims)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if user == nil {
		user, err = s.create(ctx, claims)
		if err != nil {
			return nil, err
		}
		return user, nil
	}

	return s.refresh(ctx, user, claims)
}

func (s *Service) lookup(ctx context.Context, claims Claims) (*storage.User, error) {
	user, err := s.ds.GetUserByEmail(ctx, claims.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) || claims.Username == "" {
		return nil, err
	}
	return s.ds.GetUserByUsername(ctx, claims.Username)
}

func (s *Service) create(ctx context.Context, claims Claims) (*storage.User, error) {
	now := s.now().UTC()
	user := &storage.User{
		ID:            uuid.NewString(),
		Email:         claims.Email,
		Username:      claims.Username,
		FullName:      claims.FullName,
		OAuthProvider: claims.Provider,
		ExternalID:    claims.Username,
		IsActive:      true,
		IsAdmin:       false,
		CreatedAt:     now,
		LastLogin:     now,
	}

	err := s.ds.CreateUser(ctx, user)
	if err == nil {
		s.logger.Info("provisioned user from external identity",
			zap.String("user_id", user.ID),
			zap.String("provider", claims.Provider),
		)
		return user, nil
	}

	if !errors.Is(err, storage.ErrCollision) {
		return nil, fmt.Errorf("create user: %w", err)
	}

	// A concurrent first login won the insert; adopt its row.
	existing, lookupErr := s.lookup(ctx, claims)
	if lookupErr != nil {
		return nil, fmt.Errorf("re-read user after provisioning conflict: %w", lookupErr)
	}
	return s.refresh(ctx, existing, claims)
}

func (s *Service) refresh(ctx context.Context, user *storage.User, claims Claims) (*storage.User, error) {
	if user.HashedPassword != "" && user.OAuthProvider == "" && !s.allowAccountLinking {
		return nil, ErrAccountLinkingDenied
	}

	changed := false
	if user.Email != claims.Email {
		user.Email = claims.Email
		changed = true
	}
	if claims.FullName != "" && user.FullName != claims.FullName {
		user.FullName = claims.FullName
		changed = true
	}
	if user.OAuthProvider == "" && claims.Provider != "" {
		user.OAuthProvider = claims.Provider
		user.ExternalID = claims.Username
		changed = true
		s.logger.Info("linked external identity to existing account",
			zap.String("user_id", user.ID),
			zap.String("provider", claims.Provider),
		)
	}

	user.LastLogin = s.now().UTC()
	if changed {
		if err := s.ds.UpdateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		return user, nil
	}

	if err := s.ds.TouchLastLogin(ctx, user.ID, user.LastLogin); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}
	return user, nil
}
