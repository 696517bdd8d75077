package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/vaultline/ledger/internal/app/domain/account"
	"github.com/vaultline/ledger/internal/app/storage"
	svcerrors "github.com/vaultline/ledger/internal/errors"
	"github.com/vaultline/ledger/internal/identity"
	"github.com/vaultline/ledger/pkg/logger"
)

// Service manages user profiles.
type Service struct {
	store storage.AccountStore
	log   *logger.Logger
}

// New constructs an accounts service.
func New(store storage.AccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, log: log}
}

// EnsureProfile returns the caller's profile, creating a zero-balance one on
// first contact.
func (s *Service) EnsureProfile(ctx context.Context, id identity.Identity) (account.Profile, error) {
	userID := strings.TrimSpace(id.UserID)
	if userID == "" {
		return account.Profile{}, svcerrors.NotAuthenticated("")
	}

	profile, err := s.store.GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return account.Profile{}, svcerrors.Unexpected("Failed to load profile", err)
	}

	profile, err = s.store.CreateProfile(ctx, account.Profile{ID: userID, Email: id.Email, FullName: id.FullName})
	if errors.Is(err, storage.ErrConflict) {
		// created concurrently by another request
		profile, err = s.store.GetProfile(ctx, userID)
	}
	if err != nil {
		return account.Profile{}, svcerrors.Unexpected("Failed to create profile", err)
	}
	s.log.FromContext(ctx).WithField("user_id", userID).Info("profile created")
	return profile, nil
}

// GetProfile returns a profile by user id.
func (s *Service) GetProfile(ctx context.Context, userID string) (account.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return account.Profile{}, svcerrors.NotAuthenticated("")
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return account.Profile{}, svcerrors.NotFound("profile", userID)
	}
	if err != nil {
		return account.Profile{}, svcerrors.Unexpected("Failed to load profile", err)
	}
	return profile, nil
}
