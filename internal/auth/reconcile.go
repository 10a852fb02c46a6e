package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/cipherloop/tasksync/internal/cryptoutil"
	"github.com/cipherloop/tasksync/internal/store"
)

// ErrAccountInactive is returned when a matched account is suspended or
// deleted.
var ErrAccountInactive = errors.New("account suspended or deleted")

// ErrEmailTakenByOtherProvider is returned when the email is already bound
// to a different provider.
type ErrEmailTakenByOtherProvider struct {
	ExistingProvider store.AuthProvider
}

func (e *ErrEmailTakenByOtherProvider) Error() string {
	return fmt.Sprintf("this email is already registered with %s", e.ExistingProvider)
}

// ReconcileIdentity resolves (provider, providerUserID, email) to a user
// row, creating one if none exists. If the insert loses a unique
// constraint race, the email-conflict check is re-run once to name the
// winner's provider; the insert itself is not retried.
func ReconcileIdentity(ctx context.Context, s *store.Store, provider store.AuthProvider, providerUserID, email string) (user *store.User, isNew bool, err error) {
	existing, err := s.GetUserByProvider(ctx, provider, providerUserID)
	if err == nil {
		if existing.AccountStatus != store.AccountActive {
			return nil, false, ErrAccountInactive
		}
		if touchErr := s.TouchLastLogin(ctx, existing.ID); touchErr != nil {
			return nil, false, fmt.Errorf("touching last login: %w", touchErr)
		}
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up user by provider: %w", err)
	}

	if conflictErr := checkEmailConflict(ctx, s, email); conflictErr != nil {
		return nil, false, conflictErr
	}

	id, err := cryptoutil.NewID()
	if err != nil {
		return nil, false, fmt.Errorf("generating user id: %w", err)
	}
	created, err := s.CreateUser(ctx, id, email, provider, providerUserID)
	if errors.Is(err, store.ErrEmailTaken) {
		// Lost the race: another request just created this email under a
		// different provider. Re-run the conflict check to surface the
		// winner's provider in the error message.
		if conflictErr := checkEmailConflict(ctx, s, email); conflictErr != nil {
			return nil, false, conflictErr
		}
		return nil, false, fmt.Errorf("creating user: %w", err)
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating user: %w", err)
	}
	return created, true, nil
}

func checkEmailConflict(ctx context.Context, s *store.Store, email string) error {
	byEmail, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up user by email: %w", err)
	}
	return &ErrEmailTakenByOtherProvider{ExistingProvider: byEmail.AuthProvider}
}
