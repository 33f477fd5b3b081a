// Package claims keeps a user's custom auth claims in sync with the email
// verification state of their auth record.
package claims

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"medremind/pkg/identity"
)

var (
	// ErrUnauthenticated is returned by the callable check when there's no caller.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInternal wraps every backend failure of the callable check.
	ErrInternal = errors.New("internal")
)

// Claim keys.
const (
	ClaimEmailVerified = "emailVerified"
	ClaimCreatedAt     = "createdAt"
	ClaimUpdatedAt     = "updatedAt"
	ClaimCheckedAt     = "checkedAt"
)

// Directory is the source of truth for auth records.
type Directory interface {
	GetUser(ctx context.Context, uid string) (*identity.User, error)
	SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error
}

// DocumentUpdate lists the user document fields to change; nil fields are left as they are.
type DocumentUpdate struct {
	EmailVerified         *bool
	TokenRefreshedAt      *time.Time
	LastVerificationCheck *time.Time
}

// Documents stores per-user documents.
type Documents interface {
	Update(ctx context.Context, uid string, u DocumentUpdate) error
}

// Caller is the authenticated user invoking the callable check.
type Caller struct {
	UID string
}

// CheckResult is returned by the callable check.
type CheckResult struct {
	Success       bool   `json:"success"`
	EmailVerified bool   `json:"emailVerified"`
	Message       string `json:"message"`
}

type Service struct {
	directory Directory
	documents Documents
	clock     clock.Clock
	log       zerolog.Logger
}

func NewService(directory Directory, documents Documents, clk clock.Clock, log zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		directory: directory,
		documents: documents,
		clock:     clk,
		log:       log.With().Str("component", "claims").Logger(),
	}
}

// OnUserCreated sets the initial, unverified claims for a new user.
func (s *Service) OnUserCreated(ctx context.Context, uid, email string) error {
	s.log.Info().Str("uid", uid).Str("email", email).Msg("New user created")

	err := s.directory.SetCustomClaims(ctx, uid, map[string]any{
		ClaimEmailVerified: false,
		ClaimCreatedAt:     s.clock.Now().UnixMilli(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("uid", uid).Msg("Error setting initial claims")
		return errors.Wrapf(err, "failed to set initial claims for %s", uid)
	}
	s.log.Info().Str("uid", uid).Msg("Initial claims set")
	return nil
}

// OnUserUpdated re-derives the claims from the auth record after the user document changed,
// and stamps the document so clients know to refresh their token.
func (s *Service) OnUserUpdated(ctx context.Context, uid string) error {
	user, err := s.directory.GetUser(ctx, uid)
	if err != nil {
		s.log.Error().Err(err).Str("uid", uid).Msg("Error loading auth record")
		return errors.Wrapf(err, "failed to load user %s", uid)
	}

	now := s.clock.Now()
	err = s.directory.SetCustomClaims(ctx, uid, map[string]any{
		ClaimEmailVerified: user.EmailVerified,
		ClaimUpdatedAt:     now.UnixMilli(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("uid", uid).Msg("Error updating token claims")
		return errors.Wrapf(err, "failed to update claims for %s", uid)
	}
	s.log.Info().Str("uid", uid).Bool("emailVerified", user.EmailVerified).Msg("Token claims updated")

	err = s.documents.Update(ctx, uid, DocumentUpdate{TokenRefreshedAt: &now})
	if err != nil {
		s.log.Error().Err(err).Str("uid", uid).Msg("Error stamping user document")
		return errors.Wrapf(err, "failed to update document for %s", uid)
	}
	return nil
}

// CheckEmailVerification re-checks the caller's verification state, updating claims and the user document.
func (s *Service) CheckEmailVerification(ctx context.Context, caller *Caller) (*CheckResult, error) {
	if caller == nil || caller.UID == "" {
		return nil, errors.Wrap(ErrUnauthenticated, "user must be logged in")
	}
	uid := caller.UID

	user, err := s.directory.GetUser(ctx, uid)
	if err != nil {
		return nil, s.internal(err, uid)
	}
	s.log.Info().Str("uid", uid).Bool("emailVerified", user.EmailVerified).Msg("Checking verification")

	now := s.clock.Now()
	err = s.directory.SetCustomClaims(ctx, uid, map[string]any{
		ClaimEmailVerified: user.EmailVerified,
		ClaimCheckedAt:     now.UnixMilli(),
	})
	if err != nil {
		return nil, s.internal(err, uid)
	}

	verified := user.EmailVerified
	err = s.documents.Update(ctx, uid, DocumentUpdate{
		EmailVerified:         &verified,
		LastVerificationCheck: &now,
	})
	if err != nil {
		return nil, s.internal(err, uid)
	}

	res := &CheckResult{
		Success:       true,
		EmailVerified: verified,
		Message:       "Email not verified yet",
	}
	if verified {
		res.Message = "Email is verified!"
	}
	return res, nil
}

func (s *Service) internal(err error, uid string) error {
	s.log.Error().Err(err).Str("uid", uid).Msg("Error checking verification")
	return errors.Mark(err, ErrInternal)
}
