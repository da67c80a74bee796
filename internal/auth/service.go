package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"atlas-auth/internal/observability"
)

const (
	defaultRefreshTTL  = 30 * 24 * time.Hour
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute

	refreshTokenBytes = 48
)

// Service is the session manager. It is the only component that talks to the
// credential store and the ledger together, so every collapsing and
// revocation policy lives here.
type Service struct {
	store        CredentialStore
	ledger       Ledger
	lockouts     LockoutStore
	signer       *Signer
	hasher       PasswordHasher
	revocations  Revocations
	logger       *observability.Logger
	refreshTTL   time.Duration
	maxAttempts  int
	lockDuration time.Duration
}

func NewService(store CredentialStore, ledger Ledger, lockouts LockoutStore, signer *Signer, logger *observability.Logger) *Service {
	return &Service{
		store:        store,
		ledger:       ledger,
		lockouts:     lockouts,
		signer:       signer,
		hasher:       BcryptHasher{},
		logger:       logger,
		refreshTTL:   defaultRefreshTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
	}
}

// WithSecurityConfig overrides lockout and TTL defaults. Zero values keep
// the current setting.
func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration, refreshTTL time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
}

// WithRevocations attaches the revocation-horizon store.
func (s *Service) WithRevocations(revocations Revocations) {
	s.revocations = revocations
}

// WithHasher swaps the password hash capability.
func (s *Service) WithHasher(hasher PasswordHasher) {
	if hasher != nil {
		s.hasher = hasher
	}
}

// Login verifies a nickname-or-email plus password pair and issues a token
// pair. User-not-found, wrong password and inactive account all collapse to
// ErrInvalidCredentials so the caller cannot enumerate accounts.
func (s *Service) Login(ctx context.Context, login, password string) (Tokens, error) {
	login = strings.TrimSpace(strings.ToLower(login))
	password = strings.TrimSpace(password)

	if login == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	attempt, err := s.lockouts.GetLoginAttempt(ctx, login)
	if err != nil {
		return Tokens{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return Tokens{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	user, err := s.store.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, s.failLogin(ctx, login, now)
		}
		return Tokens{}, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return Tokens{}, s.failLogin(ctx, login, now)
	}

	if !user.IsActive {
		s.logger.Info("login_rejected_inactive", map[string]any{"user_id": user.ID})
		return Tokens{}, s.failLogin(ctx, login, now)
	}

	if err := s.lockouts.ResetLoginAttempt(ctx, login); err != nil {
		return Tokens{}, err
	}

	return s.issueTokens(ctx, user)
}

func (s *Service) failLogin(ctx context.Context, login string, now time.Time) error {
	lockedUntil, err := s.lockouts.RegisterFailedAttempt(ctx, login, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

// Refresh rotates a refresh token and issues a fresh access token. Every
// ledger failure kind collapses to ErrInvalidRefreshToken externally;
// detected reuse additionally revokes the user's whole session set, since a
// legitimate client never presents a token twice.
//
// Everything fallible — user load, access-token signing, token generation —
// happens before ConsumeRefreshToken, so a failure leaves the presented
// token unconsumed instead of orphaning the chain.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrInvalidRefreshToken
	}

	ownerID, err := s.ledger.RefreshTokenOwner(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			s.logger.Info("refresh_rejected", map[string]any{"reason": err.Error()})
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}

	user, err := s.store.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}
	if !user.IsActive {
		return Tokens{}, ErrInvalidRefreshToken
	}

	access, expiresIn, err := s.signer.Issue(user)
	if err != nil {
		return Tokens{}, err
	}

	newRefresh, err := randomToken(refreshTokenBytes)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate rotated refresh token: %w", err)
	}

	newExp := time.Now().UTC().Add(s.refreshTTL)
	userID, err := s.ledger.ConsumeRefreshToken(ctx, refreshToken, newRefresh, newExp)
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshTokenReused):
			s.handleReuse(ctx, userID)
			return Tokens{}, ErrInvalidRefreshToken
		case errors.Is(err, ErrRefreshTokenNotFound), errors.Is(err, ErrRefreshTokenExpired):
			s.logger.Info("refresh_rejected", map[string]any{"reason": err.Error()})
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: newRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

// handleReuse is the replay policy: log a distinct security event, revoke
// every outstanding refresh token for the user and move the revocation
// horizon so already-minted access tokens die with the chain.
func (s *Service) handleReuse(ctx context.Context, userID string) {
	s.logger.Warn("refresh_token_reuse_detected", map[string]any{
		"user_id": userID,
	})

	if userID == "" {
		return
	}
	if _, err := s.ledger.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.Error("revoke_all_after_reuse_failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
	s.bumpRevocationHorizon(ctx, userID)
}

// Logout revokes the presented refresh token. Idempotent: unknown or
// already-revoked tokens ack the same way.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	revoked, err := s.ledger.RevokeRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}
	if !revoked {
		s.logger.Info("logout_noop", nil)
	}

	return nil
}

// Authenticate verifies a bearer access token. It does not re-read the user
// row; freshness is bounded by the access TTL, shortened by the revocation
// horizon when one is set for the user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Claims, error) {
	claims, err := s.signer.Verify(accessToken)
	if err != nil {
		return Claims{}, ErrInvalidAccessToken
	}

	if s.revocations != nil {
		horizon, found, err := s.revocations.RevokedSince(ctx, claims.UserID)
		if err != nil {
			return Claims{}, err
		}
		// Strict comparison: claims carry second precision, and a token
		// minted in the same second as the horizon belongs to the session
		// created after the revocation.
		if found && claims.IssuedAt.Before(horizon) {
			return Claims{}, ErrInvalidAccessToken
		}
	}

	return claims, nil
}

// LoginWithIdentity folds a verified external identity into the same
// issuance path as a password login, creating the user when absent.
func (s *Service) LoginWithIdentity(ctx context.Context, identity Identity) (Tokens, error) {
	user, err := s.store.FindOrCreateFromIdentity(ctx, identity)
	if err != nil {
		return Tokens{}, err
	}
	if !user.IsActive {
		return Tokens{}, ErrInvalidCredentials
	}

	return s.issueTokens(ctx, user)
}

// RevokeAllSessions invalidates every outstanding refresh token for the user
// and moves the revocation horizon. Password change and account deletion
// flows call this.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) error {
	if _, err := s.ledger.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	s.bumpRevocationHorizon(ctx, userID)
	return nil
}

func (s *Service) bumpRevocationHorizon(ctx context.Context, userID string) {
	if s.revocations == nil {
		return
	}
	if err := s.revocations.RevokeUser(ctx, userID, time.Now().UTC()); err != nil {
		s.logger.Error("revocation_horizon_update_failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
}

func (s *Service) issueTokens(ctx context.Context, user User) (Tokens, error) {
	access, expiresIn, err := s.signer.Issue(user)
	if err != nil {
		return Tokens{}, err
	}

	refreshToken, err := randomToken(refreshTokenBytes)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.ledger.CreateRefreshToken(ctx, user.ID, refreshToken, time.Now().UTC().Add(s.refreshTTL)); err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
