package auth

import (
	"context"
	"time"
)

// CredentialStore is the user-record collaborator. The account package owns
// the backing table; the session manager only reads identities for
// verification and resolves OAuth identities to users.
type CredentialStore interface {
	// GetByLogin resolves a nickname or an email address. Absent users
	// surface as ErrUserNotFound.
	GetByLogin(ctx context.Context, login string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	// FindOrCreateFromIdentity maps a verified external identity to a user,
	// creating one when neither the provider subject nor the email is known.
	FindOrCreateFromIdentity(ctx context.Context, identity Identity) (User, error)
}

// Ledger is the persistent record of issued refresh tokens.
type Ledger interface {
	CreateRefreshToken(ctx context.Context, userID, rawToken string, expiresAt time.Time) error
	// RefreshTokenOwner resolves the owning user id without consuming the
	// token; absent tokens surface as ErrRefreshTokenNotFound. The caller
	// prepares everything fallible before committing the rotation.
	RefreshTokenOwner(ctx context.Context, rawToken string) (string, error)
	// ConsumeRefreshToken atomically rotates rawOld into rawNew and returns
	// the owning user id. Exactly one concurrent caller succeeds; the others
	// observe ErrRefreshTokenReused. Other failure kinds are
	// ErrRefreshTokenNotFound and ErrRefreshTokenExpired. On Reused and
	// Expired the owning user id is still returned so the caller can apply
	// its reuse policy.
	ConsumeRefreshToken(ctx context.Context, rawOld, rawNew string, newExpiresAt time.Time) (string, error)
	// RevokeRefreshToken is idempotent; it reports whether a live row was
	// revoked and never errors on absent or already-revoked tokens.
	RevokeRefreshToken(ctx context.Context, rawToken string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// LockoutStore tracks consecutive login failures per identifier.
type LockoutStore interface {
	GetLoginAttempt(ctx context.Context, login string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, login string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, login string) error
}

// Revocations is the fast-path revocation horizon: access tokens issued
// before a user's horizon are rejected even though their signature still
// verifies. Optional; a nil implementation disables the check.
type Revocations interface {
	RevokeUser(ctx context.Context, userID string, at time.Time) error
	RevokedSince(ctx context.Context, userID string) (time.Time, bool, error)
}
