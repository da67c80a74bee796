package auth

import (
	"errors"
	"time"
)

// External outcomes. The service layer collapses every security-sensitive
// distinction into one of these before it crosses the HTTP boundary.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")   // 401
	ErrInvalidRefreshToken = errors.New("invalid refresh token") // 401
	ErrInvalidAccessToken  = errors.New("invalid access token")  // 401
)

// Ledger outcomes. Precise kinds stay internal for logging and reuse policy;
// callers outside the service layer never see them.
var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")
	ErrRefreshTokenReused   = errors.New("refresh token reused after rotation")
)

// ErrUserNotFound is an internal credential-store outcome. Login collapses it
// into ErrInvalidCredentials before it leaves the service.
var ErrUserNotFound = errors.New("user not found")

// ErrLoginLocked reports a temporary lockout after repeated failures.
type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
