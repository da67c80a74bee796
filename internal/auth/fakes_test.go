package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// fakeCredentialStore keeps users in a map keyed by id.
type fakeCredentialStore struct {
	mu      sync.Mutex
	users   map[string]User
	nextID  int
	created []Identity
}

func newFakeCredentialStore(users ...User) *fakeCredentialStore {
	store := &fakeCredentialStore{users: make(map[string]User)}
	for _, u := range users {
		store.users[u.ID] = u
	}
	return store
}

func (f *fakeCredentialStore) GetByLogin(ctx context.Context, login string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Nickname == login || strings.EqualFold(u.Email, login) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (f *fakeCredentialStore) GetByID(ctx context.Context, id string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeCredentialStore) FindOrCreateFromIdentity(ctx context.Context, identity Identity) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, identity)
	for _, u := range f.users {
		if strings.EqualFold(u.Email, identity.Email) {
			return u, nil
		}
	}
	f.nextID++
	u := User{
		ID:       "oauth-" + identity.Provider + "-" + identity.Subject,
		Nickname: identity.Name,
		Email:    strings.ToLower(identity.Email),
		Role:     RoleUser,
		IsActive: true,
	}
	f.users[u.ID] = u
	return u, nil
}

type ledgerRow struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

// fakeLedger mirrors the Postgres ledger semantics in memory, including the
// atomic single-winner rotation.
type fakeLedger struct {
	mu       sync.Mutex
	rows     map[string]*ledgerRow // keyed by raw token value
	revoked  map[string]int        // RevokeAllForUser calls per user id
	issueErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		rows:    make(map[string]*ledgerRow),
		revoked: make(map[string]int),
	}
}

func (f *fakeLedger) CreateRefreshToken(ctx context.Context, userID, rawToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return f.issueErr
	}
	f.rows[rawToken] = &ledgerRow{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeLedger) RefreshTokenOwner(ctx context.Context, rawToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[rawToken]
	if !ok {
		return "", ErrRefreshTokenNotFound
	}
	return row.userID, nil
}

func (f *fakeLedger) ConsumeRefreshToken(ctx context.Context, rawOld, rawNew string, newExpiresAt time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[rawOld]
	if !ok {
		return "", ErrRefreshTokenNotFound
	}
	if row.revoked {
		return row.userID, ErrRefreshTokenReused
	}
	if time.Now().After(row.expiresAt) {
		return row.userID, ErrRefreshTokenExpired
	}

	row.revoked = true
	f.rows[rawNew] = &ledgerRow{userID: row.userID, expiresAt: newExpiresAt}
	return row.userID, nil
}

func (f *fakeLedger) RevokeRefreshToken(ctx context.Context, rawToken string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rawToken]
	if !ok || row.revoked {
		return false, nil
	}
	row.revoked = true
	return true, nil
}

func (f *fakeLedger) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[userID]++
	var count int64
	for _, row := range f.rows {
		if row.userID == userID && !row.revoked {
			row.revoked = true
			count++
		}
	}
	return count, nil
}

func (f *fakeLedger) activeCountForUser(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, row := range f.rows {
		if row.userID == userID && !row.revoked {
			count++
		}
	}
	return count
}

// fakeLockouts applies the same counting rules as the Postgres store.
type fakeLockouts struct {
	mu       sync.Mutex
	attempts map[string]*LoginAttempt
}

func newFakeLockouts() *fakeLockouts {
	return &fakeLockouts{attempts: make(map[string]*LoginAttempt)}
}

func (f *fakeLockouts) GetLoginAttempt(ctx context.Context, login string) (LoginAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if attempt, ok := f.attempts[login]; ok {
		return *attempt, nil
	}
	return LoginAttempt{Login: login}, nil
}

func (f *fakeLockouts) RegisterFailedAttempt(ctx context.Context, login string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.attempts[login]
	if !ok {
		attempt = &LoginAttempt{Login: login}
		f.attempts[login] = attempt
	}

	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		until := *attempt.LockedUntil
		return &until, nil
	}

	attempt.FailedAttempts++
	if attempt.FailedAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		attempt.LockedUntil = &until
		attempt.FailedAttempts = 0
		return &until, nil
	}

	return nil, nil
}

func (f *fakeLockouts) ResetLoginAttempt(ctx context.Context, login string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attempts, login)
	return nil
}

// fakeRevocations records per-user horizons in memory.
type fakeRevocations struct {
	mu       sync.Mutex
	horizons map[string]time.Time
}

func newFakeRevocations() *fakeRevocations {
	return &fakeRevocations{horizons: make(map[string]time.Time)}
}

func (f *fakeRevocations) RevokeUser(ctx context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.horizons[userID] = at
	return nil
}

func (f *fakeRevocations) RevokedSince(ctx context.Context, userID string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.horizons[userID]
	return at, ok, nil
}
