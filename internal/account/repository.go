package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"atlas-auth/internal/auth"
)

// Uniqueness violations, mapped from the Postgres constraint that fired.
var (
	ErrNicknameTaken = errors.New("nickname already exists")
	ErrEmailTaken    = errors.New("email already registered")
)

const pgUniqueViolation = "23505"

// Repository owns the users and auth_identities tables. It implements
// auth.CredentialStore for the session manager and the profile operations
// for the HTTP layer.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, nickname, email, password_hash, role, is_active, created_at, updated_at`

func scanUser(row *sql.Row) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Nickname, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		return auth.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *Repository) Create(ctx context.Context, nickname, email, passwordHash string) (auth.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return auth.User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	u := auth.User{
		ID:           id.String(),
		Nickname:     nickname,
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		Role:         auth.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, nickname, email, password_hash, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, u.ID, u.Nickname, u.Email, u.PasswordHash, u.Role, u.IsActive, now)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return auth.User{}, mapped
		}
		return auth.User{}, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (auth.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

// GetByLogin resolves a login identifier against both the nickname and the
// email column in one query, so the caller cannot time-probe which one
// matched.
func (r *Repository) GetByLogin(ctx context.Context, login string) (auth.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE nickname = $1 OR email = lower($1)
	`, login)
	return scanUser(row)
}

// Update applies the non-nil fields and returns the fresh row.
func (r *Repository) Update(ctx context.Context, id string, nickname, email, passwordHash *string) (auth.User, error) {
	var lowered *string
	if email != nil {
		value := strings.ToLower(*email)
		lowered = &value
	}

	var u auth.User
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET nickname = COALESCE($2, nickname),
			email = COALESCE($3, email),
			password_hash = COALESCE($4, password_hash),
			updated_at = $5
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, nickname, lowered, passwordHash, time.Now().UTC()).Scan(
		&u.ID, &u.Nickname, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		if mapped := mapUniqueViolation(err); mapped != nil {
			return auth.User{}, mapped
		}
		return auth.User{}, fmt.Errorf("update user: %w", err)
	}

	return u, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if affected == 0 {
		return auth.ErrUserNotFound
	}

	return nil
}

// FindOrCreateFromIdentity resolves a verified OAuth identity: first by the
// (provider, subject) pair, then by email with the identity attached, and
// finally by creating a fresh user. All inside one transaction so two
// concurrent callbacks for the same identity cannot create two users.
func (r *Repository) FindOrCreateFromIdentity(ctx context.Context, identity auth.Identity) (auth.User, error) {
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		return auth.User{}, fmt.Errorf("identity from %s has no email", identity.Provider)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, fmt.Errorf("begin identity tx: %w", err)
	}
	defer tx.Rollback()

	var u auth.User
	err = tx.QueryRowContext(ctx, `
		SELECT u.`+strings.ReplaceAll(userColumns, ", ", ", u.")+`
		FROM users u
		JOIN auth_identities i ON i.user_id = u.id
		WHERE i.provider = $1 AND i.subject = $2
	`, identity.Provider, identity.Subject).Scan(
		&u.ID, &u.Nickname, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return auth.User{}, fmt.Errorf("commit identity tx: %w", err)
		}
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, fmt.Errorf("query identity: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email).Scan(&u.ID, &u.Nickname, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, fmt.Errorf("query user by identity email: %w", err)
		}

		u, err = r.createFromIdentity(ctx, tx, identity, email)
		if err != nil {
			return auth.User{}, err
		}
	}

	if err := r.attachIdentity(ctx, tx, identity, u.ID); err != nil {
		return auth.User{}, err
	}

	if err := tx.Commit(); err != nil {
		return auth.User{}, fmt.Errorf("commit identity tx: %w", err)
	}

	return u, nil
}

func (r *Repository) createFromIdentity(ctx context.Context, tx *sql.Tx, identity auth.Identity, email string) (auth.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return auth.User{}, fmt.Errorf("generate user id: %w", err)
	}

	nickname := nicknameFromIdentity(identity, email)

	// Check the collision up front: a failed INSERT would abort the whole
	// transaction. The unique index still backstops the race.
	var taken bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE nickname = $1)
	`, nickname).Scan(&taken); err != nil {
		return auth.User{}, fmt.Errorf("check nickname collision: %w", err)
	}
	if taken {
		nickname = nickname + "-" + id.String()[len(id.String())-6:]
	}

	now := time.Now().UTC()
	u := auth.User{
		ID:        id.String(),
		Nickname:  nickname,
		Email:     email,
		Role:      auth.RoleUser,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// OAuth-created accounts have no password; an empty digest verifies
	// against nothing, so password login stays closed for them.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, nickname, email, password_hash, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, $5, $6, $6)
	`, u.ID, u.Nickname, u.Email, u.Role, u.IsActive, now)
	if err != nil {
		return auth.User{}, fmt.Errorf("insert oauth user: %w", err)
	}

	return u, nil
}

func (r *Repository) attachIdentity(ctx context.Context, tx *sql.Tx, identity auth.Identity, userID string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate identity id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_identities (id, provider, subject, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, subject) DO NOTHING
	`, id.String(), identity.Provider, identity.Subject, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}

	return nil
}

func nicknameFromIdentity(identity auth.Identity, email string) string {
	name := strings.TrimSpace(strings.ToLower(identity.Name))
	name = strings.ReplaceAll(name, " ", ".")
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	cleaned := make([]rune, 0, len(name))
	for _, ch := range name {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '.', ch == '-', ch == '_':
			cleaned = append(cleaned, ch)
		}
	}
	if len(cleaned) < 3 {
		return "user-" + identity.Provider
	}
	if len(cleaned) > 32 {
		cleaned = cleaned[:32]
	}

	return string(cleaned)
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}

	switch {
	case strings.Contains(pgErr.ConstraintName, "nickname"):
		return ErrNicknameTaken
	case strings.Contains(pgErr.ConstraintName, "email"):
		return ErrEmailTaken
	}

	return fmt.Errorf("unique violation: %w", err)
}
