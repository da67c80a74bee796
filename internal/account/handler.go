package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"

	"atlas-auth/internal/auth"
)

var (
	nicknameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const maxJSONBodyBytes = 1 << 20

// Store is the slice of the repository the handler needs; tests substitute
// a fake.
type Store interface {
	Create(ctx context.Context, nickname, email, passwordHash string) (auth.User, error)
	GetByID(ctx context.Context, id string) (auth.User, error)
	Update(ctx context.Context, id string, nickname, email, passwordHash *string) (auth.User, error)
	Delete(ctx context.Context, id string) error
}

// SessionRevoker invalidates every outstanding session of a user. Password
// change and account deletion go through it.
type SessionRevoker interface {
	RevokeAllSessions(ctx context.Context, userID string) error
}

type Handler struct {
	store    Store
	sessions SessionRevoker
	hasher   auth.PasswordHasher
}

func NewHandler(store Store, sessions SessionRevoker) *Handler {
	return &Handler{store: store, sessions: sessions, hasher: auth.BcryptHasher{}}
}

// WithHasher swaps the password hash capability.
func (h *Handler) WithHasher(hasher auth.PasswordHasher) {
	if hasher != nil {
		h.hasher = hasher
	}
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body signupRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Nickname = strings.TrimSpace(strings.ToLower(body.Nickname))
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	body.Password = strings.TrimSpace(body.Password)

	if !nicknameRegex.MatchString(body.Nickname) {
		writeError(w, http.StatusBadRequest, "nickname format is invalid")
		return
	}
	if !emailRegex.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if message, ok := checkPasswordPolicy(body.Password); !ok {
		writeError(w, http.StatusBadRequest, message)
		return
	}

	digest, err := h.hasher.Hash(body.Password)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	user, err := h.store.Create(r.Context(), body.Nickname, body.Email, digest)
	if err != nil {
		if errors.Is(err, ErrNicknameTaken) || errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	writeJSON(w, http.StatusCreated, toProfile(user))
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	user, err := h.store.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, toProfile(user))
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body updateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if body.Nickname == nil && body.Email == nil && body.Password == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if body.Nickname != nil {
		trimmed := strings.TrimSpace(strings.ToLower(*body.Nickname))
		if !nicknameRegex.MatchString(trimmed) {
			writeError(w, http.StatusBadRequest, "nickname format is invalid")
			return
		}
		body.Nickname = &trimmed
	}
	if body.Email != nil {
		trimmed := strings.TrimSpace(strings.ToLower(*body.Email))
		if !emailRegex.MatchString(trimmed) {
			writeError(w, http.StatusBadRequest, "email format is invalid")
			return
		}
		body.Email = &trimmed
	}

	var digest *string
	if body.Password != nil {
		password := strings.TrimSpace(*body.Password)
		if message, ok := checkPasswordPolicy(password); !ok {
			writeError(w, http.StatusBadRequest, message)
			return
		}
		hashed, err := h.hasher.Hash(password)
		if err != nil {
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update profile")
			return
		}
		digest = &hashed
	}

	user, err := h.store.Update(r.Context(), claims.UserID, body.Nickname, body.Email, digest)
	if err != nil {
		if errors.Is(err, ErrNicknameTaken) || errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	// A changed password invalidates every outstanding session.
	if digest != nil {
		if err := h.sessions.RevokeAllSessions(r.Context(), claims.UserID); err != nil {
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update profile")
			return
		}
	}

	writeJSON(w, http.StatusOK, toProfile(user))
}

func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	if err := h.sessions.RevokeAllSessions(r.Context(), claims.UserID); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}

	if err := h.store.Delete(r.Context(), claims.UserID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// checkPasswordPolicy enforces the signup password requirements: at least 8
// characters with a digit, an upper, a lower and a special character.
func checkPasswordPolicy(password string) (string, bool) {
	if len(password) < 8 {
		return "password must be at least 8 characters", false
	}
	if len(password) > 200 {
		return "password is too long", false
	}

	var hasDigit, hasUpper, hasLower, hasSpecial bool
	for _, ch := range password {
		switch {
		case ch >= '0' && ch <= '9':
			hasDigit = true
		case ch >= 'A' && ch <= 'Z':
			hasUpper = true
		case ch >= 'a' && ch <= 'z':
			hasLower = true
		case strings.ContainsRune("!@#$%^&*()_+-=[]{}|;:,.<>?/~`", ch):
			hasSpecial = true
		}
	}

	switch {
	case !hasDigit:
		return "password must contain a digit", false
	case !hasUpper:
		return "password must contain an uppercase letter", false
	case !hasLower:
		return "password must contain a lowercase letter", false
	case !hasSpecial:
		return "password must contain a special character", false
	}

	return "", true
}

func toProfile(u auth.User) Profile {
	return Profile{
		ID:        u.ID,
		Nickname:  u.Nickname,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
