package auth

import "time"

// Roles carried in access-token claims. The service performs no finer-grained
// permission evaluation than this attribute.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the minimal identity record the session manager works with. The
// account package owns the full profile; this view is what credential
// verification needs.
type User struct {
	ID           string
	Nickname     string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Tokens is the login/refresh response pair. The refresh token value is
// returned exactly once; only its hash is persisted.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// LoginAttempt tracks consecutive failures for a login identifier.
type LoginAttempt struct {
	Login          string
	FailedAttempts int
	LockedUntil    *time.Time
}

// Identity is the verified descriptor produced by the OAuth bridge.
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// Claims is the verified content of an access token.
type Claims struct {
	UserID   string
	Role     string
	IssuedAt time.Time
}
