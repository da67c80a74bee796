package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Signer issues and verifies HS256 access tokens. It holds an ordered key
// set so that tokens signed under a previous key keep verifying during a
// rotation window; new tokens always use the first key. Signing keys are
// read-only after construction.
type Signer struct {
	activeKid string
	keys      map[string][]byte
	accessTTL time.Duration
}

// NewSigner builds a Signer from ordered (kid, secret) pairs. At least one
// pair is required.
func NewSigner(keys [][2]string, accessTTL time.Duration) (*Signer, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("signer requires at least one signing key")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}

	byKid := make(map[string][]byte, len(keys))
	for _, pair := range keys {
		if pair[0] == "" || pair[1] == "" {
			return nil, fmt.Errorf("signing key entries need both kid and secret")
		}
		byKid[pair[0]] = []byte(pair[1])
	}

	return &Signer{
		activeKid: keys[0][0],
		keys:      byKid,
		accessTTL: accessTTL,
	}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (s *Signer) AccessTTL() time.Duration {
	return s.accessTTL
}

// Issue signs a fresh access token for the user. Returns the encoded token
// and its lifetime in seconds.
func (s *Signer) Issue(user User) (string, int64, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return "", 0, fmt.Errorf("generate jti: %w", err)
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(s.accessTTL).Unix(),
		"jti":  jti.String(),
		"typ":  "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = s.activeKid

	encoded, err := token.SignedString(s.keys[s.activeKid])
	if err != nil {
		return "", 0, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, int64(s.accessTTL.Seconds()), nil
}

// Verify checks signature, expiry and required claims. Every failure mode
// collapses to ErrInvalidAccessToken so callers cannot tell which check
// rejected the token.
func (s *Signer) Verify(tokenStr string) (Claims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = s.activeKid
		}
		secret, ok := s.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown signing key")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidAccessToken
	}

	if typ, _ := claims["typ"].(string); typ != "access" {
		return Claims{}, ErrInvalidAccessToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Claims{}, ErrInvalidAccessToken
	}
	role, _ := claims["role"].(string)

	var issuedAt time.Time
	if iat, ok := claims["iat"].(float64); ok {
		issuedAt = time.Unix(int64(iat), 0).UTC()
	}

	return Claims{UserID: sub, Role: role, IssuedAt: issuedAt}, nil
}
