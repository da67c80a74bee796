package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignerRoundTrip(t *testing.T) {
	signer, err := NewSigner([][2]string{{"v1", "round-trip-secret"}}, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	if signer.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want the configured 15m", signer.AccessTTL())
	}

	user := User{ID: "user-1", Role: RoleAdmin}
	token, expiresIn, err := signer.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if expiresIn != int64((15 * time.Minute).Seconds()) {
		t.Errorf("expiresIn = %d, want 900", expiresIn)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", claims.UserID)
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}
	if claims.IssuedAt.IsZero() {
		t.Error("IssuedAt not populated")
	}

	second, _, err := signer.Issue(user)
	if err != nil {
		t.Fatalf("second Issue: %v", err)
	}
	if second == token {
		t.Error("two issued tokens are identical, jti is not unique")
	}
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	signer, err := NewSigner([][2]string{{"v1", "expiry-secret"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	// Mint a token that expired a minute ago under the signer's own key.
	claims := jwt.MapClaims{
		"sub": "user-1",
		"iat": time.Now().Add(-2 * time.Minute).Unix(),
		"exp": time.Now().Add(-time.Minute).Unix(),
		"typ": "access",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = "v1"
	encoded, err := tok.SignedString([]byte("expiry-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := signer.Verify(encoded); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidAccessToken", err)
	}
}

func TestSignerRejectsForeignKey(t *testing.T) {
	signer, err := NewSigner([][2]string{{"v1", "real-secret"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	attacker, err := NewSigner([][2]string{{"v1", "attacker-secret"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	forged, _, err := attacker.Issue(User{ID: "user-1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := signer.Verify(forged); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidAccessToken", err)
	}
}

func TestSignerRejectsTamperedToken(t *testing.T) {
	signer, err := NewSigner([][2]string{{"v1", "tamper-secret"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	token, _, err := signer.Issue(User{ID: "user-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := []byte(token)
	tampered[len(tampered)/2] ^= 0x01

	if _, err := signer.Verify(string(tampered)); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidAccessToken", err)
	}
}

func TestSignerKeyRotationWindow(t *testing.T) {
	old, err := NewSigner([][2]string{{"v1", "old-secret"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, _, err := old.Issue(User{ID: "user-1", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Rotated set keeps v1 as a verification-only key.
	rotated, err := NewSigner([][2]string{{"v2", "new-secret"}, {"v1", "old-secret"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	claims, err := rotated.Verify(token)
	if err != nil {
		t.Fatalf("Verify under rotated set: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", claims.UserID)
	}

	fresh, _, err := rotated.Issue(User{ID: "user-2", Role: RoleUser})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := rotated.Verify(fresh); err != nil {
		t.Fatalf("Verify fresh token: %v", err)
	}

	// A set that dropped v1 entirely rejects the old token.
	dropped, err := NewSigner([][2]string{{"v2", "new-secret"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if _, err := dropped.Verify(token); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidAccessToken", err)
	}
}

func TestSignerRejectsWrongTokenType(t *testing.T) {
	signer, err := NewSigner([][2]string{{"v1", "typ-secret"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{
			name: "refresh typ",
			claims: jwt.MapClaims{
				"sub": "user-1",
				"exp": time.Now().Add(time.Minute).Unix(),
				"typ": "refresh",
			},
		},
		{
			name: "missing typ",
			claims: jwt.MapClaims{
				"sub": "user-1",
				"exp": time.Now().Add(time.Minute).Unix(),
			},
		},
		{
			name: "missing sub",
			claims: jwt.MapClaims{
				"exp": time.Now().Add(time.Minute).Unix(),
				"typ": "access",
			},
		},
		{
			name: "missing exp",
			claims: jwt.MapClaims{
				"sub": "user-1",
				"typ": "access",
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, test.claims)
			tok.Header["kid"] = "v1"
			encoded, err := tok.SignedString([]byte("typ-secret"))
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := signer.Verify(encoded); !errors.Is(err, ErrInvalidAccessToken) {
				t.Fatalf("Verify() error = %v, want ErrInvalidAccessToken", err)
			}
		})
	}
}

func TestSignerRejectsUnsignedAlgorithm(t *testing.T) {
	signer, err := NewSigner([][2]string{{"v1", "alg-secret"}}, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Minute).Unix(),
		"typ": "access",
	})
	encoded, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := signer.Verify(encoded); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidAccessToken", err)
	}
}

func TestNewSignerValidation(t *testing.T) {
	if _, err := NewSigner(nil, time.Minute); err == nil {
		t.Fatal("NewSigner accepted an empty key set")
	}
	if _, err := NewSigner([][2]string{{"", "secret"}}, time.Minute); err == nil {
		t.Fatal("NewSigner accepted an empty kid")
	}
	if _, err := NewSigner([][2]string{{"v1", ""}}, time.Minute); err == nil {
		t.Fatal("NewSigner accepted an empty secret")
	}
}
