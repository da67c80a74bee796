package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/auth")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")

	cfg, err := Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want default 8080", cfg.Port)
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 5m", cfg.AccessTokenTTL)
	}
	if cfg.LoginMaxAttempts != 5 {
		t.Errorf("LoginMaxAttempts = %d, want default 5", cfg.LoginMaxAttempts)
	}
}

func TestLoadRequiresDatabaseAndSigningKey(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := Load(false); err == nil {
		t.Error("Load accepted a missing DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/auth")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_KEYS", "")
	if _, err := Load(false); err == nil {
		t.Error("Load accepted a missing signing key")
	}
}

func TestSigningKeys(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want [][2]string
	}{
		{
			name: "bare secret gets v1 kid",
			cfg:  Config{JWTSecret: "s1"},
			want: [][2]string{{"v1", "s1"}},
		},
		{
			name: "key set preserves order",
			cfg:  Config{JWTKeys: []string{"v2:new", "v1:old"}},
			want: [][2]string{{"v2", "new"}, {"v1", "old"}},
		},
		{
			name: "key set wins over bare secret",
			cfg:  Config{JWTSecret: "ignored", JWTKeys: []string{"v3:s"}},
			want: [][2]string{{"v3", "s"}},
		},
		{
			name: "malformed entries dropped",
			cfg:  Config{JWTKeys: []string{"no-colon", ":empty-kid", "v1:", "v1:ok"}},
			want: [][2]string{{"v1", "ok"}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := test.cfg.SigningKeys()
			if len(got) != len(test.want) {
				t.Fatalf("SigningKeys() = %v, want %v", got, test.want)
			}
			for i := range got {
				if got[i] != test.want[i] {
					t.Errorf("key %d = %v, want %v", i, got[i], test.want[i])
				}
			}
		})
	}
}
