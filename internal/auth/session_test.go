package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSessionFromToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{
		"sub":   "user-a",
		"email": "a@example.com",
		"exp":   exp.Unix(),
	})

	s, err := SessionFromToken(token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if s.UserID != "user-a" {
		t.Errorf("UserID = %q, want user-a", s.UserID)
	}
	if s.Email != "a@example.com" {
		t.Errorf("Email = %q, want a@example.com", s.Email)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, exp)
	}
	if s.AccessToken != token {
		t.Error("AccessToken not preserved")
	}
}

func TestSessionFromTokenMissingSubject(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"email": "a@example.com"})
	if _, err := SessionFromToken(token); err == nil {
		t.Error("expected error for token without subject")
	}
}

func TestSessionFromTokenEmpty(t *testing.T) {
	if _, err := SessionFromToken(""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestSessionFromTokenGarbage(t *testing.T) {
	if _, err := SessionFromToken("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		exp  time.Time
		want bool
	}{
		{"future expiry", now.Add(time.Hour), false},
		{"past expiry", now.Add(-time.Hour), true},
		{"no expiry", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.exp}
			if got := s.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
