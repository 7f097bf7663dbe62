package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session identifies the marketplace user this daemon acts for. It is built
// once from the backend access token and passed explicitly to every component
// that needs the current identity; nothing reads ambient global auth state.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionFromToken extracts the user identity from a backend access token.
// The token signature is verified by the backend on every request; locally we
// only decode the claims to know who we are acting as.
func SessionFromToken(token string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("empty access token")
	}

	var claims tokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("access token has no subject claim")
	}

	s := &Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		AccessToken: token,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Expired reports whether the access token has an expiry in the past.
// Tokens without an exp claim never report expired.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
