package auth

import (
	"errors"
	"strings"
)

var (
	ErrNotConfigured = errors.New("authentication not configured")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// Identity is the user a request acts for. UserID doubles as the
// generation session ID.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// SessionVerifier resolves bearer tokens to identities. Zitadel JWKS is
// tried first; the HMAC secret is the fallback for legacy and dev tokens.
type SessionVerifier struct {
	jwks   TokenVerifier
	secret string
}

func NewSessionVerifier(jwks TokenVerifier, secret string) *SessionVerifier {
	return &SessionVerifier{jwks: jwks, secret: secret}
}

// Configured reports whether any verification method is available.
func (v *SessionVerifier) Configured() bool {
	return v.jwks != nil || v.secret != ""
}

// Verify validates tokenString and returns its identity.
func (v *SessionVerifier) Verify(tokenString string) (*Identity, error) {
	if !v.Configured() {
		return nil, ErrNotConfigured
	}

	if v.jwks != nil {
		if claims, err := v.jwks.Validate(tokenString); err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email, Name: claims.Name}, nil
		}
	}

	if v.secret != "" {
		if claims, err := ValidateLegacyToken(tokenString, v.secret); err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
		}
	}

	return nil, ErrInvalidToken
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
