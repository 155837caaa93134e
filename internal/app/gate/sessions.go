package gate

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperr "github.com/flowforge/platform/infrastructure/errors"
)

// Cookie names. The fallback cookie exists only to bridge browsers that drop
// cookies lacking Secure on plain HTTP during development; both carry the
// same token.
const (
	SessionCookie         = "ff_session"
	FallbackSessionCookie = "ff_session_js"
)

// Session lifetimes by issuance path.
const (
	SessionTTLDefault  = 24 * time.Hour
	SessionTTLRemember = 30 * 24 * time.Hour
	SessionTTLOAuth    = 7 * 24 * time.Hour
)

// Principal is the identity consumed by every org-scoped operation.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	OrgID  string `json:"org_id"`
}

type sessionClaims struct {
	Email string `json:"email"`
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

// Sessions signs and verifies session tokens.
type Sessions struct {
	secret []byte
	secure bool
}

// NewSessions builds a token signer. secure controls the Secure attribute on
// issued cookies and should be true outside development.
func NewSessions(secret string, secure bool) (*Sessions, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	return &Sessions{secret: []byte(secret), secure: secure}, nil
}

// Issue signs a token for the principal with the given lifetime.
func (s *Sessions) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		Email: p.Email,
		OrgID: p.OrgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses and validates a token, returning its principal.
func (s *Sessions) Verify(token string) (Principal, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, apperr.Unauthenticated("invalid or expired session")
	}
	if claims.Subject == "" || claims.OrgID == "" {
		return Principal{}, apperr.Unauthenticated("malformed session")
	}
	return Principal{UserID: claims.Subject, Email: claims.Email, OrgID: claims.OrgID}, nil
}

// FromRequest extracts a principal from the primary cookie, then the fallback.
func (s *Sessions) FromRequest(r *http.Request) (Principal, error) {
	for _, name := range []string{SessionCookie, FallbackSessionCookie} {
		cookie, err := r.Cookie(name)
		if err != nil || cookie.Value == "" {
			continue
		}
		p, err := s.Verify(cookie.Value)
		if err == nil {
			return p, nil
		}
	}
	return Principal{}, apperr.Unauthenticated("")
}

// SetCookies writes both session cookies.
func (s *Sessions) SetCookies(w http.ResponseWriter, token string, ttl time.Duration) {
	maxAge := int(ttl / time.Second)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     FallbackSessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookies expires both session cookies on both path scopes.
func (s *Sessions) ClearCookies(w http.ResponseWriter) {
	for _, name := range []string{SessionCookie, FallbackSessionCookie} {
		for _, path := range []string{"/", "/auth"} {
			http.SetCookie(w, &http.Cookie{
				Name:     name,
				Value:    "",
				Path:     path,
				MaxAge:   -1,
				HttpOnly: true,
			})
		}
	}
}
