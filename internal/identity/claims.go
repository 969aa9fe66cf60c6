// Package identity holds the session-token claims shared by the backend
// verifier and the client credential providers.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are the claims of an identity-provider session token.
// The field names follow Clerk's v2 session token layout.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID       string `json:"sid,omitempty"`
	AuthorizedParty string `json:"azp,omitempty"`
	Plan            string `json:"pla,omitempty"`
	Features        string `json:"fea,omitempty"`
}

// HasPlan reports whether the claims carry the named subscription plan.
func (c *SessionClaims) HasPlan(plan string) bool {
	if c == nil {
		return false
	}
	return PlanMatches(c.Plan, plan)
}

// PlanMatches compares a plan claim against a wanted plan slug. The claim
// may be scoped ("u:premium", "o:premium") and may list several plans
// separated by commas. An empty wanted plan always matches.
func PlanMatches(claim, want string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return true
	}
	for _, entry := range strings.Split(claim, ",") {
		entry = strings.TrimSpace(entry)
		if scope, slug, ok := strings.Cut(entry, ":"); ok && (scope == "u" || scope == "o") {
			entry = slug
		}
		if entry == want {
			return true
		}
	}
	return false
}

// ParseUnverified decodes claims without checking the signature. Clients
// use it to read their own token's plan; servers must never rely on it.
func ParseUnverified(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("identity: decode token: %w", err)
	}
	return claims, nil
}

// Signer mints short-lived HS256 session tokens. It stands in for the
// hosted identity provider in development and tests.
type Signer struct {
	Secret  []byte
	Issuer  string
	Subject string
	Plan    string
	TTL     time.Duration

	now func() time.Time
}

// Sign returns a freshly minted token.
func (s *Signer) Sign() (string, error) {
	if len(s.Secret) == 0 {
		return "", errors.New("identity: signing secret is required")
	}
	if strings.TrimSpace(s.Subject) == "" {
		return "", errors.New("identity: subject is required")
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	issued := now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   s.Subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
		Plan: s.Plan,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return token, nil
}
