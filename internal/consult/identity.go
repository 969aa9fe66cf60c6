package consult

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/medinotes/internal/identity"
)

// IdentityProvider is the client's view of the external identity service.
// Token returns an empty string when the session has no credential, and
// Entitled then reports ErrNoCredential.
type IdentityProvider interface {
	Token(ctx context.Context) (string, error)
	Entitled(ctx context.Context) (bool, error)
}

// TokenSource returns a bearer token, or "" when none is available.
type TokenSource func(ctx context.Context) (string, error)

// TokenIdentity adapts a token source. Entitlement is read from the
// token's own plan claim, mirroring how the hosted provider's UI gate
// inspects the session it already holds.
type TokenIdentity struct {
	source       TokenSource
	requiredPlan string
}

// NewTokenIdentity wraps source. An empty requiredPlan means any signed-in
// session is entitled.
func NewTokenIdentity(source TokenSource, requiredPlan string) *TokenIdentity {
	return &TokenIdentity{source: source, requiredPlan: strings.TrimSpace(requiredPlan)}
}

// StaticIdentity always returns the same token.
func StaticIdentity(token, requiredPlan string) *TokenIdentity {
	token = strings.TrimSpace(token)
	return NewTokenIdentity(func(context.Context) (string, error) { return token, nil }, requiredPlan)
}

// EnvIdentity reads the token from an environment variable on every call.
func EnvIdentity(key, requiredPlan string) *TokenIdentity {
	return NewTokenIdentity(func(context.Context) (string, error) {
		return strings.TrimSpace(os.Getenv(key)), nil
	}, requiredPlan)
}

func (p *TokenIdentity) Token(ctx context.Context) (string, error) {
	if p == nil || p.source == nil {
		return "", nil
	}
	return p.source(ctx)
}

func (p *TokenIdentity) Entitled(ctx context.Context) (bool, error) {
	token, err := p.Token(ctx)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, ErrNoCredential
	}
	if p.requiredPlan == "" {
		return true, nil
	}
	claims, err := identity.ParseUnverified(token)
	if err != nil {
		// Opaque tokens carry no plan; the server remains the authority.
		return false, nil
	}
	return claims.HasPlan(p.requiredPlan), nil
}

// SignerIdentity mints development tokens with a shared secret and caches
// each one until shortly before it expires.
type SignerIdentity struct {
	signer       *identity.Signer
	requiredPlan string

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewSignerIdentity returns a provider backed by signer.
func NewSignerIdentity(signer *identity.Signer, requiredPlan string) *SignerIdentity {
	return &SignerIdentity{signer: signer, requiredPlan: strings.TrimSpace(requiredPlan)}
}

func (p *SignerIdentity) Token(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.expires) {
		return p.token, nil
	}
	token, err := p.signer.Sign()
	if err != nil {
		return "", err
	}
	ttl := p.signer.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	p.token = token
	p.expires = time.Now().Add(ttl / 2)
	return token, nil
}

func (p *SignerIdentity) Entitled(_ context.Context) (bool, error) {
	return identity.PlanMatches(p.signer.Plan, p.requiredPlan), nil
}
