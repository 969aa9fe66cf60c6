package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	jwksTTL = time.Hour
	// jwksMinRefresh limits refetches triggered by unknown key ids.
	jwksMinRefresh = 30 * time.Second
)

// ErrUnknownKey is returned when no JWKS key matches the token's kid.
var ErrUnknownKey = errors.New("jwks: key not found")

// KeySet caches the RSA signing keys published at a JWKS URL. Keys are
// refreshed after an hour, or sooner when a token names an unknown kid.
type KeySet struct {
	url    string
	client *http.Client

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
	fetched time.Time
	now     func() time.Time
}

// NewKeySet returns a KeySet for url. A nil client uses a 10s timeout.
func NewKeySet(url string, client *http.Client) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeySet{url: strings.TrimSpace(url), client: client, now: time.Now}
}

// Key returns the public key for kid.
func (ks *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := ks.now()
	ks.mu.RLock()
	key, ok := ks.keys[kid]
	fresh := now.Before(ks.expires)
	recentlyFetched := now.Sub(ks.fetched) < jwksMinRefresh
	ks.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}
	if !ok && fresh && recentlyFetched {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}

	keys, err := fetchJWKS(ctx, ks.client, ks.url)
	if err != nil {
		if ok {
			// Stale keys keep working while the provider is unreachable.
			return key, nil
		}
		return nil, err
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.fetched = now
	ks.expires = now.Add(jwksTTL)
	ks.mu.Unlock()

	key, ok = keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	return key, nil
}

// jwksResponse represents a JWKS document.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// fetchJWKS fetches the JWKS from the given URL.
func fetchJWKS(ctx context.Context, client *http.Client, url string) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS request failed with status %d", resp.StatusCode)
	}

	var jwks jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pubKey, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pubKey
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no valid RSA keys found in JWKS")
	}
	return keys, nil
}

// parseRSAPublicKey parses RSA public key components from base64url-encoded strings.
func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}
