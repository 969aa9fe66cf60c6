package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wolfman30/medinotes/internal/identity"
	"github.com/wolfman30/medinotes/internal/observability/metrics"
	"github.com/wolfman30/medinotes/pkg/logging"
)

const testIssuer = "https://clerk.medinotes.example"

type jwksFixture struct {
	key    *rsa.PrivateKey
	kids   atomic.Value
	hits   atomic.Int32
	server *httptest.Server
}

func newJWKSFixture(t *testing.T, kids ...string) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	f := &jwksFixture{key: key}
	f.kids.Store(kids)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		var doc jwksResponse
		for _, kid := range f.kids.Load().([]string) {
			doc.Keys = append(doc.Keys, jwkKey{
				Kid: kid,
				Kty: "RSA",
				Alg: "RS256",
				Use: "sig",
				N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(intToBytes(key.PublicKey.E)),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims identity.SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func validClaims() identity.SessionClaims {
	now := time.Now()
	return identity.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "user_123",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		SessionID:       "sess_1",
		AuthorizedParty: "https://app.medinotes.example",
		Plan:            "u:premium_subscription",
	}
}

func intToBytes(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	out := []byte{}
	for v > 0 {
		out = append([]byte{byte(v & 0xff)}, out...)
		v >>= 8
	}
	return out
}

func runAuth(t *testing.T, cfg SessionAuthConfig, token string) (*httptest.ResponseRecorder, *identity.SessionClaims) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logging.New("error")
	}
	var got *identity.SessionClaims
	handler := SessionAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = identity.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/consultation", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, got
}

func TestSessionAuthAcceptsJWKSToken(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	cfg := SessionAuthConfig{
		KeySet:            NewKeySet(f.server.URL, nil),
		Issuer:            testIssuer,
		AuthorizedParties: []string{"https://app.medinotes.example"},
	}

	rec, claims := runAuth(t, cfg, f.sign(t, "kid-1", validClaims()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if claims == nil || claims.Subject != "user_123" || claims.SessionID != "sess_1" {
		t.Fatalf("expected claims on context, got %#v", claims)
	}
	if !claims.HasPlan("premium_subscription") {
		t.Fatalf("expected plan claim to be preserved")
	}
}

func TestSessionAuthRejections(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	reg := prometheus.NewRegistry()
	m := metrics.NewConsultationMetrics(reg)
	cfg := SessionAuthConfig{
		KeySet:            NewKeySet(f.server.URL, nil),
		Issuer:            testIssuer,
		AuthorizedParties: []string{"https://app.medinotes.example"},
		Metrics:           m,
	}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://evil.example"
	wrongParty := validClaims()
	wrongParty.AuthorizedParty = "https://evil.example"
	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil
	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing header", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "expired", token: f.sign(t, "kid-1", expired)},
		{name: "wrong issuer", token: f.sign(t, "kid-1", wrongIssuer)},
		{name: "wrong azp", token: f.sign(t, "kid-1", wrongParty)},
		{name: "no expiry", token: f.sign(t, "kid-1", noExpiry)},
		{name: "no subject", token: f.sign(t, "kid-1", noSubject)},
		{name: "unknown kid", token: f.sign(t, "kid-2", validClaims())},
		{name: "hs256 without dev secret", token: mustSignHS256(t, "secret", validClaims())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, claims := runAuth(t, cfg, tt.token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
			}
			if claims != nil {
				t.Fatalf("handler should not run")
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Fatalf("expected json error body, got %q", rec.Body.String())
			}
		})
	}
	got, err := testutil.GatherAndCount(reg, "medinotes_http_auth_failures_total")
	if err != nil || got == 0 {
		t.Fatalf("expected auth failures to be counted, got %d (%v)", got, err)
	}
}

func mustSignHS256(t *testing.T, secret string, claims identity.SessionClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestSessionAuthDevSecret(t *testing.T) {
	signer := &identity.Signer{Secret: []byte("dev-secret"), Subject: "clinician", Plan: "u:premium_subscription"}
	token, err := signer.Sign()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rec, claims := runAuth(t, SessionAuthConfig{DevSecret: "dev-secret"}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if claims.Subject != "clinician" {
		t.Fatalf("expected subject clinician, got %q", claims.Subject)
	}

	rec, _ = runAuth(t, SessionAuthConfig{DevSecret: "other"}, token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected wrong secret to be rejected, got %d", rec.Code)
	}
}

func TestSessionAuthBothVerifiers(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	cfg := SessionAuthConfig{KeySet: NewKeySet(f.server.URL, nil), DevSecret: "dev-secret"}

	claims := validClaims()
	claims.Issuer = ""
	if rec, _ := runAuth(t, cfg, f.sign(t, "kid-1", claims)); rec.Code != http.StatusOK {
		t.Fatalf("expected RS256 token to pass, got %d", rec.Code)
	}
	if rec, _ := runAuth(t, cfg, mustSignHS256(t, "dev-secret", claims)); rec.Code != http.StatusOK {
		t.Fatalf("expected HS256 token to pass, got %d", rec.Code)
	}
}

func TestSessionAuthNotConfigured(t *testing.T) {
	rec, _ := runAuth(t, SessionAuthConfig{}, "anything")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestKeySetCachesAndRefetchesOnUnknownKid(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	ks := NewKeySet(f.server.URL, nil)
	now := time.Now()
	ks.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := ks.Key(context.Background(), "kid-1"); err != nil {
			t.Fatalf("key: %v", err)
		}
	}
	if got := f.hits.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}

	// Rotation: a new kid appears. Within the refresh floor the miss is
	// served from cache.
	f.kids.Store([]string{"kid-1", "kid-2"})
	if _, err := ks.Key(context.Background(), "kid-2"); err == nil {
		t.Fatalf("expected unknown kid before refresh floor")
	}
	now = now.Add(jwksMinRefresh + time.Second)
	if _, err := ks.Key(context.Background(), "kid-2"); err != nil {
		t.Fatalf("expected rotated key after refetch: %v", err)
	}
	if got := f.hits.Load(); got != 2 {
		t.Fatalf("expected two fetches, got %d", got)
	}

	now = now.Add(jwksTTL + time.Second)
	if _, err := ks.Key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("key after expiry: %v", err)
	}
	if got := f.hits.Load(); got != 3 {
		t.Fatalf("expected refetch after ttl, got %d", got)
	}
}

func TestKeySetServesStaleKeyWhenProviderDown(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	ks := NewKeySet(f.server.URL, nil)
	now := time.Now()
	ks.now = func() time.Time { return now }
	if _, err := ks.Key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("key: %v", err)
	}

	f.server.Close()
	now = now.Add(2 * jwksTTL)
	if _, err := ks.Key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("expected stale key, got %v", err)
	}
}

func TestFetchJWKSReturnsErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := fetchJWKS(context.Background(), server.Client(), server.URL); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestRequirePlan(t *testing.T) {
	handler := RequirePlan("premium_subscription", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		claims *identity.SessionClaims
		want   int
	}{
		{name: "no claims", claims: nil, want: http.StatusUnauthorized},
		{name: "free plan", claims: &identity.SessionClaims{Plan: "u:free_user"}, want: http.StatusForbidden},
		{name: "premium plan", claims: &identity.SessionClaims{Plan: "u:premium_subscription"}, want: http.StatusOK},
		{name: "org plan", claims: &identity.SessionClaims{Plan: "o:premium_subscription"}, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/consultation", nil)
			if tt.claims != nil {
				req = req.WithContext(identity.WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRequirePlanDisabled(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	RequirePlan("", nil)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("expected handler to run when no plan is required")
	}
}
