package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/medinotes/internal/identity"
	"github.com/wolfman30/medinotes/internal/observability/metrics"
	"github.com/wolfman30/medinotes/pkg/logging"
)

// clockSkew is tolerated on exp/nbf; session tokens live about a minute.
const clockSkew = 5 * time.Second

// SessionAuthConfig configures bearer verification.
type SessionAuthConfig struct {
	// KeySet verifies RS256 tokens from the hosted identity provider.
	KeySet *KeySet
	// Issuer, when set, must equal the iss claim.
	Issuer string
	// AuthorizedParties, when set, must contain the azp claim if present.
	AuthorizedParties []string
	// DevSecret enables HS256 tokens minted by the development signer.
	DevSecret string
	Metrics   *metrics.ConsultationMetrics
	Logger    *logging.Logger
}

// SessionAuth validates the bearer session token and stores its claims on
// the request context. With both verifiers configured, an RS256 token with a
// kid goes to the KeySet and anything else to the shared secret.
func SessionAuth(cfg SessionAuthConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	parties := map[string]struct{}{}
	for _, p := range cfg.AuthorizedParties {
		if p = strings.TrimSpace(p); p != "" {
			parties[p] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(reason, message string) {
				cfg.Metrics.ObserveAuthFailure(reason)
				writeError(w, http.StatusUnauthorized, message)
			}

			if cfg.KeySet == nil && cfg.DevSecret == "" {
				reject("not_configured", "authentication not configured")
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				reject("missing_token", "missing authorization header")
				return
			}
			tokenString := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, &identity.SessionClaims{})
			if err != nil {
				reject("malformed_token", "invalid token format")
				return
			}
			alg, _ := unverified.Header["alg"].(string)
			kid, _ := unverified.Header["kid"].(string)

			opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithLeeway(clockSkew)}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}

			var keyFunc jwt.Keyfunc
			switch {
			case cfg.KeySet != nil && alg == "RS256" && kid != "":
				keyFunc = func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
					}
					return cfg.KeySet.Key(r.Context(), kid)
				}
				opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
			case cfg.DevSecret != "":
				keyFunc = func(t *jwt.Token) (interface{}, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(cfg.DevSecret), nil
				}
				opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
			default:
				reject("unsupported_token", "unsupported token")
				return
			}

			claims := &identity.SessionClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				reason := "invalid_token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					reason = "expired_token"
				}
				logger.Debug("session token rejected", "reason", reason, "error", err)
				reject(reason, "invalid token")
				return
			}
			if strings.TrimSpace(claims.Subject) == "" {
				reject("invalid_token", "invalid token")
				return
			}
			if len(parties) > 0 && claims.AuthorizedParty != "" {
				if _, ok := parties[claims.AuthorizedParty]; !ok {
					reject("invalid_azp", "invalid authorized party")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(identity.WithClaims(r.Context(), claims)))
		})
	}
}

// RequirePlan rejects callers whose session lacks plan with 403. An empty
// plan disables the check.
func RequirePlan(plan string, m *metrics.ConsultationMetrics) func(http.Handler) http.Handler {
	plan = strings.TrimSpace(plan)
	return func(next http.Handler) http.Handler {
		if plan == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := identity.ClaimsFromContext(r.Context())
			if !ok {
				m.ObserveAuthFailure("missing_claims")
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !claims.HasPlan(plan) {
				m.ObserveAuthFailure("plan_required")
				writeError(w, http.StatusForbidden, "subscription required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
