package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/medinotes/internal/config"
	httpmiddleware "github.com/wolfman30/medinotes/internal/http/middleware"
	"github.com/wolfman30/medinotes/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// OpenDatabase opens the audit database through the pgx stdlib driver.
// An empty DATABASE_URL disables auditing and returns a nil handle.
func OpenDatabase(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}
	logger.Info("audit database connected")
	return db, nil
}

// redisWindow is the fixed window used when rate limits are shared via Redis.
const redisWindow = time.Minute

// BuildRateLimiter picks the Redis limiter when a client is available so
// replicas share one budget, and the in-memory token bucket otherwise. The
// returned stop func releases background resources of the memory limiter.
func BuildRateLimiter(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (httpmiddleware.Limiter, func()) {
	if cfg == nil || cfg.RateLimitRPS <= 0 {
		return nil, func() {}
	}
	if logger == nil {
		logger = logging.Default()
	}

	if redisClient != nil {
		limit := int(math.Ceil(cfg.RateLimitRPS * redisWindow.Seconds()))
		if limit < cfg.RateLimitBurst {
			limit = cfg.RateLimitBurst
		}
		logger.Info("rate limiting via redis", "limit", limit, "window", redisWindow.String())
		return httpmiddleware.NewRedisRateLimiter(redisClient, limit, redisWindow), func() {}
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logger.Info("rate limiting in memory", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	return limiter, limiter.Close
}

// BuildKeySet returns the JWKS cache for the identity provider, or nil when
// no JWKS URL is configured.
func BuildKeySet(cfg *appconfig.Config) *httpmiddleware.KeySet {
	if cfg == nil || strings.TrimSpace(cfg.JWKSURL) == "" {
		return nil
	}
	return httpmiddleware.NewKeySet(cfg.JWKSURL, &http.Client{Timeout: 10 * time.Second})
}
