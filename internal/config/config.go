package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds backend configuration.
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	StaticDir     string
	ShutdownGrace time.Duration

	// LLM provider selection
	LLMProvider      string
	FallbackProvider string
	MaxOutputTokens  int
	Temperature      float64
	StreamTimeout    time.Duration

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	BedrockModelID      string

	GeminiAPIKey  string
	GeminiModelID string

	// Identity provider (JWKS) configuration
	JWKSURL           string
	JWTIssuer         string
	AuthorizedParties []string
	DevAuthSecret     string
	RequiredPlan      string
	SignInURL         string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	DatabaseURL string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8000"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		StaticDir:     getEnv("STATIC_DIR", "static"),
		ShutdownGrace: getEnvAsDuration("SHUTDOWN_GRACE", 30*time.Second),

		LLMProvider:      strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai"))),
		FallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		MaxOutputTokens:  getEnvAsInt("LLM_MAX_OUTPUT_TOKENS", 0),
		Temperature:      getEnvAsFloat("LLM_TEMPERATURE", -1),
		StreamTimeout:    getEnvAsDuration("LLM_STREAM_TIMEOUT", 2*time.Minute),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-5-nano"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		JWKSURL:           getEnv("CLERK_JWKS_URL", ""),
		JWTIssuer:         getEnv("CLERK_ISSUER", ""),
		AuthorizedParties: getEnvAsList("CLERK_AUTHORIZED_PARTIES", nil),
		DevAuthSecret:     getEnv("DEV_AUTH_SECRET", ""),
		RequiredPlan:      getEnv("REQUIRED_PLAN", ""),
		SignInURL:         getEnv("SIGN_IN_URL", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 5),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

// AuthConfigured reports whether any bearer verifier is set up.
func (c *Config) AuthConfigured() bool {
	return strings.TrimSpace(c.JWKSURL) != "" || strings.TrimSpace(c.DevAuthSecret) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
