package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/medinotes/internal/audit"
	appconfig "github.com/wolfman30/medinotes/internal/config"
	"github.com/wolfman30/medinotes/internal/observability/metrics"
	"github.com/wolfman30/medinotes/internal/summary"
	"github.com/wolfman30/medinotes/pkg/logging"
)

// Supported LLM_PROVIDER values.
const (
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
)

// LLM is a built provider chain. Close releases provider connections.
type LLM struct {
	Client   summary.StreamingLLMClient
	Provider string
	Model    string
	closers  []func() error
}

func (l *LLM) Close() {
	if l == nil {
		return
	}
	for _, c := range l.closers {
		_ = c()
	}
}

// BuildLLMClient wires the configured primary provider and, when
// LLM_FALLBACK_PROVIDER names a different one, wraps both in a fallback
// client.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	llm := &LLM{Provider: cfg.LLMProvider}
	primary, model, err := buildProvider(ctx, cfg.LLMProvider, cfg, llm)
	if err != nil {
		llm.Close()
		return nil, err
	}
	llm.Model = model
	llm.Client = summary.WithModel(primary, model)

	fallbackName := cfg.FallbackProvider
	if fallbackName == "" || fallbackName == cfg.LLMProvider {
		logger.Info("summary provider configured", "provider", cfg.LLMProvider, "model", model)
		return llm, nil
	}

	fallback, fallbackModel, err := buildProvider(ctx, fallbackName, cfg, llm)
	if err != nil {
		logger.Warn("fallback provider unavailable", "provider", fallbackName, "error", err)
		return llm, nil
	}
	llm.Client = summary.NewFallbackLLMClient(llm.Client, summary.WithModel(fallback, fallbackModel), logger)
	logger.Info("summary provider configured",
		"provider", cfg.LLMProvider,
		"model", model,
		"fallback_provider", fallbackName,
		"fallback_model", fallbackModel,
	)
	return llm, nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, llm *LLM) (summary.StreamingLLMClient, string, error) {
	switch name {
	case ProviderOpenAI, "":
		client, err := summary.NewOpenAILLMClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, "", err
		}
		return client, cfg.OpenAIModel, nil
	case ProviderBedrock:
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, "", fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for the bedrock provider")
		}
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return summary.NewBedrockLLMClient(newBedrockRuntime(awsCfg, cfg.AWSEndpointOverride)), cfg.BedrockModelID, nil
	case ProviderGemini:
		client, err := summary.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, "", err
		}
		llm.closers = append(llm.closers, client.Close)
		return client, cfg.GeminiModelID, nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown LLM provider %q", name)
	}
}

// LoadAWSConfig resolves the default AWS chain, preferring static keys when
// both are set.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, loaders...)
}

func newBedrockRuntime(awsCfg aws.Config, endpoint string) *bedrockruntime.Client {
	if strings.TrimSpace(endpoint) == "" {
		return bedrockruntime.NewFromConfig(awsCfg)
	}
	return bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
}

// BuildSummaryService assembles the summary service around an LLM chain.
// A nil db disables the audit trail.
func BuildSummaryService(cfg *appconfig.Config, llm *LLM, db *sql.DB, m *metrics.ConsultationMetrics, logger *logging.Logger) *summary.Service {
	svcCfg := summary.Config{
		Provider:    llm.Provider,
		Model:       llm.Model,
		Temperature: -1,
		Timeout:     cfg.StreamTimeout,
	}
	if cfg.MaxOutputTokens > 0 {
		svcCfg.MaxTokens = int32(cfg.MaxOutputTokens)
	}
	if cfg.Temperature >= 0 {
		svcCfg.Temperature = float32(cfg.Temperature)
	}

	var auditor summary.Auditor
	if db != nil {
		auditor = audit.NewService(db)
	}
	return summary.NewService(llm.Client, svcCfg, m, auditor, logger)
}
