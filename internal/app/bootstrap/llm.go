package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/ligai/internal/config"
	"github.com/wolfman30/ligai/internal/llm"
	"github.com/wolfman30/ligai/pkg/logging"
)

const (
	providerBedrock = "bedrock"
	providerGemini  = "gemini"
)

// BuildResponder wires the configured LLM provider, wrapped with the
// fallback provider when one is set.
func BuildResponder(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*llm.Responder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	primary, err := buildLLMClient(ctx, cfg.LLMProvider, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	var fallback llm.Client
	if fb := strings.TrimSpace(cfg.LLMFallbackProvider); fb != "" && fb != cfg.LLMProvider {
		fallback, err = buildLLMClient(ctx, fb, cfg, awsCfg)
		if err != nil {
			logger.Warn("llm fallback unavailable", "provider", fb, "error", err)
			fallback = nil
		}
	}

	logger.Info("llm configured", "provider", cfg.LLMProvider, "fallback", cfg.LLMFallbackProvider)
	return llm.NewResponder(llm.NewFallbackClient(primary, fallback, logger), llm.ResponderConfig{
		Model:        cfg.BedrockModelID,
		MaxTokens:    cfg.LLMMaxTokens,
		Temperature:  cfg.LLMTemperature,
		Timeout:      cfg.LLMTimeout,
		HistoryTurns: cfg.LLMHistoryTurns,
	}), nil
}

func buildLLMClient(ctx context.Context, provider string, cfg *appconfig.Config, awsCfg aws.Config) (llm.Client, error) {
	switch provider {
	case providerBedrock, "":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for bedrock")
		}
		return llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg)), nil
	case providerGemini:
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", provider)
	}
}
