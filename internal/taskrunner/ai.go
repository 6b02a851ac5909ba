package taskrunner

import (
	"time"

	"forumpilot/internal/config"
	"forumpilot/internal/llm"
)

func newAIClient(cfg config.AIConfig) (*llm.Client, error) {
	timeout := config.ParseDurationOrDefault(cfg.Timeout, 10*time.Second)
	return llm.NewClient(cfg.Provider, cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens, timeout)
}
