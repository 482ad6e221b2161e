package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"inbox-sync-go/internal/config"
)

// Fallback tries Primary and switches to Secondary when Primary is
// unreachable or out of quota.
type Fallback struct {
	Primary   Classifier
	Secondary Classifier
}

// ClassifyReply implements Classifier
func (f *Fallback) ClassifyReply(ctx context.Context, text string, c *Context) (*Result, error) {
	result, err := f.Primary.ClassifyReply(ctx, text, c)
	if err == nil {
		return result, nil
	}

	switch CodeOf(err) {
	case CodeConnection, CodeQuota, CodeRateLimit:
		logrus.Warnf("Primary classifier unavailable, using fallback: %v", err)
		return f.Secondary.ClassifyReply(ctx, text, c)
	default:
		return nil, err
	}
}

// New builds the classifier selected by cfg.Provider
func New(cfg config.ClassifierConfig) (Classifier, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini classifier requires an api key")
		}
		return NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.Timeout), nil
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.Timeout), nil
	case "", "auto":
		ollama := NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.Timeout)
		if cfg.GeminiAPIKey == "" {
			return ollama, nil
		}
		return &Fallback{
			Primary:   NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.Timeout),
			Secondary: ollama,
		}, nil
	case "none":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported classifier provider %q", cfg.Provider)
	}
}
