// Package provider picks the analysis backend named in configuration.
package provider

import (
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/syllabus-jobs/internal/analysis"
	"github.com/joseph-ayodele/syllabus-jobs/internal/analysis/openai"
	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
)

// New returns the Processor for cfg.Provider.
func New(cfg common.AnalysisConfig, logger *slog.Logger) (analysis.Processor, error) {
	switch cfg.Provider {
	case "", "mock":
		return analysis.NewMockProcessor(cfg.MockDelay, logger), nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q: %w", cfg.Provider, common.ErrInvalidInput)
	}
}
