// Package cli holds helpers shared by the split-hd subcommands: client
// setup, input resolution, and terminal output.
package cli

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/boxtvstar/ai-split-hd/internal/auth"
	"github.com/boxtvstar/ai-split-hd/internal/config"
	"github.com/boxtvstar/ai-split-hd/internal/enhance"
)

// InitEnhancer resolves the API key, creates a Gemini client, and optionally
// validates the key with a cheap call. It exits fatally on failure.
func InitEnhancer(ctx context.Context, cfg config.GeminiConfig, validate bool) *enhance.Client {
	apiKey, err := auth.ResolveAPIKey(cfg.APIKey)
	if err != nil {
		HandleValidationError(err)
	}

	client, err := enhance.NewGeminiClient(ctx, apiKey, cfg.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}

	if validate {
		if err := auth.ValidateAPIKey(ctx, client.Models); err != nil {
			HandleValidationError(err)
		}
		log.Info().Msg("API key validation complete - ready for operations")
	}

	enhancer := enhance.New(client.Models, enhance.WithModel(cfg.Model))
	log.Info().Str("model", enhancer.Model()).Msg("Gemini enhancer initialized")
	return enhancer
}
