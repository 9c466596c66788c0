package config

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/jackzampolin/straighten/internal/batch"
	"github.com/jackzampolin/straighten/internal/export"
	"github.com/jackzampolin/straighten/internal/ingest"
	"github.com/jackzampolin/straighten/internal/providers"
	"github.com/jackzampolin/straighten/internal/rectify"
)

var (
	// ErrNoDefault is returned when no default value exists for a config key.
	ErrNoDefault = errors.New("no default exists")

	// ErrInvalidKey is returned when a config key contains invalid characters.
	ErrInvalidKey = errors.New("invalid config key")
)

// Entry is a single configuration key with its default and description.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns every configuration key with its default.
// These seed viper and back the `config defaults` command.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// Detector
		// ===================
		{
			Key:         "detector.type",
			Value:       providers.OpenAIDetectorName,
			Description: "Corner detector: openai (any OpenAI-compatible endpoint) or mock",
		},
		{
			Key:         "detector.base_url",
			Value:       providers.OpenRouterBaseURL,
			Description: "Base URL of the OpenAI-compatible vision endpoint",
		},
		{
			Key:         "detector.model",
			Value:       providers.DefaultDetectorModel,
			Description: "Vision model used to locate page corners",
		},
		{
			Key:         "detector.api_key",
			Value:       "${OPENROUTER_API_KEY}",
			Description: "Detector API key (uses environment variable)",
		},
		{
			Key:         "detector.rate_limit",
			Value:       60,
			Description: "Rate limit in requests per minute",
		},
		{
			Key:         "detector.timeout_seconds",
			Value:       120,
			Description: "HTTP timeout in seconds per detection attempt",
		},
		{
			Key:         "detector.max_retries",
			Value:       3,
			Description: "Retries for rate limits, server errors and network failures",
		},

		// ===================
		// Rasterizer
		// ===================
		{
			Key:         "rasterizer.backend",
			Value:       ingest.PdftoppmName,
			Description: "PDF rasterizer: pdftoppm (poppler-utils) or fitz (MuPDF)",
		},
		{
			Key:         "rasterizer.dpi",
			Value:       ingest.DefaultDPI,
			Description: "Render resolution for uploaded PDFs",
		},
		{
			Key:         "rasterizer.workers",
			Value:       4,
			Description: "Concurrent pdftoppm processes",
		},

		// ===================
		// Pipeline
		// ===================
		{
			Key:         "pipeline.padding_ratio",
			Value:       rectify.DefaultPaddingRatio,
			Description: "Crop margin as a fraction of the source page size",
		},
		{
			Key:         "pipeline.batch_size",
			Value:       batch.DefaultBatchSize,
			Description: "Pages rectified concurrently per batch",
		},

		// ===================
		// Background / Export
		// ===================
		{
			Key:         "background.backend",
			Value:       export.OpenCVName,
			Description: "Background removal backend: opencv or whitener",
		},
		{
			Key:         "background.threshold",
			Value:       0,
			Description: "Luminance cutoff for background whitening (0 picks one per page)",
		},
		{
			Key:         "export.jpeg_quality",
			Value:       export.DefaultJPEGQuality,
			Description: "JPEG quality of exported pages (negative stores PNG)",
		},
	}
}

// GetDefault returns the default entry for a key, or nil if none exists.
func GetDefault(key string) *Entry {
	for _, e := range DefaultEntries() {
		if e.Key == key {
			return &e
		}
	}
	return nil
}

// LookupDefault validates key and returns its default entry.
func LookupDefault(key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	e := GetDefault(key)
	if e == nil {
		return nil, fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return e, nil
}

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}
