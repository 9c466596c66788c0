package config

import (
	"fmt"
	"time"

	"github.com/jackzampolin/straighten/internal/batch"
	"github.com/jackzampolin/straighten/internal/export"
	"github.com/jackzampolin/straighten/internal/ingest"
	"github.com/jackzampolin/straighten/internal/providers"
	"github.com/jackzampolin/straighten/internal/rectify"
)

// Config holds straighten configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Detector   DetectorCfg   `mapstructure:"detector" yaml:"detector" json:"detector"`
	Rasterizer RasterizerCfg `mapstructure:"rasterizer" yaml:"rasterizer" json:"rasterizer"`
	Pipeline   PipelineCfg   `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Background BackgroundCfg `mapstructure:"background" yaml:"background" json:"background"`
	Export     ExportCfg     `mapstructure:"export" yaml:"export" json:"export"`
}

// DetectorCfg configures the corner detector.
type DetectorCfg struct {
	Type           string `mapstructure:"type" yaml:"type" json:"type"`                                  // "openai", "mock"
	BaseURL        string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`                      // OpenAI-compatible endpoint
	Model          string `mapstructure:"model" yaml:"model" json:"model"`                               // Vision model name
	APIKey         string `mapstructure:"api_key" yaml:"api_key" json:"api_key"`                         // API key (supports ${ENV_VAR} syntax)
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`                // Requests per minute
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"` // Per-request timeout
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`             // Transient failures only
}

// RasterizerCfg configures PDF rasterization.
type RasterizerCfg struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"` // "pdftoppm", "fitz"
	DPI     int    `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	Workers int    `mapstructure:"workers" yaml:"workers" json:"workers"`
}

// PipelineCfg configures rectification.
type PipelineCfg struct {
	PaddingRatio float64 `mapstructure:"padding_ratio" yaml:"padding_ratio" json:"padding_ratio"`
	BatchSize    int     `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"` // Pages rectified concurrently
}

// BackgroundCfg configures background whitening.
type BackgroundCfg struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"` // "opencv" (default) or "whitener"
	// Threshold is the luminance cutoff (1-255). Zero picks one per page
	// with opencv and uses a fixed default with whitener.
	Threshold int `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
}

// ExportCfg configures PDF assembly.
type ExportCfg struct {
	// JPEGQuality encodes page images (1-100). Negative stores PNG.
	JPEGQuality int `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Detector: DetectorCfg{
			Type:           providers.OpenAIDetectorName,
			BaseURL:        providers.OpenRouterBaseURL,
			Model:          providers.DefaultDetectorModel,
			APIKey:         "${OPENROUTER_API_KEY}",
			RateLimit:      60,
			TimeoutSeconds: 120,
			MaxRetries:     3,
		},
		Rasterizer: RasterizerCfg{
			Backend: ingest.PdftoppmName,
			DPI:     ingest.DefaultDPI,
			Workers: 4,
		},
		Pipeline: PipelineCfg{
			PaddingRatio: rectify.DefaultPaddingRatio,
			BatchSize:    batch.DefaultBatchSize,
		},
		Background: BackgroundCfg{
			Backend: export.OpenCVName,
		},
		Export: ExportCfg{
			JPEGQuality: export.DefaultJPEGQuality,
		},
	}
}

// Redacted returns a copy safe to show to clients.
func (c Config) Redacted() Config {
	c.Detector.APIKey = RedactKey(c.Detector.APIKey)
	return c
}

// RedactKey masks an API key unless it only references an environment
// variable.
func RedactKey(key string) string {
	if key == "" || envVarPattern.MatchString(key) {
		return key
	}
	return "********"
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Detector.Type {
	case "", providers.OpenAIDetectorName, providers.MockDetectorName:
	default:
		return fmt.Errorf("detector.type: unknown detector %q", c.Detector.Type)
	}
	switch c.Rasterizer.Backend {
	case "", ingest.PdftoppmName, ingest.FitzName:
	default:
		return fmt.Errorf("rasterizer.backend: unknown backend %q", c.Rasterizer.Backend)
	}
	if c.Rasterizer.DPI < 0 || c.Rasterizer.DPI > 1200 {
		return fmt.Errorf("rasterizer.dpi: %d out of range", c.Rasterizer.DPI)
	}
	// Zero would mean "unset" downstream, so the range is open at both ends.
	if c.Pipeline.PaddingRatio <= 0 || c.Pipeline.PaddingRatio >= 0.5 {
		return fmt.Errorf("pipeline.padding_ratio: %v out of range (0, 0.5)", c.Pipeline.PaddingRatio)
	}
	if c.Pipeline.BatchSize < 0 {
		return fmt.Errorf("pipeline.batch_size: must not be negative")
	}
	switch c.Background.Backend {
	case "", export.OpenCVName, export.WhitenerName:
	default:
		return fmt.Errorf("background.backend: unknown backend %q", c.Background.Backend)
	}
	if c.Background.Threshold < 0 || c.Background.Threshold > 255 {
		return fmt.Errorf("background.threshold: %d out of range", c.Background.Threshold)
	}
	if c.Export.JPEGQuality > 100 {
		return fmt.Errorf("export.jpeg_quality: %d out of range", c.Export.JPEGQuality)
	}
	return nil
}

// ToDetectorConfig converts the detector section for providers.NewDetector,
// resolving ${ENV_VAR} references in the API key.
func (c *Config) ToDetectorConfig() providers.DetectorConfig {
	return providers.DetectorConfig{
		Type:       c.Detector.Type,
		BaseURL:    c.Detector.BaseURL,
		Model:      c.Detector.Model,
		APIKey:     ResolveEnvVars(c.Detector.APIKey),
		RateLimit:  c.Detector.RateLimit,
		Timeout:    time.Duration(c.Detector.TimeoutSeconds) * time.Second,
		MaxRetries: c.Detector.MaxRetries,
	}
}
