package providers

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DetectorConfig selects and configures a corner detector.
type DetectorConfig struct {
	Type       string // "openai" or "mock"
	BaseURL    string
	Model      string
	APIKey     string
	RateLimit  int // Requests per minute
	Timeout    time.Duration
	MaxRetries int
}

// NewDetector builds a detector from cfg. The key in cfg seeds creds when
// creds holds none.
func NewDetector(cfg DetectorConfig, creds *Credentials, logger *slog.Logger) (CornerDetector, error) {
	if creds != nil && cfg.APIKey != "" {
		if key, _ := creds.Get(); key == "" {
			creds.Set(cfg.APIKey)
		}
	}
	switch cfg.Type {
	case "", OpenAIDetectorName:
		return NewOpenAIDetector(OpenAIDetectorConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			RateLimit:  cfg.RateLimit,
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.Timeout,
			Logger:     logger,
		}, creds), nil
	case MockDetectorName:
		return NewMockDetector(), nil
	default:
		return nil, fmt.Errorf("unknown detector type: %s", cfg.Type)
	}
}

// Holder gives thread-safe access to the active detector so a config
// reload can swap it while requests are in flight.
type Holder struct {
	mu       sync.RWMutex
	detector CornerDetector
	creds    *Credentials
	logger   *slog.Logger
}

// NewHolder creates a holder around an initial detector.
func NewHolder(detector CornerDetector, creds *Credentials, logger *slog.Logger) *Holder {
	if creds == nil {
		creds = NewCredentials("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{detector: detector, creds: creds, logger: logger}
}

// Detector returns the active detector, or nil when none is configured.
func (h *Holder) Detector() CornerDetector {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.detector
}

// Credentials returns the shared credential store.
func (h *Holder) Credentials() *Credentials {
	return h.creds
}

// Set replaces the active detector.
func (h *Holder) Set(detector CornerDetector) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detector = detector
}

// Reload rebuilds the detector from cfg. A configured key that differs from
// the stored one replaces it, clearing any invalidation. On error the
// previous detector stays active.
func (h *Holder) Reload(cfg DetectorConfig) error {
	d, err := NewDetector(cfg, h.creds, h.logger)
	if err != nil {
		return err
	}
	if cfg.APIKey != "" {
		if key, _ := h.creds.Get(); key != cfg.APIKey {
			h.creds.Set(cfg.APIKey)
			h.logger.Info("detector API key replaced from config")
		}
	}
	h.Set(d)
	h.logger.Info("detector reloaded", "type", d.Name())
	return nil
}
