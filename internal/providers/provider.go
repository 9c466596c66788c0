// Package providers implements corner detection: given a page image, an
// upstream vision model returns the four corners of the document in it.
package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackzampolin/straighten/internal/rectify"
)

// CornerDetector locates the document quadrilateral in a page image.
//
// The returned corners may be in ratio space ([0,1]) or absolute pixels;
// rectify.ResolveCoordinates decides which. Implementations retry transient
// transport failures (network, 429, 5xx) internally and never retry
// authorization or parse failures. Callers must not add retries of their own.
type CornerDetector interface {
	// Name returns the detector identifier (e.g., "openai").
	Name() string

	// Detect returns the corners of the document in req.Image.
	Detect(ctx context.Context, req *DetectionRequest) (*DetectionResult, error)
}

// DetectionRequest is one page image sent for detection.
type DetectionRequest struct {
	Image    []byte // Encoded image bytes
	MIMEType string // "image/jpeg" (default) or "image/png"
	Width    int    // Pixel width of the encoded image
	Height   int    // Pixel height of the encoded image
	Page     int    // Page index, for logging only

	RequestID string
}

// DetectionResult is a successful detection.
type DetectionResult struct {
	Corners rectify.Quad    `json:"corners"`
	Raw     json.RawMessage `json:"raw,omitempty"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used,omitempty"`
	RequestID string `json:"request_id"`
	Attempts  int    `json:"attempts"`

	ExecutionTime time.Duration `json:"execution_time"`
}
