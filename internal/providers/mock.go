package providers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/straighten/internal/rectify"
)

const MockDetectorName = "mock"

// MockDetector is a CornerDetector for tests and offline runs.
type MockDetector struct {
	// Configurable behavior
	Latency time.Duration
	Corners rectify.Quad
	Err     error         // Returned for every request when set
	FailOn  map[int]error // Per-page errors

	// DetectFunc overrides everything above when set.
	DetectFunc func(ctx context.Context, req *DetectionRequest) (rectify.Quad, error)

	requestCount atomic.Int64
}

// NewMockDetector returns a detector that reports an inset of the whole
// image in ratio space.
func NewMockDetector() *MockDetector {
	return &MockDetector{
		Latency: 0,
		Corners: rectify.Quad{
			TopLeft:     rectify.Point{X: 0.02, Y: 0.02},
			TopRight:    rectify.Point{X: 0.98, Y: 0.02},
			BottomLeft:  rectify.Point{X: 0.02, Y: 0.98},
			BottomRight: rectify.Point{X: 0.98, Y: 0.98},
		},
	}
}

// Name returns the detector identifier.
func (m *MockDetector) Name() string {
	return MockDetectorName
}

// Requests returns how many times Detect was called.
func (m *MockDetector) Requests() int64 {
	return m.requestCount.Load()
}

// Detect returns the configured corners or error.
func (m *MockDetector) Detect(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
	start := time.Now()
	count := m.requestCount.Add(1)

	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, newDetectionError(m.Name(), ErrTransportFailure, ctx.Err())
		case <-time.After(m.Latency):
		}
	}

	corners := m.Corners
	switch {
	case m.DetectFunc != nil:
		q, err := m.DetectFunc(ctx, req)
		if err != nil {
			return nil, err
		}
		corners = q
	case m.Err != nil:
		return nil, m.Err
	case m.FailOn[req.Page] != nil:
		return nil, m.FailOn[req.Page]
	}

	return &DetectionResult{
		Corners:       corners,
		Provider:      m.Name(),
		ModelUsed:     "mock",
		RequestID:     fmt.Sprintf("mock-%d", count),
		Attempts:      1,
		ExecutionTime: time.Since(start),
	}, nil
}

var _ CornerDetector = (*MockDetector)(nil)
