package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	OpenAIDetectorName = "openai"

	// OpenRouterBaseURL is the default OpenAI-compatible endpoint.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	DefaultDetectorModel = "google/gemini-2.0-flash-001"
)

const detectorSystemPrompt = `You locate paper documents in photographs and scans.
Find the single rectangular document (page, receipt, card or sheet) in the image and return its four corners.
Return ONLY a JSON object, no markdown and no commentary, with this shape:
{"top_left":{"x":0,"y":0},"top_right":{"x":0,"y":0},"bottom_left":{"x":0,"y":0},"bottom_right":{"x":0,"y":0}}
Coordinates are fractions of the image width (x) and height (y) between 0 and 1, origin at the top-left of the image.
"bottom_left" and "bottom_right" are the ends of the document's bottom edge as the text reads.`

// OpenAIDetectorConfig holds configuration for the OpenAI-compatible detector.
type OpenAIDetectorConfig struct {
	BaseURL    string
	Model      string
	RateLimit  int           // Requests per minute
	MaxRetries int           // Retries for 429, 5xx and network errors
	RetryDelay time.Duration // Base delay between retries
	Timeout    time.Duration // HTTP timeout per attempt
	HTTPClient *http.Client  // Optional (tests)
	Logger     *slog.Logger
}

// OpenAIDetector implements CornerDetector against any OpenAI-compatible
// chat completions endpoint with vision support.
type OpenAIDetector struct {
	model      string
	maxRetries int
	retryDelay time.Duration
	creds      *Credentials
	limiter    *RateLimiter
	client     openai.Client
	logger     *slog.Logger
}

// NewOpenAIDetector creates a detector. The API key is read from creds on
// every request so a replaced key takes effect immediately.
func NewOpenAIDetector(cfg OpenAIDetectorConfig, creds *Credentials) *OpenAIDetector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDetectorModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if creds == nil {
		creds = NewCredentials("")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	// Retries are driven here so auth and parse failures are never repeated.
	client := openai.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithHeader("HTTP-Referer", "https://github.com/jackzampolin/straighten"),
		option.WithHeader("X-Title", "Straighten"),
	)

	return &OpenAIDetector{
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		creds:      creds,
		limiter:    NewRateLimiter(cfg.RateLimit),
		client:     client,
		logger:     cfg.Logger,
	}
}

// Name returns the detector identifier.
func (d *OpenAIDetector) Name() string {
	return OpenAIDetectorName
}

// Model returns the configured model.
func (d *OpenAIDetector) Model() string {
	return d.model
}

// RateLimiterStatus reports the detector's limiter state.
func (d *OpenAIDetector) RateLimiterStatus() RateLimiterStatus {
	return d.limiter.Status()
}

// Detect sends the image to the model and parses the corners it returns.
func (d *OpenAIDetector) Detect(ctx context.Context, req *DetectionRequest) (*DetectionResult, error) {
	start := time.Now()
	if req == nil || len(req.Image) == 0 {
		return nil, newDetectionError(d.Name(), ErrTransportFailure, errors.New("empty image"))
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	logger := d.logger.With("page", req.Page, "request_id", requestID)

	key, ok := d.creds.Get()
	if !ok {
		return nil, newDetectionError(d.Name(), ErrCredentialInvalid, errors.New("no valid API key"))
	}

	params := d.buildParams(req)

	var (
		resp     *openai.ChatCompletion
		attempts int
	)
	err := retry.Do(
		func() error {
			attempts++
			if err := d.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			var callErr error
			resp, callErr = d.client.Chat.Completions.New(ctx, params, option.WithAPIKey(key))
			if callErr != nil {
				return d.classifyError(callErr)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(d.maxRetries+1)),
		retry.Delay(d.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("retrying corner detection", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		derr := asDetectionError(d.Name(), err)
		if errors.Is(derr, ErrCredentialInvalid) {
			d.creds.Invalidate(key)
			logger.Warn("detector credential rejected", "error", err)
		}
		return nil, derr
	}

	if len(resp.Choices) == 0 {
		return nil, newDetectionError(d.Name(), ErrNoResultParsed, errors.New("no choices in response"))
	}
	content := resp.Choices[0].Message.Content

	corners, raw, err := parseCorners(content)
	if err != nil {
		logger.Debug("unparseable detector output", "content", truncate(content, 500))
		return nil, newDetectionError(d.Name(), ErrNoResultParsed, err)
	}

	logger.Debug("corners detected", "attempts", attempts, "elapsed", time.Since(start))
	return &DetectionResult{
		Corners:       corners,
		Raw:           raw,
		Provider:      d.Name(),
		ModelUsed:     resp.Model,
		RequestID:     requestID,
		Attempts:      attempts,
		ExecutionTime: time.Since(start),
	}, nil
}

func (d *OpenAIDetector) buildParams(req *DetectionRequest) openai.ChatCompletionNewParams {
	mime := req.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image)

	text := "Return the four document corners as JSON."
	if req.Width > 0 && req.Height > 0 {
		text = fmt.Sprintf("The image is %dx%d pixels. %s", req.Width, req.Height, text)
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(d.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(detectorSystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(text),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		Temperature: openai.Float(0),
	}
	if schema, err := cornerSchemaDoc(); err == nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "document_corners",
					Description: openai.String("Four corners of the document in the image"),
					Schema:      schema,
				},
			},
		}
	}
	return params
}

// classifyError maps an SDK error to a DetectionError kind. Rate limits stay
// wrapped in a RateLimitError so the retry policy can see them.
func (d *OpenAIDetector) classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Unrecoverable(newDetectionError(d.Name(), ErrTransportFailure, err))
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return newDetectionError(d.Name(), ErrTransportFailure, err)
	}

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return newDetectionError(d.Name(), ErrCredentialInvalid,
			fmt.Errorf("status %d: %s", apiErr.StatusCode, apiErr.Message))
	case apiErr.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if apiErr.Response != nil {
			retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		d.limiter.Record429(retryAfter)
		return newDetectionError(d.Name(), ErrTransportFailure, &RateLimitError{
			Message:    fmt.Sprintf("rate limited: %s", apiErr.Message),
			RetryAfter: retryAfter,
			StatusCode: apiErr.StatusCode,
		})
	default:
		return newDetectionError(d.Name(), ErrTransportFailure,
			&httpStatusError{StatusCode: apiErr.StatusCode, Message: apiErr.Message})
	}
}

type httpStatusError struct {
	StatusCode int
	Message    string
}

func (e *httpStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// isRetryable allows retries for rate limits, server errors and network
// failures. Credential and parse failures are final.
func isRetryable(err error) bool {
	if errors.Is(err, ErrCredentialInvalid) || errors.Is(err, ErrNoResultParsed) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return errors.Is(err, ErrTransportFailure)
}

func asDetectionError(provider string, err error) error {
	var derr *DetectionError
	if errors.As(err, &derr) {
		return derr
	}
	return newDetectionError(provider, ErrTransportFailure, err)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}

var _ CornerDetector = (*OpenAIDetector)(nil)
