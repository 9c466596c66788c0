package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/ingest"
	"github.com/jackzampolin/straighten/internal/pages"
	"github.com/jackzampolin/straighten/internal/providers"
	"github.com/jackzampolin/straighten/internal/rectify"
	"github.com/jackzampolin/straighten/internal/session"
	"github.com/jackzampolin/straighten/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Detector string `json:"detector,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

var _ api.Endpoint = (*HealthEndpoint)(nil)

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// APIHealthEndpoint handles GET /api/health for frontends that only talk to /api.
type APIHealthEndpoint struct{}

var _ api.Endpoint = (*APIHealthEndpoint)(nil)

func (e *APIHealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/health", e.handler
}

func (e *APIHealthEndpoint) RequiresInit() bool { return false }

func (e *APIHealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *APIHealthEndpoint) Command(_ func() string) *cobra.Command {
	return nil
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

var _ api.Endpoint = (*ReadyEndpoint)(nil)

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Detector: "ok"}

	if svcctx.SessionsFrom(r.Context()) == nil {
		resp.Status = "degraded"
		resp.Detector = "not_initialized"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	holder := svcctx.DetectorsFrom(r.Context())
	switch {
	case holder == nil || holder.Detector() == nil:
		resp.Status = "degraded"
		resp.Detector = "not_configured"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	case holder.Detector().Name() != providers.MockDetectorName && !holder.Credentials().Valid():
		resp.Status = "degraded"
		resp.Detector = "credentials_missing"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes detector credentials)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status:   %s\n", resp.Status)
			if resp.Detector != "" {
				fmt.Printf("Detector: %s\n", resp.Detector)
			}
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server     string         `json:"server"`
	Sessions   int            `json:"sessions"`
	ConfigFile string         `json:"config_file,omitempty"`
	Detector   DetectorStatus `json:"detector"`
}

// DetectorStatus shows the active detector.
type DetectorStatus struct {
	Name        string                       `json:"name"`
	Model       string                       `json:"model,omitempty"`
	Credentials bool                         `json:"credentials"`
	RateLimiter *providers.RateLimiterStatus `json:"rate_limiter,omitempty"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

var _ api.Endpoint = (*StatusEndpoint)(nil)

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Server: "running"}

	if svc := svcctx.SessionsFrom(r.Context()); svc != nil {
		resp.Sessions = len(svc.List())
	}
	if cm := svcctx.ConfigManagerFrom(r.Context()); cm != nil {
		resp.ConfigFile = cm.File()
	}

	resp.Detector.Name = "not_configured"
	if holder := svcctx.DetectorsFrom(r.Context()); holder != nil {
		resp.Detector.Credentials = holder.Credentials().Valid()
		if d := holder.Detector(); d != nil {
			resp.Detector.Name = d.Name()
			if od, ok := d.(*providers.OpenAIDetector); ok {
				resp.Detector.Model = od.Model()
				st := od.RateLimiterStatus()
				resp.Detector.RateLimiter = &st
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps a session service error onto an HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrNoBatch),
		errors.Is(err, session.ErrNotExported),
		errors.Is(err, pages.ErrPageNotFound),
		errors.Is(err, pages.ErrNothingToUndo):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBatchRunning),
		errors.Is(err, pages.ErrLeased):
		return http.StatusConflict
	case errors.Is(err, rectify.ErrInvalidCoordinateShape),
		errors.Is(err, rectify.ErrDegenerateCropRegion),
		errors.Is(err, ingest.ErrNotPDF),
		errors.Is(err, session.ErrInvalidTitle),
		errors.Is(err, ingest.ErrNoPages):
		return http.StatusUnprocessableEntity
	case errors.Is(err, providers.ErrCredentialInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrNoDetector):
		return http.StatusServiceUnavailable
	case errors.Is(err, providers.ErrUpstreamDetectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
