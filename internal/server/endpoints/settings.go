package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/config"
	"github.com/jackzampolin/straighten/internal/session"
	"github.com/jackzampolin/straighten/internal/svcctx"
)

// SettingsResponse reports the loaded configuration and the live
// pipeline settings, which can differ after a runtime update.
type SettingsResponse struct {
	ConfigFile string           `json:"config_file,omitempty"`
	Config     *config.Config   `json:"config,omitempty"`
	Runtime    session.Settings `json:"runtime"`
}

// SettingResponse contains a single config entry.
type SettingResponse struct {
	Entry   *config.Entry `json:"entry,omitempty"`
	Current any           `json:"current"`
	Error   string        `json:"error,omitempty"`
}

// UpdateSettingsRequest changes live pipeline settings. Zero fields keep
// their current value.
type UpdateSettingsRequest = session.Settings

// ListSettingsEndpoint handles GET /api/settings.
type ListSettingsEndpoint struct{}

var _ api.Endpoint = (*ListSettingsEndpoint)(nil)

func (e *ListSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings", e.handler
}

func (e *ListSettingsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List settings
//	@Description	Get the loaded configuration (API key masked) and live pipeline settings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/settings [get]
func (e *ListSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}

	resp := SettingsResponse{Runtime: svc.Settings()}
	if cm := svcctx.ConfigManagerFrom(r.Context()); cm != nil {
		cfg := cm.Get().Redacted()
		resp.Config = &cfg
		resp.ConfigFile = cm.File()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the server configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SettingsResponse
			if err := client.Get(cmd.Context(), "/api/settings", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetSettingEndpoint handles GET /api/settings/{key...}.
type GetSettingEndpoint struct{}

var _ api.Endpoint = (*GetSettingEndpoint)(nil)

func (e *GetSettingEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/settings/{key...}", e.handler
}

func (e *GetSettingEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a setting
//	@Description	Get the default, description and effective value of one configuration key
//	@Tags			settings
//	@Produce		json
//	@Param			key	path		string	true	"Setting key (URL-encoded)"
//	@Success		200	{object}	SettingResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/settings/{key} [get]
func (e *GetSettingEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key encoding")
		return
	}

	entry, err := config.LookupDefault(key)
	if err != nil {
		switch {
		case errors.Is(err, config.ErrInvalidKey):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, config.ErrNoDefault):
			writeError(w, http.StatusNotFound, "setting not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	resp := SettingResponse{Entry: entry, Current: entry.Value}
	if cm := svcctx.ConfigManagerFrom(r.Context()); cm != nil {
		resp.Current = cm.Value(key)
	}
	if key == "detector.api_key" {
		if s, ok := resp.Current.(string); ok {
			resp.Current = config.RedactKey(s)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *GetSettingEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a setting by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SettingResponse
			path := "/api/settings/" + url.PathEscape(args[0])
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// UpdateSettingsEndpoint handles PUT /api/settings.
type UpdateSettingsEndpoint struct{}

var _ api.Endpoint = (*UpdateSettingsEndpoint)(nil)

func (e *UpdateSettingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/settings", e.handler
}

func (e *UpdateSettingsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Update live settings
//	@Description	Change rasterization DPI, crop padding or batch size until the next config reload
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		UpdateSettingsRequest	true	"New values"
//	@Success		200		{object}	session.Settings
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/settings [put]
func (e *UpdateSettingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.DPI < 0 || req.BatchSize < 0 || req.PaddingRatio < 0 || req.PaddingRatio >= 0.5 {
		writeError(w, http.StatusBadRequest, "settings out of range")
		return
	}

	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	svc.UpdateSettings(req)
	writeJSON(w, http.StatusOK, svc.Settings())
}

func (e *UpdateSettingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req UpdateSettingsRequest
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change live pipeline settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp session.Settings
			if err := client.Put(cmd.Context(), "/api/settings", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&req.DPI, "dpi", 0, "Rasterization DPI for new uploads")
	cmd.Flags().Float64Var(&req.PaddingRatio, "padding", 0, "Crop padding as a fraction of the page size")
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", 0, "Pages rectified concurrently")
	return cmd
}

// ListDefaultsEndpoint handles GET /api/defaults.
type ListDefaultsEndpoint struct{}

var _ api.Endpoint = (*ListDefaultsEndpoint)(nil)

func (e *ListDefaultsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/defaults", e.handler
}

func (e *ListDefaultsEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List defaults
//	@Description	Every configuration key with its default value and description
//	@Tags			settings
//	@Produce		json
//	@Param			prefix	query		string	false	"Key prefix filter (e.g. detector.)"
//	@Success		200		{array}		config.Entry
//	@Router			/api/defaults [get]
func (e *ListDefaultsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	entries := make([]config.Entry, 0)
	for _, entry := range config.DefaultEntries() {
		if strings.HasPrefix(entry.Key, prefix) {
			entries = append(entries, entry)
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (e *ListDefaultsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "List configuration keys with their defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/defaults"
			if prefix != "" {
				path += "?prefix=" + url.QueryEscape(prefix)
			}
			var resp []config.Entry
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Filter by key prefix (e.g., 'detector.')")
	return cmd
}
