package endpoints

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/svcctx"
)

// ExportResponse is the response for an export.
type ExportResponse struct {
	SessionID   string `json:"session_id"`
	Path        string `json:"path"`
	DownloadURL string `json:"download_url"`
}

// ExportEndpoint handles POST /api/sessions/{id}/export.
type ExportEndpoint struct{}

var _ api.Endpoint = (*ExportEndpoint)(nil)

func (e *ExportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/export", e.handler
}

func (e *ExportEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Export a session
//	@Description	Assemble the current pages, rotation offsets applied, into a PDF
//	@Tags			export
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	ExportResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/export [post]
func (e *ExportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	path, err := svc.Export(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{
		SessionID:   id,
		Path:        path,
		DownloadURL: sessionPath(id) + "/export",
	})
}

func (e *ExportEndpoint) Command(getServerURL func() string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <session_id>",
		Short: "Assemble a session into a PDF (and download it with --out)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ExportResponse
			if err := client.Post(cmd.Context(), sessionPath(args[0])+"/export", nil, &resp); err != nil {
				return err
			}
			if out == "" {
				return api.Output(resp)
			}
			return downloadTo(cmd, getServerURL(), resp.DownloadURL, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "f", "", "Download the PDF to this file")
	return cmd
}

// DownloadExportEndpoint handles GET /api/sessions/{id}/export.
type DownloadExportEndpoint struct{}

var _ api.Endpoint = (*DownloadExportEndpoint)(nil)

func (e *DownloadExportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{id}/export", e.handler
}

func (e *DownloadExportEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Download an export
//	@Description	Stream the PDF written by the last export
//	@Tags			export
//	@Produce		application/pdf
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{file}		binary
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/export [get]
func (e *DownloadExportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	sess, err := svc.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	path, err := sess.ExportPath()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "export file missing")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, filepath.Base(path), fileInfo.ModTime(), file)
}

func (e *DownloadExportEndpoint) Command(getServerURL func() string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <session_id>",
		Short: "Download the last export of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = args[0] + ".pdf"
			}
			return downloadTo(cmd, getServerURL(), sessionPath(args[0])+"/export", out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "f", "", "Output file (default: <session_id>.pdf)")
	return cmd
}
