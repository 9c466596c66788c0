package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/ingest"
	"github.com/jackzampolin/straighten/internal/svcctx"
)

// maxUploadSize bounds the request body of an upload.
const maxUploadSize = 500 << 20 // 500MB

// UploadResponse is the response for a PDF upload.
type UploadResponse struct {
	Success    bool        `json:"success"`
	SessionID  string      `json:"session_id"`
	Title      string      `json:"title"`
	TotalPages int         `json:"total_pages"`
	Images     []PageImage `json:"images"`
}

// PageImage locates one rendered page.
type PageImage struct {
	Page     int    `json:"page"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	ImageURL string `json:"image_url"`
}

// UploadEndpoint handles POST /api/upload with a multipart PDF.
type UploadEndpoint struct{}

var _ api.Endpoint = (*UploadEndpoint)(nil)

func (e *UploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/upload", e.handler
}

func (e *UploadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload a PDF
//	@Description	Rasterize every page of a PDF and open a session over them
//	@Tags			sessions
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"PDF file"
//	@Param			title	formData	string	false	"Session title (derived from filename if not provided)"
//	@Success		200		{object}	UploadResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/upload [post]
func (e *UploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no file uploaded: %v", err))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	if err := ingest.CheckFilename(fh.Filename); err != nil {
		writeError(w, http.StatusBadRequest, "only PDF files are accepted")
		return
	}

	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	logger := svcctx.LoggerFrom(r.Context())

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	// The original PDF is kept under the uploads directory.
	if homeDir := svcctx.HomeFrom(r.Context()); homeDir != nil {
		dest := homeDir.NewUploadPath(fh.Filename)
		if err := os.WriteFile(dest, data, 0o644); err != nil && logger != nil {
			logger.Warn("failed to keep uploaded file", "path", dest, "error", err)
		}
	}

	title := r.FormValue("title")
	if title == "" {
		title = ingest.DeriveTitle(fh.Filename)
	}

	sess, err := svc.Create(r.Context(), title, data, nil)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := UploadResponse{
		Success:    true,
		SessionID:  sess.ID,
		Title:      sess.Title,
		TotalPages: sess.Pages.Len(),
	}
	for _, snap := range sess.Pages.Snapshots() {
		resp.Images = append(resp.Images, PageImage{
			Page:     snap.Index,
			Width:    snap.Width(),
			Height:   snap.Height(),
			ImageURL: pageImageURL(sess.ID, snap.Index),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *UploadEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a PDF and open a session over its pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ingest.CheckFilename(args[0]); err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp UploadResponse
			if err := client.Upload(cmd.Context(), "/api/upload", "file", args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

func pageImageURL(sessionID string, page int) string {
	return fmt.Sprintf("/api/sessions/%s/pages/%d/image", sessionID, page)
}
