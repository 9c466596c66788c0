package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/export"
	"github.com/jackzampolin/straighten/internal/pages"
	"github.com/jackzampolin/straighten/internal/providers"
	"github.com/jackzampolin/straighten/internal/rectify"
	"github.com/jackzampolin/straighten/internal/svcctx"
)

// PageResponse describes the current state of one page.
type PageResponse struct {
	Page      int     `json:"page"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Rotation  float64 `json:"rotation"`
	History   int     `json:"history"`
	LastError string  `json:"last_error,omitempty"`
	ImageURL  string  `json:"image_url"`
}

func newPageResponse(sessionID string, snap pages.Snapshot) PageResponse {
	return PageResponse{
		Page:      snap.Index,
		Width:     snap.Width(),
		Height:    snap.Height(),
		Rotation:  snap.Rotation,
		History:   snap.HistoryLen,
		LastError: snap.LastError,
		ImageURL:  pageImageURL(sessionID, snap.Index),
	}
}

// ListPagesResponse is the response for listing pages.
type ListPagesResponse struct {
	Pages      []PageResponse `json:"pages"`
	TotalPages int            `json:"total_pages"`
}

// ListPagesEndpoint handles GET /api/sessions/{id}/pages.
type ListPagesEndpoint struct{}

var _ api.Endpoint = (*ListPagesEndpoint)(nil)

func (e *ListPagesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{id}/pages", e.handler
}

func (e *ListPagesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List pages
//	@Description	List every page of a session with size, rotation, history depth and last error
//	@Tags			pages
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	ListPagesResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/pages [get]
func (e *ListPagesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	id := r.PathValue("id")
	snaps, err := svc.Pages(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := ListPagesResponse{Pages: make([]PageResponse, len(snaps)), TotalPages: len(snaps)}
	for i, snap := range snaps {
		resp.Pages[i] = newPageResponse(id, snap)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListPagesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "pages <session_id>",
		Short: "List the pages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListPagesResponse
			if err := client.Get(cmd.Context(), sessionPath(args[0])+"/pages", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// PageImageEndpoint handles GET /api/sessions/{id}/pages/{page}/image.
type PageImageEndpoint struct{}

var _ api.Endpoint = (*PageImageEndpoint)(nil)

func (e *PageImageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{id}/pages/{page}/image", e.handler
}

func (e *PageImageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get page image
//	@Description	Get the current raster of a page as PNG. With rotated=true the rotation offset is applied.
//	@Tags			pages
//	@Produce		image/png
//	@Param			id		path		string	true	"Session ID"
//	@Param			page	path		int		true	"Page number (1-indexed)"
//	@Param			rotated	query		bool	false	"Apply the rotation offset"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/sessions/{id}/pages/{page}/image [get]
func (e *PageImageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, page, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	snap, err := svc.Page(id, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	img := snap.Image
	if rotated, _ := strconv.ParseBool(r.URL.Query().Get("rotated")); rotated {
		if img, err = export.ApplyRotation(img, snap.Rotation); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	data, err := img.PNG()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (e *PageImageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		out     string
		rotated bool
	)
	cmd := &cobra.Command{
		Use:   "image <session_id> <page>",
		Short: "Download the current PNG of a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := parsePageArg(args[1])
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("page_%04d.png", page)
			}
			path := pagePath(args[0], page) + "/image"
			if rotated {
				path += "?rotated=true"
			}
			return downloadTo(cmd, getServerURL(), path, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "f", "", "Output file (default: page_NNNN.png)")
	cmd.Flags().BoolVar(&rotated, "rotated", false, "Apply the rotation offset")
	return cmd
}

// RectifyPageRequest is the body of a single-page rectification.
type RectifyPageRequest struct {
	// Corners, when set, are used instead of calling the detector.
	// Values in [0,1] are ratios of the page size; anything else is pixels.
	Corners *rectify.CornerSet `json:"corners,omitempty"`
}

// RectifyPageResponse is the result of a single-page rectification.
type RectifyPageResponse struct {
	Page      PageResponse               `json:"page"`
	Plan      *rectify.Plan              `json:"plan"`
	Detection *providers.DetectionResult `json:"detection,omitempty"`
}

// RectifyPageEndpoint handles POST /api/sessions/{id}/pages/{page}/rectify.
type RectifyPageEndpoint struct{}

var _ api.Endpoint = (*RectifyPageEndpoint)(nil)

func (e *RectifyPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/pages/{page}/rectify", e.handler
}

func (e *RectifyPageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Rectify a page
//	@Description	Straighten and crop one page. Without corners the detector locates them first.
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session ID"
//	@Param			page	path		int					true	"Page number (1-indexed)"
//	@Param			request	body		RectifyPageRequest	false	"Manual corners"
//	@Success		200		{object}	RectifyPageResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Failure		502		{object}	ErrorResponse
//	@Router			/api/sessions/{id}/pages/{page}/rectify [post]
func (e *RectifyPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, page, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req RectifyPageRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}

	res, err := svc.RectifyPage(r.Context(), id, page, req.Corners)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RectifyPageResponse{
		Page:      newPageResponse(id, res.Page),
		Plan:      res.Plan,
		Detection: res.Detection,
	})
}

func (e *RectifyPageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var cornersFile string
	cmd := &cobra.Command{
		Use:   "rectify <session_id> <page>",
		Short: "Straighten one page (detector corners, or --corners file)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := parsePageArg(args[1])
			if err != nil {
				return err
			}
			var req RectifyPageRequest
			if cornersFile != "" {
				data, err := os.ReadFile(cornersFile)
				if err != nil {
					return err
				}
				req.Corners = &rectify.CornerSet{}
				if err := json.Unmarshal(data, req.Corners); err != nil {
					return fmt.Errorf("invalid corners file: %w", err)
				}
			}
			client := api.NewClient(getServerURL())
			var resp RectifyPageResponse
			if err := client.Post(cmd.Context(), pagePath(args[0], page)+"/rectify", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&cornersFile, "corners", "", "JSON file with top_left, top_right, bottom_left, bottom_right")
	return cmd
}

// RotatePageRequest is the body of a rotation.
type RotatePageRequest struct {
	Degrees float64 `json:"degrees"`
}

// RotatePageEndpoint handles POST /api/sessions/{id}/pages/{page}/rotate.
type RotatePageEndpoint struct{}

var _ api.Endpoint = (*RotatePageEndpoint)(nil)

func (e *RotatePageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/pages/{page}/rotate", e.handler
}

func (e *RotatePageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Rotate a page
//	@Description	Add degrees (clockwise) to the page's rotation offset, applied at export
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session ID"
//	@Param			page	path		int					true	"Page number (1-indexed)"
//	@Param			request	body		RotatePageRequest	true	"Rotation"
//	@Success		200		{object}	PageResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/sessions/{id}/pages/{page}/rotate [post]
func (e *RotatePageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, page, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req RotatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	snap, err := svc.Rotate(id, page, req.Degrees)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(id, snap))
}

func (e *RotatePageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <session_id> <page> <degrees>",
		Short: "Rotate a page clockwise by degrees",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := parsePageArg(args[1])
			if err != nil {
				return err
			}
			degrees, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid degrees %q: %w", args[2], err)
			}
			client := api.NewClient(getServerURL())
			var resp PageResponse
			if err := client.Post(cmd.Context(), pagePath(args[0], page)+"/rotate", RotatePageRequest{Degrees: degrees}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// PageBackgroundEndpoint handles POST /api/sessions/{id}/pages/{page}/background.
type PageBackgroundEndpoint struct{}

var _ api.Endpoint = (*PageBackgroundEndpoint)(nil)

func (e *PageBackgroundEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/pages/{page}/background", e.handler
}

func (e *PageBackgroundEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Remove page background
//	@Description	Whiten the paper around the page content
//	@Tags			pages
//	@Produce		json
//	@Param			id		path		string	true	"Session ID"
//	@Param			page	path		int		true	"Page number (1-indexed)"
//	@Success		200		{object}	PageResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/sessions/{id}/pages/{page}/background [post]
func (e *PageBackgroundEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, page, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	snap, err := svc.RemoveBackground(r.Context(), id, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(id, snap))
}

func (e *PageBackgroundEndpoint) Command(getServerURL func() string) *cobra.Command {
	return pageActionCommand(getServerURL, "background", "Whiten the paper background of a page")
}

// UndoPageEndpoint handles POST /api/sessions/{id}/pages/{page}/undo.
type UndoPageEndpoint struct{}

var _ api.Endpoint = (*UndoPageEndpoint)(nil)

func (e *UndoPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/pages/{page}/undo", e.handler
}

func (e *UndoPageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Undo the last page edit
//	@Tags			pages
//	@Produce		json
//	@Param			id		path		string	true	"Session ID"
//	@Param			page	path		int		true	"Page number (1-indexed)"
//	@Success		200		{object}	PageResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/sessions/{id}/pages/{page}/undo [post]
func (e *UndoPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, page, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	snap, err := svc.Undo(id, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPageResponse(id, snap))
}

func (e *UndoPageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return pageActionCommand(getServerURL, "undo", "Undo the last edit of a page")
}

// pageActionCommand builds a command that POSTs to a bodiless page action.
func pageActionCommand(getServerURL func() string, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <session_id> <page>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := parsePageArg(args[1])
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp PageResponse
			if err := client.Post(cmd.Context(), pagePath(args[0], page)+"/"+action, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// decodeOptionalJSON decodes r's body into v, accepting an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// downloadTo writes the body of GET path to the file out.
func downloadTo(cmd *cobra.Command, serverURL, path, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	client := api.NewClient(serverURL)
	if err := client.Download(cmd.Context(), path, f); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", out)
	return nil
}
