package endpoints

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/batch"
	"github.com/jackzampolin/straighten/internal/session"
	"github.com/jackzampolin/straighten/internal/svcctx"
)

// StartBatchRequest is the body of a batch start. Both fields are optional.
type StartBatchRequest = session.BatchOptions

// BatchStatusResponse reports the latest batch of a session.
type BatchStatusResponse struct {
	SessionID    string `json:"session_id" yaml:"session_id"`
	batch.Status `yaml:",inline"`
}

// StartBatchEndpoint handles POST /api/sessions/{id}/batch.
type StartBatchEndpoint struct{}

var _ api.Endpoint = (*StartBatchEndpoint)(nil)

func (e *StartBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/batch", e.handler
}

func (e *StartBatchEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start a batch
//	@Description	Detect and rectify the listed pages (default: all) in the background, batch_size pages at a time
//	@Tags			batch
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session ID"
//	@Param			request	body		StartBatchRequest	false	"Batch options"
//	@Success		202		{object}	BatchStatusResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/sessions/{id}/batch [post]
func (e *StartBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req StartBatchRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, "batch_size must not be negative")
		return
	}
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}

	status, err := svc.StartBatch(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, BatchStatusResponse{SessionID: id, Status: status})
}

func (e *StartBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		req  StartBatchRequest
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "start <session_id>",
		Short: "Rectify every page (or --pages) of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp BatchStatusResponse
			if err := client.Post(ctx, sessionPath(args[0])+"/batch", req, &resp); err != nil {
				return err
			}
			if !wait {
				return api.Output(resp)
			}

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			completed := -1
			for !resp.Finished {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
				if err := client.Get(ctx, sessionPath(args[0])+"/batch", &resp); err != nil {
					return err
				}
				if resp.Completed != completed {
					completed = resp.Completed
					fmt.Printf("batch %d/%d: %d/%d pages\n", resp.Batch, resp.Batches, resp.Completed, resp.Total)
				}
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&req.BatchSize, "batch-size", 0, "Pages rectified concurrently (default: server setting)")
	cmd.Flags().IntSliceVar(&req.Pages, "pages", nil, "Pages to rectify (default: all)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the batch finishes")
	return cmd
}

// BatchStatusEndpoint handles GET /api/sessions/{id}/batch.
type BatchStatusEndpoint struct{}

var _ api.Endpoint = (*BatchStatusEndpoint)(nil)

func (e *BatchStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/sessions/{id}/batch", e.handler
}

func (e *BatchStatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get batch status
//	@Description	Progress of the latest batch: batches done, pages completed, per-page failures
//	@Tags			batch
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	BatchStatusResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/batch [get]
func (e *BatchStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	sess, err := svc.Get(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status, err := sess.BatchStatus()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchStatusResponse{SessionID: id, Status: status})
}

func (e *BatchStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session_id>",
		Short: "Get the status of a session's latest batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BatchStatusResponse
			if err := client.Get(cmd.Context(), sessionPath(args[0])+"/batch", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
