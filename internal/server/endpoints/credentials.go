package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/svcctx"
)

// CredentialsRequest carries a fresh detector API key.
type CredentialsRequest struct {
	APIKey string `json:"api_key"`
}

// CredentialsResponse reports whether the detector has a usable key.
type CredentialsResponse struct {
	Valid bool `json:"valid"`
}

// CredentialsEndpoint handles PUT /api/credentials.
type CredentialsEndpoint struct{}

var _ api.Endpoint = (*CredentialsEndpoint)(nil)

func (e *CredentialsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/credentials", e.handler
}

func (e *CredentialsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Set detector credentials
//	@Description	Replace the detector API key, e.g. after a 401 from the vision service
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CredentialsRequest	true	"API key"
//	@Success		200		{object}	CredentialsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/credentials [put]
func (e *CredentialsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	svc := svcctx.SessionsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "session service not initialized")
		return
	}
	svc.SetCredentials(req.APIKey)
	writeJSON(w, http.StatusOK, CredentialsResponse{Valid: svc.Detectors().Credentials().Valid()})
}

func (e *CredentialsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var fromEnv string
	cmd := &cobra.Command{
		Use:   "credentials [api_key]",
		Short: "Set the detector API key on the running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			switch {
			case len(args) == 1:
				key = args[0]
			case fromEnv != "":
				key = os.Getenv(fromEnv)
				if key == "" {
					return fmt.Errorf("%s is not set", fromEnv)
				}
			default:
				return fmt.Errorf("pass an API key or --from-env")
			}
			client := api.NewClient(getServerURL())
			var resp CredentialsResponse
			if err := client.Put(cmd.Context(), "/api/credentials", CredentialsRequest{APIKey: key}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "Read the key from this environment variable")
	return cmd
}
