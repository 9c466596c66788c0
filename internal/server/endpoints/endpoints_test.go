package endpoints

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/pages"
	"github.com/jackzampolin/straighten/internal/providers"
	"github.com/jackzampolin/straighten/internal/raster"
	"github.com/jackzampolin/straighten/internal/rectify"
	"github.com/jackzampolin/straighten/internal/session"
	"github.com/jackzampolin/straighten/internal/svcctx"
)

type testEnv struct {
	t        *testing.T
	handler  http.Handler
	sessions *session.Service
	detector *providers.MockDetector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	detector := providers.NewMockDetector()
	holder := providers.NewHolder(detector, nil, logger)
	svc := session.NewService(session.Config{
		Detectors: holder,
		ExportDir: t.TempDir(),
		Logger:    logger,
	})
	services := &svcctx.Services{Sessions: svc, Detectors: holder, Logger: logger}

	reg := api.NewRegistry()
	for _, ep := range All(Config{}) {
		reg.Register(ep)
	}
	mux := http.NewServeMux()
	reg.RegisterRoutes(mux, func(h http.HandlerFunc) http.HandlerFunc { return h })

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	})
	return &testEnv{t: t, handler: handler, sessions: svc, detector: detector}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) newSession(n int) *session.Session {
	imgs := make([]*raster.Image, n)
	for i := range imgs {
		imgs[i] = raster.Filled(200, 150, color.RGBA{R: 230, G: 225, B: 215, A: 255})
	}
	return e.sessions.CreateFromImages("scan", imgs)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/api/health", "/ready"} {
		rec := env.do("GET", path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	rec := env.do("GET", "/status", nil)
	status := decode[StatusResponse](t, rec)
	if status.Detector.Name != providers.MockDetectorName {
		t.Errorf("detector = %q, want mock", status.Detector.Name)
	}
}

func TestReadyEndpoint_NotInitialized(t *testing.T) {
	rec := httptest.NewRecorder()
	(&ReadyEndpoint{}).handler(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	resp := decode[HealthResponse](t, rec)
	if resp.Detector != "not_initialized" {
		t.Errorf("detector = %q", resp.Detector)
	}
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(3)

	list := decode[ListSessionsResponse](t, env.do("GET", "/api/sessions", nil))
	if list.Total != 1 || list.Sessions[0].ID != sess.ID {
		t.Fatalf("list = %+v", list)
	}

	info := decode[session.Info](t, env.do("GET", sessionPath(sess.ID), nil))
	if info.TotalPages != 3 {
		t.Errorf("total_pages = %d, want 3", info.TotalPages)
	}

	pagesResp := decode[ListPagesResponse](t, env.do("GET", sessionPath(sess.ID)+"/pages", nil))
	if pagesResp.TotalPages != 3 || pagesResp.Pages[2].Page != 3 {
		t.Errorf("pages = %+v", pagesResp)
	}

	if rec := env.do("DELETE", sessionPath(sess.ID), nil); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE = %d, want 204", rec.Code)
	}
	if rec := env.do("GET", sessionPath(sess.ID), nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET deleted session = %d, want 404", rec.Code)
	}
}

func TestRectifyPageEndpoint(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(2)

	t.Run("detector", func(t *testing.T) {
		rec := env.do("POST", pagePath(sess.ID, 1)+"/rectify", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[RectifyPageResponse](t, rec)
		if resp.Detection == nil || resp.Plan == nil {
			t.Fatal("expected detection and plan")
		}
		if resp.Page.History != 1 {
			t.Errorf("history = %d, want 1", resp.Page.History)
		}
		if resp.Page.Width != resp.Plan.Crop.Dx() || resp.Page.Height != resp.Plan.Crop.Dy() {
			t.Errorf("page %dx%d does not match crop %v", resp.Page.Width, resp.Page.Height, resp.Plan.Crop)
		}
	})

	t.Run("manual corners", func(t *testing.T) {
		body := RectifyPageRequest{Corners: &rectify.CornerSet{
			TopLeft:     &rectify.Point{X: 20, Y: 10},
			TopRight:    &rectify.Point{X: 180, Y: 14},
			BottomLeft:  &rectify.Point{X: 18, Y: 140},
			BottomRight: &rectify.Point{X: 178, Y: 144},
		}}
		before := env.detector.Requests()
		rec := env.do("POST", pagePath(sess.ID, 2)+"/rectify", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if env.detector.Requests() != before {
			t.Error("detector called despite manual corners")
		}
	})

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"bad page", sessionPath(sess.ID) + "/pages/zero/rectify", nil, http.StatusBadRequest},
		{"missing page", pagePath(sess.ID, 9) + "/rectify", nil, http.StatusNotFound},
		{"missing session", pagePath("nope", 1) + "/rectify", nil, http.StatusNotFound},
		{
			"missing corner",
			pagePath(sess.ID, 1) + "/rectify",
			map[string]any{"corners": map[string]any{"top_left": map[string]float64{"x": 0.1, "y": 0.1}}},
			http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do("POST", tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRectifyPageEndpoint_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(1)
	env.detector.Err = &providers.DetectionError{Provider: "mock", Kind: providers.ErrCredentialInvalid, Err: errors.New("401")}

	rec := env.do("POST", pagePath(sess.ID, 1)+"/rectify", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", rec.Code, rec.Body.String())
	}
	snap, err := env.sessions.Page(sess.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if snap.HistoryLen != 0 {
		t.Error("failed rectification changed the page")
	}
}

func TestPageEditEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(1)

	rec := env.do("POST", pagePath(sess.ID, 1)+"/rotate", RotatePageRequest{Degrees: 90})
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate = %d: %s", rec.Code, rec.Body.String())
	}
	if page := decode[PageResponse](t, rec); page.Rotation != 90 {
		t.Errorf("rotation = %v, want 90", page.Rotation)
	}

	rec = env.do("GET", pagePath(sess.ID, 1)+"/image?rotated=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("image = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	img, err := raster.Decode(rec.Body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Width() != 150 || img.Height() != 200 {
		t.Errorf("rotated image %dx%d, want 150x200", img.Width(), img.Height())
	}

	if rec := env.do("POST", pagePath(sess.ID, 1)+"/background", nil); rec.Code != http.StatusOK {
		t.Fatalf("background = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := env.do("POST", pagePath(sess.ID, 1)+"/undo", nil); rec.Code != http.StatusOK {
		t.Fatalf("undo = %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do("POST", pagePath(sess.ID, 1)+"/undo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second undo = %d: %s", rec.Code, rec.Body.String())
	}
	if page := decode[PageResponse](t, rec); page.Rotation != 0 || page.History != 0 {
		t.Errorf("after undo: %+v", page)
	}
	if rec := env.do("POST", pagePath(sess.ID, 1)+"/undo", nil); rec.Code != http.StatusNotFound {
		t.Errorf("undo with empty history = %d, want 404", rec.Code)
	}
}

func TestBatchEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(5)
	env.detector.FailOn = map[int]error{
		4: &providers.DetectionError{Provider: "mock", Kind: providers.ErrNoResultParsed, Err: errors.New("garbage")},
	}

	if rec := env.do("GET", sessionPath(sess.ID)+"/batch", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status before any batch = %d, want 404", rec.Code)
	}
	if rec := env.do("POST", sessionPath(sess.ID)+"/batch", map[string]int{"batch_size": -1}); rec.Code != http.StatusBadRequest {
		t.Errorf("negative batch size = %d, want 400", rec.Code)
	}

	rec := env.do("POST", sessionPath(sess.ID)+"/batch", StartBatchRequest{BatchSize: 2})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start = %d: %s", rec.Code, rec.Body.String())
	}

	var status BatchStatusResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status = decode[BatchStatusResponse](t, env.do("GET", sessionPath(sess.ID)+"/batch", nil))
		if status.Finished {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !status.Finished {
		t.Fatal("batch did not finish")
	}
	if status.Batches != 3 || status.Completed != 5 || status.Succeeded != 4 {
		t.Errorf("status = %+v", status.Status)
	}
	if len(status.Failures) != 1 || status.Failures[0].Page != 4 {
		t.Errorf("failures = %+v", status.Failures)
	}
}

func TestBatchEndpoints_Conflict(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(2)
	env.detector.Latency = 200 * time.Millisecond

	if rec := env.do("POST", sessionPath(sess.ID)+"/batch", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("start = %d", rec.Code)
	}
	if rec := env.do("POST", sessionPath(sess.ID)+"/batch", nil); rec.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", rec.Code)
	}
	if rec := env.do("POST", pagePath(sess.ID, 1)+"/rotate", RotatePageRequest{Degrees: 90}); rec.Code != http.StatusConflict {
		t.Errorf("rotate during batch = %d, want 409", rec.Code)
	}
}

func TestExportEndpoints(t *testing.T) {
	env := newTestEnv(t)
	sess := env.newSession(2)

	if rec := env.do("GET", sessionPath(sess.ID)+"/export", nil); rec.Code != http.StatusNotFound {
		t.Errorf("download before export = %d, want 404", rec.Code)
	}

	rec := env.do("POST", sessionPath(sess.ID)+"/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[ExportResponse](t, rec)
	if !strings.HasSuffix(resp.Path, ".pdf") {
		t.Errorf("path = %q", resp.Path)
	}

	rec = env.do("GET", resp.DownloadURL, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download = %d", rec.Code)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("download is not a PDF")
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("PUT", "/api/settings", UpdateSettingsRequest{BatchSize: 7})
	if rec.Code != http.StatusOK {
		t.Fatalf("update = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[session.Settings](t, rec); got.BatchSize != 7 {
		t.Errorf("batch size = %d, want 7", got.BatchSize)
	}
	if rec := env.do("PUT", "/api/settings", UpdateSettingsRequest{PaddingRatio: 0.7}); rec.Code != http.StatusBadRequest {
		t.Errorf("padding 0.7 = %d, want 400", rec.Code)
	}

	list := decode[SettingsResponse](t, env.do("GET", "/api/settings", nil))
	if list.Runtime.BatchSize != 7 {
		t.Errorf("runtime batch size = %d", list.Runtime.BatchSize)
	}

	tests := []struct {
		key  string
		want int
	}{
		{"pipeline.batch_size", http.StatusOK},
		{"pipeline.unknown", http.StatusNotFound},
		{"bad key!", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := env.do("GET", "/api/settings/"+strings.ReplaceAll(tt.key, " ", "%20"), nil); rec.Code != tt.want {
			t.Errorf("GET setting %q = %d, want %d", tt.key, rec.Code, tt.want)
		}
	}

	defaults := decode[[]map[string]any](t, env.do("GET", "/api/defaults?prefix=detector.", nil))
	if len(defaults) == 0 {
		t.Fatal("no detector defaults")
	}
	for _, d := range defaults {
		if !strings.HasPrefix(d["key"].(string), "detector.") {
			t.Errorf("unexpected key %v", d["key"])
		}
	}
}

func TestCredentialsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do("PUT", "/api/credentials", CredentialsRequest{APIKey: "  "}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank key = %d, want 400", rec.Code)
	}
	rec := env.do("PUT", "/api/credentials", CredentialsRequest{APIKey: "sk-new"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set = %d", rec.Code)
	}
	if !decode[CredentialsResponse](t, rec).Valid {
		t.Error("credentials not valid after set")
	}
	if key, _ := env.sessions.Detectors().Credentials().Get(); key != "sk-new" {
		t.Errorf("stored key = %q", key)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrSessionNotFound, http.StatusNotFound},
		{pages.ErrNothingToUndo, http.StatusNotFound},
		{session.ErrBatchRunning, http.StatusConflict},
		{pages.ErrLeased, http.StatusConflict},
		{rectify.ErrInvalidCoordinateShape, http.StatusUnprocessableEntity},
		{&providers.DetectionError{Provider: "x", Kind: providers.ErrCredentialInvalid, Err: errors.New("401")}, http.StatusUnauthorized},
		{rectify.ErrDegenerateCropRegion, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: %q", session.ErrInvalidTitle, ".."), http.StatusUnprocessableEntity},
		{session.ErrNoDetector, http.StatusServiceUnavailable},
		{&providers.DetectionError{Provider: "x", Kind: providers.ErrUpstreamDetectionFailed, Err: errors.New("500")}, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSwaggerEndpoint_RouteIndex(t *testing.T) {
	env := newTestEnv(t)

	spec := decode[struct {
		OpenAPI string                               `json:"openapi"`
		Paths   map[string]map[string]map[string]any `json:"paths"`
	}](t, env.do("GET", "/swagger.json", nil))

	if spec.OpenAPI == "" {
		t.Error("openapi version missing")
	}
	tests := []struct {
		path, method string
	}{
		{"/api/upload", "post"},
		{"/api/sessions/{id}/batch", "post"},
		{"/api/sessions/{id}/batch", "get"},
		{"/api/sessions/{id}/pages/{page}/rectify", "post"},
		{"/api/settings/{key}", "get"},
	}
	for _, tt := range tests {
		if _, ok := spec.Paths[tt.path][tt.method]; !ok {
			t.Errorf("%s %s missing from route index", tt.method, tt.path)
		}
	}
	params, _ := spec.Paths["/api/sessions/{id}/pages/{page}/rectify"]["post"]["parameters"].([]any)
	if len(params) != 2 {
		t.Errorf("rectify parameters = %v, want id and page", params)
	}
}
