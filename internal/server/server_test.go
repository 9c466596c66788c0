package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackzampolin/straighten/internal/config"
	"github.com/jackzampolin/straighten/internal/home"
	"github.com/jackzampolin/straighten/internal/server/endpoints"
	"github.com/jackzampolin/straighten/internal/testutil"
)

// newTestServer builds a server from a testutil config without starting it.
func newTestServer(t *testing.T, cfg testutil.ServerConfig) *Server {
	t.Helper()
	h, err := home.New(cfg.HomeDir)
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	cm, err := config.NewManager(cfg.ConfigFile, "", cfg.Logger)
	if err != nil {
		t.Fatalf("config.NewManager() error = %v", err)
	}
	srv, err := New(Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Home:          h,
		ConfigManager: cm,
		Logger:        cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func TestServer_FullLifecycle(t *testing.T) {
	cfg := testutil.NewServerConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	srv := newTestServer(t, cfg)

	// Start server in background
	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)

	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	// Wait for server to be ready
	if err := testutil.WaitForServer(cfg.URL(), 10*time.Second); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("health_endpoint", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Status != "ok" {
			t.Errorf("health.Status = %q, want %q", health.Status, "ok")
		}
	})

	t.Run("ready_endpoint", func(t *testing.T) {
		resp, err := http.Get(cfg.URL() + "/ready")
		if err != nil {
			t.Fatalf("ready check failed: %v", err)
		}
		defer resp.Body.Close()

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Status != "ok" || health.Detector != "ok" {
			t.Errorf("ready = %+v", health)
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		status, err := testutil.GetStatus(cfg.URL())
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if status.Server != "running" {
			t.Errorf("server = %q", status.Server)
		}
		if status.Detector.Name != "mock" {
			t.Errorf("detector = %q, want mock", status.Detector.Name)
		}
	})

	t.Run("home_created", func(t *testing.T) {
		for _, dir := range []string{cfg.HomeDir + "/uploads", cfg.HomeDir + "/exports"} {
			if _, err := os.Stat(dir); err != nil {
				t.Errorf("%s not created: %v", dir, err)
			}
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	// Shutdown server
	serverCancel()
	if err := testutil.WaitForShutdown(serverErr, 10*time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
	})
}

func TestServer_RequireInit(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	srv := newTestServer(t, cfg)

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusServiceUnavailable},
		{"/api/sessions", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("GET %s before Start = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestServer_ConfigReload(t *testing.T) {
	cfg := testutil.NewServerConfig(t)
	srv := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	starter := testutil.StartServer{Cancel: cancel, Done: done}
	t.Cleanup(starter.Stop)

	if err := testutil.WaitForServer(cfg.URL(), 10*time.Second); err != nil {
		t.Fatalf("server did not start: %v", err)
	}
	if got := srv.Sessions().Settings().BatchSize; got != 2 {
		t.Fatalf("initial batch size = %d, want 2", got)
	}

	content := "detector:\n  type: mock\npipeline:\n  batch_size: 5\n"
	if err := os.WriteFile(cfg.ConfigFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Sessions().Settings().BatchSize == 5 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("batch size after reload = %d, want 5", srv.Sessions().Settings().BatchSize)
}
