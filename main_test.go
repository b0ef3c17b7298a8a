package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/wricardo/wellmap/game/config"
	"github.com/wricardo/wellmap/transport/export"
	"github.com/wricardo/wellmap/transport/mcp"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName == "" {
		t.Error("AppName should not be empty")
	}
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	defs := filepath.Join(dir, "definitions")
	if err := os.Mkdir(defs, 0755); err != nil {
		t.Fatal(err)
	}

	s := config.DefaultSettings()
	s.Definitions.Dir = defs
	s.Storage.Backend = "memory"
	s.Export.File = filepath.Join(dir, "nodes-out.json")
	return s
}

func TestInitializeServices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := initializeServices(ctx, testSettings(t), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	defer svc.Close()

	if svc.maps == nil || svc.sessions == nil || svc.configs == nil {
		t.Fatal("Expected services to be initialized")
	}

	info, err := svc.maps.CreateSession(ctx, "", false)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if info.TotalTiles != 256 {
		t.Errorf("Expected default 16x16 world, got %d tiles", info.TotalTiles)
	}
}

func TestInitializeServices_InvalidDefinitionsDir(t *testing.T) {
	s := testSettings(t)
	s.Definitions.Dir = "/non/existent/path"

	if _, err := initializeServices(context.Background(), s, zap.NewNop()); err == nil {
		t.Error("Expected error for non-existent definitions directory")
	}
}

func TestInitializeServices_FileStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := testSettings(t)
	s.Storage.Backend = "file"
	s.Storage.Dir = filepath.Join(t.TempDir(), "sessions")

	svc, err := initializeServices(ctx, s, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	if _, err := svc.maps.CreateSession(ctx, "persisted", false); err != nil {
		t.Fatal(err)
	}
	svc.Close()

	// A second process sees the same session
	again, err := initializeServices(ctx, s, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if _, err := again.maps.GetSession(ctx, "persisted"); err != nil {
		t.Errorf("Expected persisted session, got %v", err)
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	_, _, err := openStore(context.Background(), config.StorageSettings{Backend: "redis"}, zap.NewNop())
	if err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNewSink(t *testing.T) {
	if _, ok := newSink(config.ExportSettings{URL: "http://example.com/nodes"}, zap.NewNop()).(*export.HTTPSink); !ok {
		t.Error("Expected HTTP sink when a URL is set")
	}
	if _, ok := newSink(config.ExportSettings{File: "nodes.json"}, zap.NewNop()).(*export.FileSink); !ok {
		t.Error("Expected file sink when only a file is set")
	}
	if sink := newSink(config.ExportSettings{}, zap.NewNop()); sink != nil {
		t.Error("Expected no sink when nothing is configured")
	}
}

func TestLoadSettings_Missing(t *testing.T) {
	s, err := loadSettings(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got %v", err)
	}
	if s.Server.Port != "8080" {
		t.Errorf("Expected default port, got %s", s.Server.Port)
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		log, err := newLogger(config.LoggingSettings{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("%s logger: %v", format, err)
		}
		if !log.Core().Enabled(zap.DebugLevel) {
			t.Errorf("%s logger should enable debug", format)
		}
	}

	log, err := newLogger(config.LoggingSettings{Level: "bogus"})
	if err != nil {
		t.Fatal(err)
	}
	if log.Core().Enabled(zap.DebugLevel) {
		t.Error("Unknown level should fall back to info")
	}
}

func TestMCPEndpoint(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router := newRouter(api, mcp.NewClient("http://localhost:0"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/mcp", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET /mcp, got %d", w.Code)
	}

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/mcp", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /mcp, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "map_tiles") {
		t.Errorf("Expected tool list, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/anything", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected API handler at root, got %d", w.Code)
	}
}

// trackedBody records whether the response body was closed
type trackedBody struct {
	io.Reader
	closed bool
}

func (b *trackedBody) Close() error {
	b.closed = true
	return nil
}

type stubTransport struct {
	status int
	body   *trackedBody
}

func (s *stubTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	s.body = &trackedBody{Reader: strings.NewReader("{}")}
	return &http.Response{StatusCode: s.status, Body: s.body, Header: make(http.Header), Request: r}, nil
}

func TestAPIAnswers(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "healthy", status: http.StatusOK, want: true},
		{name: "client error still answers", status: http.StatusNotFound, want: true},
		{name: "server error", status: http.StatusServiceUnavailable, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &stubTransport{status: tt.status}
			client := &http.Client{Transport: transport}

			if got := apiAnswers(client, "http://api.test"); got != tt.want {
				t.Errorf("apiAnswers() = %v, want %v", got, tt.want)
			}
			if transport.body == nil || !transport.body.closed {
				t.Error("Expected the health response body to be closed")
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()
		if apiAnswers(&http.Client{}, url) {
			t.Error("Expected a closed server not to answer")
		}
	})
}
