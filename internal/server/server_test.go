package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"backend-pushupcounter/internal/auth"
	"backend-pushupcounter/internal/config"
)

func TestHealthRoute(t *testing.T) {
	s := NewServer(config.Config{JWTSecret: "secret", ServerPort: ":0"}, nil, nil, nil, nil)
	defer s.Close()

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestRoutesWired(t *testing.T) {
	dir := t.TempDir()
	s := NewServer(config.Config{JWTSecret: "secret", OutputDir: dir}, nil, nil, nil, nil)
	defer s.Close()

	if err := s.Storage.Init(); err != nil {
		t.Fatalf("init storage: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "outputs", "processed_x.mp4"), []byte("v"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/video/processed_x.mp4", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected public video route, got %v %v", resp.StatusCode, err)
	}

	resp, err = s.App.Test(httptest.NewRequest(http.MethodPost, "/process_video", nil))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected upload to require a token, got %v %v", resp.StatusCode, err)
	}

	token, _ := auth.SignToken("secret", "user-1", time.Minute)
	req := httptest.NewRequest(http.MethodPost, "/process_video", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = s.App.Test(req)
	if err != nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected missing file error, got %v %v", resp.StatusCode, err)
	}

	resp, err = s.App.Test(httptest.NewRequest(http.MethodGet, "/stream/ws/abc", nil))
	if err != nil || resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected websocket route, got %v %v", resp.StatusCode, err)
	}
}

func TestCORSHeaders(t *testing.T) {
	s := NewServer(config.Config{}, nil, nil, nil, nil)
	defer s.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected cors header")
	}
}
