package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"simpleproxy-go/internal/config"
	"simpleproxy-go/internal/router"
)

func testTable(t *testing.T) *router.Table {
	t.Helper()
	tbl, err := router.New(&config.Config{Routes: []config.RouteConfig{
		{Host: "a.example", Upstream: "http://127.0.0.1:9001"},
		{Upstream: "http://127.0.0.1:9002"},
	}})
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	return tbl
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&config.Config{}, testTable(t), "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cfg := &config.Config{
		Listeners: []config.ListenerConfig{{Host: "0.0.0.0", Port: 8080}},
	}
	h := NewHealthHandler(cfg, testTable(t), "1.2.3")
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body.status = %q, want %q", body["status"], "ok")
	}
	if body["version"] != "1.2.3" {
		t.Errorf("body.version = %q, want %q", body["version"], "1.2.3")
	}
	if body["routes"] != "2" {
		t.Errorf("body.routes = %q, want %q", body["routes"], "2")
	}
	if body["listeners"] != "1" {
		t.Errorf("body.listeners = %q, want %q", body["listeners"], "1")
	}
}
