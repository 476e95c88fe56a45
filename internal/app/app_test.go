package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/lukasbauer/medrelay/internal/httpapi"
	"github.com/rs/zerolog"
)

func TestNewWithoutDatabase(t *testing.T) {
	cfg, err := parseConfig(env.Options{Environment: map[string]string{}})
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}

	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	sessions := httpapi.NewSessionRegistry()
	h := a.Router(sessions)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /readyz status = %d, want %d", rec.Code, http.StatusOK)
	}

	sessions.StartDraining()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz while draining status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRejectsBadDatabaseURL(t *testing.T) {
	cfg, err := parseConfig(env.Options{Environment: map[string]string{
		"DATABASE_URL": "not a url ://",
	}})
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Error("New() error = nil, want database error")
	}
}
