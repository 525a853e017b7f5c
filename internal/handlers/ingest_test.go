package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestHandler(router *fakeRouter, tokens *fakeTokens) *Handler {
	return New(Config{
		Manager: router,
		Tokens:  tokens,
		Logger:  zap.NewNop(),
	})
}

func validBody() string {
	return `{
		"auth": {"token": "abc123"},
		"provider": {"steamid": "76561190000000001"},
		"map": {"name": "de_dust2", "mode": "competitive", "phase": "live", "round": 0},
		"round": {"phase": "freezetime"},
		"player": {"steamid": "76561190000000001", "state": {"health": 100}}
	}`
}

func TestIngestSnapshotAccepted(t *testing.T) {
	router := newFakeRouter()
	h := newTestHandler(router, &fakeTokens{valid: map[string]bool{"abc123": true}})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(validBody()))
	rec := httptest.NewRecorder()
	h.IngestSnapshot(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "OK" {
		t.Errorf("body = %q, want OK", body)
	}
	if router.routeCount() != 1 {
		t.Fatalf("enqueued snapshots = %d, want 1", router.routeCount())
	}
}

func TestIngestSnapshotInvalidJSON(t *testing.T) {
	router := newFakeRouter()
	h := newTestHandler(router, &fakeTokens{valid: map[string]bool{"abc123": true}})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"auth": {`))
	rec := httptest.NewRecorder()
	h.IngestSnapshot(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp["error"] != "Invalid JSON" {
		t.Errorf("error = %q, want Invalid JSON", resp["error"])
	}
	if router.routeCount() != 0 {
		t.Error("malformed snapshot was routed")
	}
}

func TestIngestSnapshotMissingToken(t *testing.T) {
	router := newFakeRouter()
	h := newTestHandler(router, &fakeTokens{valid: map[string]bool{"abc123": true}})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"provider": {"steamid": "1"}}`))
	rec := httptest.NewRecorder()
	h.IngestSnapshot(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if router.routeCount() != 0 {
		t.Error("unauthenticated snapshot was routed")
	}
}

func TestIngestSnapshotUnknownToken(t *testing.T) {
	router := newFakeRouter()
	h := newTestHandler(router, &fakeTokens{valid: map[string]bool{}})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(validBody()))
	rec := httptest.NewRecorder()
	h.IngestSnapshot(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if router.routeCount() != 0 {
		t.Error("snapshot with unknown token was routed")
	}
}

func TestIngestSnapshotBodyTooLarge(t *testing.T) {
	router := newFakeRouter()
	h := New(Config{
		Manager:     router,
		Tokens:      &fakeTokens{valid: map[string]bool{"abc123": true}},
		Logger:      zap.NewNop(),
		MaxBodySize: 64,
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(validBody()))
	rec := httptest.NewRecorder()
	h.IngestSnapshot(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if router.routeCount() != 0 {
		t.Error("oversized snapshot was routed")
	}
}

func TestRedactToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abcdef123456", "****3456"},
		{"abcd", "****"},
		{"", "****"},
	}
	for _, tt := range tests {
		if got := redactToken(tt.in); got != tt.want {
			t.Errorf("redactToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
