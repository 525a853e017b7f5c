package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dylantcon/countertrak/internal/auth"
	"github.com/dylantcon/countertrak/internal/models"
)

func TestStatusReportsLiveMatches(t *testing.T) {
	router := newFakeRouter()
	router.summaries = []models.MatchSummary{
		{MatchID: "de_dust2_competitive_1_uuid", Map: "de_dust2", Phase: "live", Round: 5, ScoreCT: 3, ScoreT: 1},
	}
	tokens := &fakeTokens{stats: auth.Status{Initialized: true, TokenCount: 4, LastRefresh: time.Now()}}
	h := newTestHandler(router, tokens)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Running       bool                  `json:"running"`
		ActiveMatches int                   `json:"active_matches"`
		Matches       []models.MatchSummary `json:"matches"`
		TokenCache    auth.Status           `json:"token_cache"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding status body: %v", err)
	}

	if !resp.Running {
		t.Error("running = false")
	}
	if resp.ActiveMatches != 1 || len(resp.Matches) != 1 {
		t.Errorf("active_matches = %d, matches = %d", resp.ActiveMatches, len(resp.Matches))
	}
	if resp.Matches[0].Map != "de_dust2" || resp.Matches[0].Round != 5 {
		t.Errorf("summary = %+v", resp.Matches[0])
	}
	if !resp.TokenCache.Initialized || resp.TokenCache.TokenCount != 4 {
		t.Errorf("token_cache = %+v", resp.TokenCache)
	}
}

func TestHealthAlwaysOK(t *testing.T) {
	h := newTestHandler(newFakeRouter(), &fakeTokens{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v, want ok", resp["status"])
	}
}
