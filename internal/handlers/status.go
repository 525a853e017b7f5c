package handlers

import (
	"net/http"
)

// Status handles GET /status with a live view of the server: active
// matches with their summaries plus the token cache state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"running":        true,
		"active_matches": h.manager.ActiveMatches(),
		"matches":        h.manager.Summaries(),
		"token_cache":    h.tokens.Stats(),
	})
}
