package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dylantcon/countertrak/internal/models"
)

// IngestSnapshot handles POST / from the CS2 game state integration
// client. The client blocks on this response before sending the next
// snapshot, so the payload is placed on the manager's dispatch queue and
// the response is written immediately. The queue preserves per-match
// arrival order.
func (h *Handler) IngestSnapshot(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	defer r.Body.Close()

	var snap models.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		h.logger.Warnw("rejected malformed snapshot",
			"remote", r.RemoteAddr, "error", err)
		h.errorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if err := h.validator.Struct(&snap); err != nil {
		h.logger.Warnw("rejected snapshot without auth token", "remote", r.RemoteAddr)
		h.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if !h.tokens.IsValid(r.Context(), snap.Auth.Token) {
		h.logger.Warnw("rejected snapshot with unknown auth token",
			"remote", r.RemoteAddr, "token", redactToken(snap.Auth.Token))
		h.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	// Menu payloads and shed snapshots still get a 200; the client keeps
	// posting full state either way.
	h.manager.Enqueue(&snap)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// redactToken keeps enough of a token to correlate log lines without
// making the logs a credential store.
func redactToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
