// Package livestate mirrors in-progress match summaries to Redis so other
// services (the web frontend's live page, ops tooling) can read them
// without touching the ingest process.
package livestate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak/internal/models"
)

const (
	liveMatchesKey = "live_matches"
	activeIDsKey   = "active_match_ids"

	opTimeout = 2 * time.Second
)

// Mirror publishes match summaries to Redis. Failures are logged and
// swallowed; the mirror is best-effort and never blocks match processing.
type Mirror struct {
	rdb *redis.Client
	log *zap.SugaredLogger
}

func NewMirror(rdb *redis.Client, logger *zap.SugaredLogger) *Mirror {
	return &Mirror{rdb: rdb, log: logger}
}

// Publish upserts the summary for one live match.
func (m *Mirror) Publish(ctx context.Context, summary models.MatchSummary) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := json.Marshal(summary)
	if err != nil {
		m.log.Warnw("failed to marshal match summary", "match_id", summary.MatchID, "error", err)
		return
	}

	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, liveMatchesKey, summary.MatchID, payload)
	pipe.SAdd(ctx, activeIDsKey, summary.MatchID)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warnw("failed to publish live match state", "match_id", summary.MatchID, "error", err)
	}
}

// Remove drops a completed or retired match from the mirror.
func (m *Mirror) Remove(ctx context.Context, matchID string) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	pipe := m.rdb.Pipeline()
	pipe.HDel(ctx, liveMatchesKey, matchID)
	pipe.SRem(ctx, activeIDsKey, matchID)
	if _, err := pipe.Exec(ctx); err != nil {
		m.log.Warnw("failed to remove live match state", "match_id", matchID, "error", err)
	}
}
