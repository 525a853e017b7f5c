package gsi

import (
	"context"
	"time"

	"github.com/dylantcon/countertrak/internal/models"
)

// Store is the persistence surface the match processor writes through.
// Implementations must be idempotent where noted; duplicate-key violations
// on append-only tables are treated as benign no-ops inside the store.
type Store interface {
	MatchExists(ctx context.Context, matchID string) (bool, error)
	CreateMatch(ctx context.Context, matchID string, ms *models.MatchState, start time.Time) error
	UpdateMatch(ctx context.Context, matchID string, ms *models.MatchState) error
	CompleteMatch(ctx context.Context, matchID string, ctScore, tScore, totalRounds int, end time.Time) error

	RoundExists(ctx context.Context, matchID string, round int) (bool, error)
	CreateRound(ctx context.Context, matchID string, round int, phase, winner, condition string, ts time.Time) error
	UpdateRoundWinner(ctx context.Context, matchID string, round int, winner, condition string) error

	// SteamAccountToken returns the auth token of an existing account, or
	// "" when the account is unknown. It never creates accounts.
	SteamAccountToken(ctx context.Context, steamID string) (string, error)

	InsertPlayerRoundState(ctx context.Context, matchID string, round int, ps *models.PlayerState, ts time.Time) error
	InsertPlayerWeapon(ctx context.Context, matchID string, round int, steamID string, w models.WeaponState, ts time.Time) error
	UpsertPlayerMatchStat(ctx context.Context, matchID string, ps *models.PlayerState) error
}

// EventSink receives significant events for analytics. Enqueue must not
// block; events are droppable and never drive persistence.
type EventSink interface {
	Enqueue(ev *models.GameEvent) bool
}

// LiveMirror publishes live match summaries for external readers.
type LiveMirror interface {
	Publish(ctx context.Context, s models.MatchSummary)
	Remove(ctx context.Context, matchID string)
}
