// Package store implements the relational persistence layer. Column names
// are a stable contract: the analytics SQL used by the stat pages joins on
// them. All writers are idempotent where the schema's unique constraints
// require it; duplicate-key violations on append-only tables are treated
// as benign no-ops, with a composite-key pre-check to keep constraint
// noise out of the database logs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dylantcon/countertrak/internal/models"
)

// DefaultOpTimeout bounds every store call.
const DefaultOpTimeout = 5 * time.Second

const uniqueViolation = "23505"

// PgPool is the subset of pgxpool.Pool the store uses.
type PgPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is the production store. It satisfies gsi.Store and
// auth.AccountSource.
type Postgres struct {
	pg      PgPool
	log     *zap.SugaredLogger
	timeout time.Duration

	weapons *weaponCache
}

// New builds a store over an open pool. Call LoadWeapons before serving
// traffic so weapon-name lookups resolve.
func New(pg *pgxpool.Pool, logger *zap.SugaredLogger, timeout time.Duration) *Postgres {
	return newStore(pg, logger, timeout)
}

func newStore(pg PgPool, logger *zap.SugaredLogger, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return &Postgres{
		pg:      pg,
		log:     logger,
		timeout: timeout,
		weapons: newWeaponCache(logger),
	}
}

func (s *Postgres) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// MatchExists reports whether a match row exists.
func (s *Postgres) MatchExists(ctx context.Context, matchID string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var exists bool
	err := s.pg.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM matches_match WHERE match_id = $1)`,
		matchID).Scan(&exists)
	return exists, err
}

// CreateMatch inserts the match row. A concurrent duplicate insert is a
// no-op; the existing row wins.
func (s *Postgres) CreateMatch(ctx context.Context, matchID string, ms *models.MatchState, start time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.pg.Exec(ctx, `
		INSERT INTO matches_match
			(match_id, game_mode, map_name, start_timestamp, rounds_played, team_ct_score, team_t_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id) DO NOTHING
	`, matchID, ms.Mode, ms.MapName, start.UTC(), ms.Round, ms.TeamCTScore, ms.TeamTScore)
	return err
}

// UpdateMatch refreshes the mutable match fields.
func (s *Postgres) UpdateMatch(ctx context.Context, matchID string, ms *models.MatchState) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.pg.Exec(ctx, `
		UPDATE matches_match
		SET game_mode = $2, map_name = $3, rounds_played = $4,
		    team_ct_score = $5, team_t_score = $6
		WHERE match_id = $1
	`, matchID, ms.Mode, ms.MapName, ms.Round, ms.TeamCTScore, ms.TeamTScore)
	return err
}

// CompleteMatch closes the match with its final scores.
func (s *Postgres) CompleteMatch(ctx context.Context, matchID string, ctScore, tScore, totalRounds int, end time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.pg.Exec(ctx, `
		UPDATE matches_match
		SET team_ct_score = $2, team_t_score = $3, rounds_played = $4, end_timestamp = $5
		WHERE match_id = $1
	`, matchID, ctScore, tScore, totalRounds, end.UTC())
	return err
}

// RoundExists reports whether a round row exists.
func (s *Postgres) RoundExists(ctx context.Context, matchID string, round int) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var exists bool
	err := s.pg.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM matches_round WHERE match_id = $1 AND round_number = $2)`,
		matchID, round).Scan(&exists)
	return exists, err
}

// CreateRound inserts a round row. winner and condition may be empty for
// rounds still in progress. Duplicate inserts for the same
// (match, round_number) are benign no-ops.
func (s *Postgres) CreateRound(ctx context.Context, matchID string, round int, phase, winner, condition string, ts time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.pg.Exec(ctx, `
		INSERT INTO matches_round
			(match_id, round_number, phase, timestamp, winning_team, win_condition)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (match_id, round_number) DO NOTHING
	`, matchID, round, phase, ts.UTC(), nullStr(winner), nullStr(condition))
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

// UpdateRoundWinner finalizes a round's outcome. A write that contradicts
// an already stored winner is rejected and logged; the first authoritative
// outcome sticks.
func (s *Postgres) UpdateRoundWinner(ctx context.Context, matchID string, round int, winner, condition string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tag, err := s.pg.Exec(ctx, `
		UPDATE matches_round
		SET winning_team = $3, win_condition = $4, phase = 'over'
		WHERE match_id = $1 AND round_number = $2
		  AND (winning_team IS NULL OR winning_team = $3)
	`, matchID, round, winner, nullStr(condition))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		s.log.Warnw("conflicting round winner rejected",
			"match_id", matchID, "round", round, "winner", winner)
	}
	return nil
}

// ListAuthTokens returns the full token -> steam id mapping for the token
// cache.
func (s *Postgres) ListAuthTokens(ctx context.Context) (map[string]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pg.Query(ctx, `SELECT auth_token, steam_id FROM accounts_steamaccount`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make(map[string]string)
	for rows.Next() {
		var token, steamID string
		if err := rows.Scan(&token, &steamID); err != nil {
			return nil, err
		}
		tokens[token] = steamID
	}
	return tokens, rows.Err()
}

// SteamAccountToken returns the auth token of an existing account, or ""
// when the account is unknown. Accounts are registered out-of-band; the
// ingest path never creates them.
func (s *Postgres) SteamAccountToken(ctx context.Context, steamID string) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var token string
	err := s.pg.QueryRow(ctx,
		`SELECT auth_token FROM accounts_steamaccount WHERE steam_id = $1`,
		steamID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return token, err
}

// InsertPlayerRoundState appends one observed player state. Rows are keyed
// by (match, round, account, state_timestamp); an existing row means this
// snapshot was already persisted and the insert is skipped.
func (s *Postgres) InsertPlayerRoundState(ctx context.Context, matchID string, round int, ps *models.PlayerState, ts time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var exists bool
	err := s.pg.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM stats_playerroundstate
			WHERE match_id = $1 AND round_number = $2 AND steam_account_id = $3 AND state_timestamp = $4
		)
	`, matchID, round, ps.SteamID, ts.UTC()).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.pg.Exec(ctx, `
		INSERT INTO stats_playerroundstate
			(match_id, round_number, steam_account_id, health, armor, money,
			 equip_value, round_kills, team, state_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, matchID, round, ps.SteamID, ps.Health, ps.Armor, ps.Money,
		ps.EquipValue, ps.RoundKills, ps.Team, ts.UTC())
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

// InsertPlayerWeapon appends one observed weapon state. Weapons whose name
// is not in the reference table are skipped with a log; everything else
// follows the same pre-check-then-insert discipline as player states.
func (s *Postgres) InsertPlayerWeapon(ctx context.Context, matchID string, round int, steamID string, w models.WeaponState, ts time.Time) error {
	weaponID, ok := s.weapons.idFor(w.Name)
	if !ok {
		return nil
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var exists bool
	err := s.pg.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM stats_playerweapon
			WHERE match_id = $1 AND round_number = $2 AND steam_account_id = $3
			  AND weapon_id = $4 AND state_timestamp = $5
		)
	`, matchID, round, steamID, weaponID, ts.UTC()).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.pg.Exec(ctx, `
		INSERT INTO stats_playerweapon
			(match_id, round_number, steam_account_id, weapon_id, state,
			 ammo_clip, ammo_reserve, paintkit, state_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, matchID, round, steamID, weaponID, w.State,
		w.AmmoClip, w.AmmoReserve, w.Paintkit, ts.UTC())
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

// UpsertPlayerMatchStat writes the cumulative per-match counters;
// last writer wins within a match.
func (s *Postgres) UpsertPlayerMatchStat(ctx context.Context, matchID string, ps *models.PlayerState) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.pg.Exec(ctx, `
		INSERT INTO stats_playermatchstat
			(steam_account_id, match_id, kills, deaths, assists, mvps, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (steam_account_id, match_id) DO UPDATE
		SET kills = EXCLUDED.kills, deaths = EXCLUDED.deaths,
		    assists = EXCLUDED.assists, mvps = EXCLUDED.mvps, score = EXCLUDED.score
	`, ps.SteamID, matchID, ps.MatchKills, ps.MatchDeaths,
		ps.MatchAssists, ps.MatchMVPs, ps.MatchScore)
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
