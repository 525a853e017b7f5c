package gsi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dylantcon/countertrak/internal/models"
)

// DefaultIdleTimeout is how long a match may go without snapshots before
// its processor is considered abandoned and retired.
const DefaultIdleTimeout = 10 * time.Minute

type playerSample struct {
	ts    time.Time
	state *models.PlayerState
}

type weaponSample struct {
	ts      time.Time
	steamID string
	weapons map[string]models.WeaponState
}

// Processor owns the lifecycle of a single match. It feeds snapshots
// through its extractor, buffers per-round player and weapon history, and
// drains the buffers into the store at round boundaries.
//
// handleMu serializes snapshot processing so the extractor and state
// transitions see payloads in order. mu guards the persistence-critical
// fields (round claims, buffers, completion flag) and is never held across
// store calls: rounds are claimed under mu, persisted outside it, and
// un-claimed under mu on failure so a later transition or the completion
// flush can retry them.
type Processor struct {
	baseMatchID  string
	matchID      string
	ownerSteamID string

	store       Store
	sink        EventSink
	live        LiveMirror
	log         *zap.SugaredLogger
	extractor   *Extractor
	idleTimeout time.Duration
	now         func() time.Time

	handleMu sync.Mutex

	mu              sync.Mutex
	matchState      *models.MatchState
	roundState      *models.RoundState
	currentRound    int
	matchPersisted  bool
	completed       bool
	lastUpdate      time.Time
	playerHistory   map[int][]playerSample
	weaponHistory   map[int][]weaponSample
	playerLatest    map[string]*models.PlayerState
	roundsPersisted map[int]bool
	accountKnown    map[string]bool
}

// ProcessorConfig wires a Processor. Sink and Live may be nil.
type ProcessorConfig struct {
	BaseMatchID  string
	MatchID      string
	OwnerSteamID string
	Store        Store
	Sink         EventSink
	Live         LiveMirror
	Logger       *zap.SugaredLogger
	IdleTimeout  time.Duration
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	p := &Processor{
		baseMatchID:     cfg.BaseMatchID,
		matchID:         cfg.MatchID,
		ownerSteamID:    cfg.OwnerSteamID,
		store:           cfg.Store,
		sink:            cfg.Sink,
		live:            cfg.Live,
		log:             cfg.Logger,
		extractor:       NewExtractor(cfg.Logger),
		idleTimeout:     cfg.IdleTimeout,
		now:             time.Now,
		playerHistory:   make(map[int][]playerSample),
		weaponHistory:   make(map[int][]weaponSample),
		playerLatest:    make(map[string]*models.PlayerState),
		roundsPersisted: make(map[int]bool),
		accountKnown:    make(map[string]bool),
	}
	p.lastUpdate = p.now()
	cfg.Logger.Infow("match processor initialized", "match_id", cfg.MatchID, "owner", cfg.OwnerSteamID)
	return p
}

// MatchID returns the UUID-qualified store key for this match.
func (p *Processor) MatchID() string { return p.matchID }

// BaseMatchID returns the deterministic routing key for this match.
func (p *Processor) BaseMatchID() string { return p.baseMatchID }

// HandlePayload processes one snapshot for this match.
// isOwnerPlaying reports whether the snapshot's player section describes
// the client owner rather than a spectated teammate; player and weapon
// rows are only recorded for the owner.
func (p *Processor) HandlePayload(ctx context.Context, snap *models.Snapshot, isOwnerPlaying bool) {
	p.handleMu.Lock()
	defer p.handleMu.Unlock()

	p.mu.Lock()
	p.lastUpdate = p.now()
	p.mu.Unlock()

	ext := p.extractor.Process(snap)
	p.emitEvents(ext.Changes.Events)

	if ext.Match == nil {
		// Menu payloads and shapes without map/provider sections are no-ops.
		return
	}
	if ext.Match.Phase == models.MatchPhaseUnknown || ext.Match.Phase == models.MatchPhaseWarmup {
		// Pre-match noise must not create match rows.
		return
	}

	if !p.matchPersisted {
		p.ensureMatch(ctx, ext.Match, ext.Timestamp)
	} else if len(ext.Changes.Match) > 0 {
		if err := p.store.UpdateMatch(ctx, p.matchID, ext.Match); err != nil {
			p.log.Errorw("failed to update match", "match_id", p.matchID, "error", err)
		}
	}

	p.mu.Lock()
	oldRound := p.currentRound
	prevRound := p.roundState
	wasCompleted := p.completed
	p.mu.Unlock()

	if ext.Match.Round != oldRound {
		p.log.Infow("round change", "match_id", p.matchID, "old", oldRound, "new", ext.Match.Round)
		p.roundTransition(ctx, oldRound, ext.Match.Round, ext.Round)
	}

	p.mu.Lock()
	p.matchState = ext.Match
	p.currentRound = ext.Match.Round
	if ext.Round != nil {
		p.roundState = ext.Round
	}
	p.mu.Unlock()

	// Record the outcome as soon as the winner is known so observers see
	// correct results without waiting for the next round transition.
	if r := ext.Round; r != nil && r.Phase == models.RoundPhaseOver && r.WinTeam != "" {
		if prevRound == nil || prevRound.Phase != models.RoundPhaseOver || prevRound.WinTeam == "" {
			p.recordRoundWinner(ctx, completedRoundNumber(prevRound, r), r.WinTeam, r.WinCondition, ext.Timestamp)
		}
	}

	if ext.Match.Phase == models.MatchPhaseGameOver && !wasCompleted {
		p.log.Infow("game over detected", "match_id", p.matchID)
		p.completeMatch(ctx)
	}

	if isOwnerPlaying && ext.Player != nil && p.matchPersisted {
		changed := len(ext.Changes.Player) > 0 || len(ext.Changes.Weapons) > 0
		p.recordPlayer(ctx, ext.Player, ext.Timestamp, changed)
	}

	if p.live != nil && (len(ext.Changes.Match) > 0 || ext.Match.Round != oldRound) {
		p.live.Publish(ctx, p.Summary())
	}
}

// HandleMatchCompletion flushes any unpersisted rounds and closes the
// match row. It is idempotent and safe to call from shutdown.
func (p *Processor) HandleMatchCompletion(ctx context.Context) {
	p.handleMu.Lock()
	defer p.handleMu.Unlock()
	p.completeMatch(ctx)
}

// IsMatchCompleted reports whether this match finished or went idle past
// the inactivity window; the manager uses it to retire processors.
func (p *Processor) IsMatchCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		return true
	}
	return p.now().Sub(p.lastUpdate) > p.idleTimeout
}

// Summary returns a point-in-time view for the status endpoint and the
// live mirror. Values may be slightly stale relative to in-flight writes.
func (p *Processor) Summary() models.MatchSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := models.MatchSummary{
		MatchID:     p.matchID,
		PlayerCount: len(p.playerLatest),
	}
	if p.matchState != nil {
		s.Map = p.matchState.MapName
		s.Mode = p.matchState.Mode
		s.Phase = p.matchState.Phase
		s.Round = p.matchState.Round
		s.ScoreCT = p.matchState.TeamCTScore
		s.ScoreT = p.matchState.TeamTScore
	}
	return s
}

func (p *Processor) emitEvents(events []models.GameEvent) {
	for i := range events {
		ev := events[i]
		ev.MatchID = p.matchID
		switch ev.Type {
		case models.EventPlayerKill:
			p.log.Infow("player kill", "match_id", p.matchID, "steam_id", ev.SteamID, "weapon", ev.Weapon, "delta", ev.KillDelta)
		case models.EventRoundOver:
			p.log.Infow("round over", "match_id", p.matchID, "round", ev.Round, "winner", ev.Winner, "condition", ev.WinCondition)
		case models.EventMatchEnd:
			p.log.Infow("match end", "match_id", p.matchID, "ct", ev.CTScore, "t", ev.TScore)
		case models.EventBombPlanted:
			p.log.Infow("bomb planted", "match_id", p.matchID, "round", ev.Round)
		case models.EventWeaponActivated:
			p.log.Debugw("weapon activated", "match_id", p.matchID, "steam_id", ev.SteamID, "weapon", ev.Weapon)
		case models.EventRoundChange:
			p.log.Debugw("round number changed", "match_id", p.matchID, "old", ev.OldRound, "new", ev.NewRound)
		}
		if p.sink != nil {
			p.sink.Enqueue(&ev)
		}
	}
}

func (p *Processor) ensureMatch(ctx context.Context, ms *models.MatchState, start time.Time) {
	exists, err := p.store.MatchExists(ctx, p.matchID)
	if err != nil {
		p.log.Errorw("failed to check match existence", "match_id", p.matchID, "error", err)
		return
	}
	if !exists {
		if err := p.store.CreateMatch(ctx, p.matchID, ms, start); err != nil {
			p.log.Errorw("failed to create match", "match_id", p.matchID, "error", err)
			return
		}
		p.log.Infow("created match record", "match_id", p.matchID, "map", ms.MapName, "mode", ms.Mode)
	}
	p.matchPersisted = true
}

// roundTransition finalizes the round that just ended and opens a row for
// the new one. The old round is claimed under the lock; persistence runs
// outside it and the claim is released on failure.
func (p *Processor) roundTransition(ctx context.Context, oldRound, newRound int, rs *models.RoundState) {
	var mustComplete bool
	var players []playerSample
	var weapons []weaponSample
	var latest map[string]*models.PlayerState

	p.mu.Lock()
	if oldRound > 0 && !p.roundsPersisted[oldRound] {
		p.roundsPersisted[oldRound] = true
		mustComplete = true
		players = p.playerHistory[oldRound]
		weapons = p.weaponHistory[oldRound]
	}
	// Drop the bucket either way; samples for an already-persisted round
	// are stale.
	delete(p.playerHistory, oldRound)
	delete(p.weaponHistory, oldRound)
	latest = make(map[string]*models.PlayerState, len(p.playerLatest))
	for id, ps := range p.playerLatest {
		latest[id] = ps
	}
	alreadyCompleted := p.completed
	p.mu.Unlock()

	if mustComplete {
		if err := p.completeRound(ctx, oldRound, players, weapons, latest); err != nil {
			// Release the claim and put the samples back under their own
			// round so the completion flush can retry them there.
			p.mu.Lock()
			delete(p.roundsPersisted, oldRound)
			p.playerHistory[oldRound] = append(players, p.playerHistory[oldRound]...)
			p.weaponHistory[oldRound] = append(weapons, p.weaponHistory[oldRound]...)
			p.mu.Unlock()
			p.log.Errorw("failed to persist round", "match_id", p.matchID, "round", oldRound, "error", err)
		} else {
			p.log.Infow("persisted round", "match_id", p.matchID, "round", oldRound, "player_states", len(players))
		}
	}

	if alreadyCompleted {
		// The match already finished; never open rows for later rounds.
		return
	}

	if rs != nil && newRound > 0 && (rs.Phase == models.RoundPhaseFreezetime || rs.Phase == models.RoundPhaseLive) {
		exists, err := p.store.RoundExists(ctx, p.matchID, newRound)
		if err != nil {
			p.log.Errorw("failed to check round existence", "match_id", p.matchID, "round", newRound, "error", err)
			return
		}
		if !exists {
			if err := p.store.CreateRound(ctx, p.matchID, newRound, rs.Phase, "", "", p.now().UTC()); err != nil {
				p.log.Errorw("failed to create round", "match_id", p.matchID, "round", newRound, "error", err)
			}
		}
	}
}

// completeRound writes everything buffered for a finished round. Any error
// aborts so the caller can release the claim; the store's composite-key
// pre-checks make a retry safe against rows that already landed.
func (p *Processor) completeRound(ctx context.Context, round int, players []playerSample, weapons []weaponSample, latest map[string]*models.PlayerState) error {
	winner, _ := p.extractor.RoundWinner(round)
	condition, _ := p.extractor.RoundWinCondition(round)

	if winner != "" {
		exists, err := p.store.RoundExists(ctx, p.matchID, round)
		if err != nil {
			return err
		}
		if exists {
			if err := p.store.UpdateRoundWinner(ctx, p.matchID, round, winner, condition); err != nil {
				return err
			}
		} else {
			if err := p.store.CreateRound(ctx, p.matchID, round, models.RoundPhaseOver, winner, condition, p.now().UTC()); err != nil {
				return err
			}
		}
	}

	for _, s := range players {
		if err := p.store.InsertPlayerRoundState(ctx, p.matchID, round, s.state, s.ts); err != nil {
			return err
		}
	}
	for _, ws := range weapons {
		for _, w := range ws.weapons {
			if err := p.store.InsertPlayerWeapon(ctx, p.matchID, round, ws.steamID, w, ws.ts); err != nil {
				return err
			}
		}
	}
	for _, ps := range latest {
		if err := p.store.UpsertPlayerMatchStat(ctx, p.matchID, ps); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) recordRoundWinner(ctx context.Context, round int, winner, condition string, ts time.Time) {
	exists, err := p.store.RoundExists(ctx, p.matchID, round)
	if err != nil {
		p.log.Errorw("failed to check round existence", "match_id", p.matchID, "round", round, "error", err)
		return
	}
	if exists {
		err = p.store.UpdateRoundWinner(ctx, p.matchID, round, winner, condition)
	} else {
		err = p.store.CreateRound(ctx, p.matchID, round, models.RoundPhaseOver, winner, condition, ts)
	}
	if err != nil {
		p.log.Errorw("failed to record round winner", "match_id", p.matchID, "round", round, "winner", winner, "error", err)
	}
}

func (p *Processor) completeMatch(ctx context.Context) {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return
	}
	p.completed = true
	ms := p.matchState
	current := p.currentRound
	p.mu.Unlock()

	if ms == nil {
		return
	}

	for n := 1; n <= current; n++ {
		var players []playerSample
		var weapons []weaponSample
		var latest map[string]*models.PlayerState

		p.mu.Lock()
		claimed := !p.roundsPersisted[n]
		if claimed {
			p.roundsPersisted[n] = true
			players = p.playerHistory[n]
			weapons = p.weaponHistory[n]
			delete(p.playerHistory, n)
			delete(p.weaponHistory, n)
			latest = make(map[string]*models.PlayerState, len(p.playerLatest))
			for id, ps := range p.playerLatest {
				latest[id] = ps
			}
		}
		p.mu.Unlock()

		if !claimed {
			continue
		}
		if err := p.completeRound(ctx, n, players, weapons, latest); err != nil {
			p.mu.Lock()
			delete(p.roundsPersisted, n)
			p.playerHistory[n] = append(players, p.playerHistory[n]...)
			p.weaponHistory[n] = append(weapons, p.weaponHistory[n]...)
			p.mu.Unlock()
			p.log.Errorw("failed to flush round during completion", "match_id", p.matchID, "round", n, "error", err)
		}
	}

	end := p.now().UTC()
	if err := p.store.CompleteMatch(ctx, p.matchID, ms.TeamCTScore, ms.TeamTScore, ms.TeamCTScore+ms.TeamTScore, end); err != nil {
		p.log.Errorw("failed to complete match", "match_id", p.matchID, "error", err)
		return
	}
	p.log.Infow("match completed", "match_id", p.matchID, "ct", ms.TeamCTScore, "t", ms.TeamTScore)

	if p.live != nil {
		p.live.Remove(ctx, p.matchID)
	}
}

// recordPlayer buffers the owner's state under the current round and keeps
// the cumulative match stats current. Only the first sighting of a player
// and snapshots that changed something are buffered, so a replayed payload
// adds no rows. Snapshots for accounts that do not exist in the store are
// skipped; matches and rounds still progress.
func (p *Processor) recordPlayer(ctx context.Context, ps *models.PlayerState, ts time.Time, changed bool) {
	known, cached := func() (bool, bool) {
		p.mu.Lock()
		defer p.mu.Unlock()
		k, ok := p.accountKnown[ps.SteamID]
		return k, ok
	}()

	if !cached {
		token, err := p.store.SteamAccountToken(ctx, ps.SteamID)
		if err != nil {
			p.log.Errorw("failed to look up steam account", "steam_id", ps.SteamID, "error", err)
			return
		}
		known = token != ""
		p.mu.Lock()
		p.accountKnown[ps.SteamID] = known
		p.mu.Unlock()
		if !known {
			p.log.Warnw("snapshot for unknown steam account, skipping player storage",
				"match_id", p.matchID, "steam_id", ps.SteamID)
		}
	}
	if !known {
		return
	}

	p.mu.Lock()
	if _, seen := p.playerLatest[ps.SteamID]; seen && !changed {
		p.mu.Unlock()
		return
	}
	round := p.currentRound
	p.playerHistory[round] = append(p.playerHistory[round], playerSample{ts: ts, state: ps})
	p.playerLatest[ps.SteamID] = ps
	if len(ps.Weapons) > 0 {
		p.weaponHistory[round] = append(p.weaponHistory[round], weaponSample{ts: ts, steamID: ps.SteamID, weapons: ps.Weapons})
	}
	p.mu.Unlock()

	if err := p.store.UpsertPlayerMatchStat(ctx, p.matchID, ps); err != nil {
		p.log.Errorw("failed to upsert match stats", "match_id", p.matchID, "steam_id", ps.SteamID, "error", err)
	}
}
