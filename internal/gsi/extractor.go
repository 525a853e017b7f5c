package gsi

import (
	"time"

	"go.uber.org/zap"

	"github.com/dylantcon/countertrak/internal/models"
)

// Extractor parses GSI snapshots into typed state, diffs them against the
// previous snapshot and derives significant events. It is the only place
// that tolerates wire-shape variance; everything downstream works with
// typed structs. An Extractor belongs to exactly one match processor and
// is not safe for concurrent use.
type Extractor struct {
	log *zap.SugaredLogger

	match   *models.MatchState
	round   *models.RoundState
	players map[string]*models.PlayerState

	// roundHistory holds the final state of completed rounds, keyed by
	// 1-indexed round number. reported guards against logging the same
	// completion twice.
	roundHistory map[int]models.RoundState
	reported     map[int]bool

	now func() time.Time
}

func NewExtractor(log *zap.SugaredLogger) *Extractor {
	return &Extractor{
		log:          log,
		players:      make(map[string]*models.PlayerState),
		roundHistory: make(map[int]models.RoundState),
		reported:     make(map[int]bool),
		now:          time.Now,
	}
}

// Process parses one snapshot, computes changes relative to the previous
// snapshot and advances internal state. The returned Extract carries a
// single server-side timestamp for the whole parse; payload timestamps are
// ignored because client clocks drift and would break temporal joins.
func (e *Extractor) Process(snap *models.Snapshot) models.Extract {
	ts := e.now().UTC()

	newMatch := extractMatchState(snap)
	newRound := extractRoundState(snap)
	newPlayer := extractPlayerState(snap)

	changes := models.Changes{Weapons: make(map[string][]models.FieldDelta)}
	e.diffMatch(newMatch, &changes, ts)
	e.diffRound(newRound, &changes, ts)
	e.diffPlayer(newPlayer, &changes, ts)

	e.advance(newMatch, newRound, newPlayer)

	out := models.Extract{
		Timestamp: ts,
		Match:     newMatch,
		Round:     newRound,
		Player:    newPlayer,
		Changes:   changes,
	}
	if newPlayer != nil {
		out.Weapons = newPlayer.Weapons
	}
	return out
}

// RoundWinner returns the winning team of a completed round, if known.
func (e *Extractor) RoundWinner(round int) (string, bool) {
	rs, ok := e.roundHistory[round]
	if !ok || rs.WinTeam == "" {
		return "", false
	}
	return rs.WinTeam, true
}

// RoundWinCondition returns how a completed round was won, if known.
func (e *Extractor) RoundWinCondition(round int) (string, bool) {
	rs, ok := e.roundHistory[round]
	if !ok || rs.WinCondition == "" {
		return "", false
	}
	return rs.WinCondition, true
}

// ActiveWeapon returns the weapon a player currently holds, if any.
func (e *Extractor) ActiveWeapon(steamID string) *models.WeaponState {
	return e.players[steamID].ActiveWeapon()
}

func extractMatchState(snap *models.Snapshot) *models.MatchState {
	base := snap.BaseMatchID()
	if base == "" {
		return nil
	}
	m := snap.Map
	phase := m.Phase
	if phase == "" {
		phase = models.MatchPhaseUnknown
	}
	return &models.MatchState{
		BaseMatchID: base,
		Mode:        nonEmpty(m.Mode, "casual"),
		MapName:     m.Name,
		Phase:       phase,
		// The wire round is 0-indexed; rounds are 1-indexed everywhere
		// past this point, including the store.
		Round:       m.Round + 1,
		TeamCTScore: m.TeamCT.Score,
		TeamTScore:  m.TeamT.Score,
	}
}

func extractRoundState(snap *models.Snapshot) *models.RoundState {
	if snap.Round == nil || snap.Map == nil {
		return nil
	}
	r := snap.Round
	rs := &models.RoundState{
		RoundNumber: snap.Map.Round + 1,
		Phase:       nonEmpty(r.Phase, models.MatchPhaseUnknown),
		WinTeam:     r.WinTeam,
		Bomb:        r.Bomb,
	}
	if rs.Phase == models.RoundPhaseOver && rs.WinTeam != "" {
		switch rs.Bomb {
		case models.BombExploded:
			rs.WinCondition = models.WinConditionBombExploded
		case models.BombDefused:
			rs.WinCondition = models.WinConditionBombDefused
		default:
			rs.WinCondition = models.WinConditionElimination
		}
	}
	return rs
}

func extractPlayerState(snap *models.Snapshot) *models.PlayerState {
	p := snap.Player
	if p == nil || p.SteamID == "" || p.State == nil {
		return nil
	}
	ps := &models.PlayerState{
		SteamID:    p.SteamID,
		Name:       p.Name,
		Team:       nonEmpty(p.Team, "SPEC"),
		Health:     p.State.Health,
		Armor:      p.State.Armor,
		Money:      p.State.Money,
		EquipValue: p.State.EquipValue,
		RoundKills: p.State.RoundKills,
		Weapons:    make(map[string]models.WeaponState, len(p.Weapons)),
	}
	if ms := p.MatchStats; ms != nil {
		ps.MatchKills = ms.Kills
		ps.MatchDeaths = ms.Deaths
		ps.MatchAssists = ms.Assists
		ps.MatchMVPs = ms.MVPs
		ps.MatchScore = ms.Score
	}
	for slot, w := range p.Weapons {
		ps.Weapons[slot] = models.WeaponState{
			Name:        nonEmpty(w.Name, "unknown_weapon"),
			Type:        w.Type,
			State:       nonEmpty(w.State, "holstered"),
			AmmoClip:    w.AmmoClip,
			AmmoClipMax: w.AmmoClipMax,
			AmmoReserve: w.AmmoReserve,
			Paintkit:    nonEmpty(w.Paintkit, "default"),
		}
	}
	return ps
}

func (e *Extractor) diffMatch(next *models.MatchState, ch *models.Changes, ts time.Time) {
	if next == nil || e.match == nil {
		return
	}
	prev := e.match
	deltas := []struct {
		field    string
		old, new any
	}{
		{"phase", prev.Phase, next.Phase},
		{"round", prev.Round, next.Round},
		{"team_ct_score", prev.TeamCTScore, next.TeamCTScore},
		{"team_t_score", prev.TeamTScore, next.TeamTScore},
	}
	for _, d := range deltas {
		if d.old != d.new {
			ch.Match = append(ch.Match, models.FieldDelta{Field: d.field, Old: d.old, New: d.new})
		}
	}
	if prev.Round != next.Round {
		ch.Events = append(ch.Events, models.GameEvent{
			Type:      models.EventRoundChange,
			Timestamp: ts,
			OldRound:  prev.Round,
			NewRound:  next.Round,
		})
	}
	if prev.Phase != models.MatchPhaseGameOver && next.Phase == models.MatchPhaseGameOver {
		ch.Events = append(ch.Events, models.GameEvent{
			Type:      models.EventMatchEnd,
			Timestamp: ts,
			CTScore:   next.TeamCTScore,
			TScore:    next.TeamTScore,
		})
	}
}

func (e *Extractor) diffRound(next *models.RoundState, ch *models.Changes, ts time.Time) {
	if next == nil || e.round == nil {
		return
	}
	prev := e.round
	deltas := []struct {
		field    string
		old, new any
	}{
		{"phase", prev.Phase, next.Phase},
		{"win_team", prev.WinTeam, next.WinTeam},
		{"bomb", prev.Bomb, next.Bomb},
	}
	for _, d := range deltas {
		if d.old != d.new {
			ch.Round = append(ch.Round, models.FieldDelta{Field: d.field, Old: d.old, New: d.new})
		}
	}
	if prev.Phase != models.RoundPhaseOver && next.Phase == models.RoundPhaseOver && next.WinTeam != "" {
		ch.Events = append(ch.Events, models.GameEvent{
			Type:         models.EventRoundOver,
			Timestamp:    ts,
			Round:        completedRoundNumber(prev, next),
			Winner:       next.WinTeam,
			WinCondition: next.WinCondition,
		})
	}
	if prev.Bomb == "" && next.Bomb == models.BombPlanted {
		ch.Events = append(ch.Events, models.GameEvent{
			Type:      models.EventBombPlanted,
			Timestamp: ts,
			Round:     next.RoundNumber,
		})
	}
}

func (e *Extractor) diffPlayer(next *models.PlayerState, ch *models.Changes, ts time.Time) {
	if next == nil {
		return
	}
	prev, ok := e.players[next.SteamID]
	if !ok {
		return
	}
	deltas := []struct {
		field    string
		old, new int
	}{
		{"health", prev.Health, next.Health},
		{"armor", prev.Armor, next.Armor},
		{"money", prev.Money, next.Money},
		{"equip_value", prev.EquipValue, next.EquipValue},
		{"round_kills", prev.RoundKills, next.RoundKills},
		{"match_kills", prev.MatchKills, next.MatchKills},
		{"match_deaths", prev.MatchDeaths, next.MatchDeaths},
		{"match_assists", prev.MatchAssists, next.MatchAssists},
		{"match_mvps", prev.MatchMVPs, next.MatchMVPs},
		{"match_score", prev.MatchScore, next.MatchScore},
	}
	for _, d := range deltas {
		if d.old != d.new {
			ch.Player = append(ch.Player, models.FieldDelta{Field: d.field, Old: d.old, New: d.new})
		}
	}

	if next.RoundKills > prev.RoundKills {
		ev := models.GameEvent{
			Type:      models.EventPlayerKill,
			Timestamp: ts,
			SteamID:   next.SteamID,
			KillDelta: next.RoundKills - prev.RoundKills,
		}
		if w := next.ActiveWeapon(); w != nil {
			ev.Weapon = w.Name
		}
		ch.Events = append(ch.Events, ev)
	}

	for slot, nw := range next.Weapons {
		ow, had := prev.Weapons[slot]
		if !had {
			ch.Weapons[nw.Name] = append(ch.Weapons[nw.Name], models.FieldDelta{Field: "state", Old: nil, New: "added"})
			if nw.State == "active" {
				ch.Events = append(ch.Events, models.GameEvent{
					Type:      models.EventWeaponActivated,
					Timestamp: ts,
					SteamID:   next.SteamID,
					Weapon:    nw.Name,
				})
			}
			continue
		}
		if ow.State != nw.State {
			ch.Weapons[nw.Name] = append(ch.Weapons[nw.Name], models.FieldDelta{Field: "state", Old: ow.State, New: nw.State})
			if nw.State == "active" {
				ch.Events = append(ch.Events, models.GameEvent{
					Type:      models.EventWeaponActivated,
					Timestamp: ts,
					SteamID:   next.SteamID,
					Weapon:    nw.Name,
				})
			}
		}
		if !intPtrEq(ow.AmmoClip, nw.AmmoClip) {
			ch.Weapons[nw.Name] = append(ch.Weapons[nw.Name], models.FieldDelta{Field: "ammo_clip", Old: intPtrVal(ow.AmmoClip), New: intPtrVal(nw.AmmoClip)})
		}
		if !intPtrEq(ow.AmmoReserve, nw.AmmoReserve) {
			ch.Weapons[nw.Name] = append(ch.Weapons[nw.Name], models.FieldDelta{Field: "ammo_reserve", Old: intPtrVal(ow.AmmoReserve), New: intPtrVal(nw.AmmoReserve)})
		}
	}
	for slot, ow := range prev.Weapons {
		if _, still := next.Weapons[slot]; !still {
			ch.Weapons[ow.Name] = append(ch.Weapons[ow.Name], models.FieldDelta{Field: "state", Old: ow.State, New: "removed"})
		}
	}
}

// advance commits the new sub-states after diffing. A round reaching phase
// "over" with a known winner is stashed into roundHistory under the number
// of the round that just finished, so the processor can look up the winner
// during the following round transition.
func (e *Extractor) advance(m *models.MatchState, r *models.RoundState, p *models.PlayerState) {
	if r != nil {
		if r.Phase == models.RoundPhaseOver && r.WinTeam != "" {
			n := completedRoundNumber(e.round, r)
			final := *r
			final.RoundNumber = n
			e.roundHistory[n] = final
			if !e.reported[n] {
				e.reported[n] = true
				e.log.Infow("round completed", "round", n, "winner", r.WinTeam, "condition", r.WinCondition)
			}
		}
		e.round = r
	}
	if m != nil {
		e.match = m
	}
	if p != nil {
		e.players[p.SteamID] = p
	}
}

// completedRoundNumber resolves which round a winning over-phase state
// belongs to. The client may increment map.round either when the round
// ends or at the following freezetime; if the number already advanced in
// the same snapshot that reports the winner, the finished round is the one
// before it.
func completedRoundNumber(prev, next *models.RoundState) int {
	if prev != nil && next.RoundNumber > prev.RoundNumber {
		return next.RoundNumber - 1
	}
	return next.RoundNumber
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrVal(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
