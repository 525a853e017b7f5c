package models

import "time"

// Match phases as reported in map.phase.
const (
	MatchPhaseUnknown      = "unknown"
	MatchPhaseWarmup       = "warmup"
	MatchPhaseLive         = "live"
	MatchPhaseIntermission = "intermission"
	MatchPhaseGameOver     = "gameover"
)

// Round phases as reported in round.phase.
const (
	RoundPhaseFreezetime = "freezetime"
	RoundPhaseLive       = "live"
	RoundPhaseOver       = "over"
)

// Win conditions derived from (round.phase, round.bomb).
const (
	WinConditionBombExploded = "bomb_exploded"
	WinConditionBombDefused  = "bomb_defused"
	WinConditionElimination  = "elimination"
)

// Bomb states as reported in round.bomb.
const (
	BombPlanted  = "planted"
	BombExploded = "exploded"
	BombDefused  = "defused"
)

// MatchState is the normalized match-level view of one snapshot.
// Round is 1-indexed; the wire value is adjusted during extraction.
type MatchState struct {
	BaseMatchID string
	Mode        string
	MapName     string
	Phase       string
	Round       int
	TeamCTScore int
	TeamTScore  int
}

// RoundState is the normalized round-level view of one snapshot.
// RoundNumber is 1-indexed. WinTeam and WinCondition are empty until the
// round reaches phase "over" with a known winner.
type RoundState struct {
	RoundNumber  int
	Phase        string
	WinTeam      string
	Bomb         string
	WinCondition string
}

// WeaponState is the state of a single inventory slot.
type WeaponState struct {
	Name        string
	Type        string
	State       string
	AmmoClip    *int
	AmmoClipMax *int
	AmmoReserve *int
	Paintkit    string
}

// PlayerState is the normalized player-level view of one snapshot.
// Weapons is keyed by inventory slot ("weapon_0", "weapon_1", ...).
type PlayerState struct {
	SteamID    string
	Name       string
	Team       string
	Health     int
	Armor      int
	Money      int
	EquipValue int
	RoundKills int

	MatchKills   int
	MatchDeaths  int
	MatchAssists int
	MatchMVPs    int
	MatchScore   int

	Weapons map[string]WeaponState
}

// ActiveWeapon returns the weapon currently held, if any.
func (p *PlayerState) ActiveWeapon() *WeaponState {
	if p == nil {
		return nil
	}
	for slot := range p.Weapons {
		w := p.Weapons[slot]
		if w.State == "active" {
			return &w
		}
	}
	return nil
}

// FieldDelta records one changed field between consecutive snapshots.
type FieldDelta struct {
	Field string
	Old   any
	New   any
}

// Changes enumerates everything that differed between the previous and the
// current snapshot, plus the significant events derived from those diffs.
type Changes struct {
	Match   []FieldDelta
	Round   []FieldDelta
	Player  []FieldDelta
	Weapons map[string][]FieldDelta
	Events  []GameEvent
}

// Extract is the result of running the payload extractor over one snapshot.
// Missing wire sections yield nil sub-states rather than errors. Timestamp
// is assigned server-side once per snapshot; it is the state_timestamp for
// every row persisted from this snapshot.
type Extract struct {
	Timestamp time.Time
	Match     *MatchState
	Round     *RoundState
	Player    *PlayerState
	Weapons   map[string]WeaponState
	Changes   Changes
}
