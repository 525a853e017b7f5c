package models

import "time"

// EventType identifies a significant event derived from snapshot diffs.
type EventType string

const (
	EventRoundChange     EventType = "round_change"
	EventRoundOver       EventType = "round_over"
	EventBombPlanted     EventType = "bomb_planted"
	EventPlayerKill      EventType = "player_kill"
	EventWeaponActivated EventType = "weapon_activated"
	EventMatchEnd        EventType = "match_end"
)

// GameEvent is a diff-derived record used for logging and the analytics
// sink. It never drives persistence. Only the fields relevant to the event
// type are populated; MatchID is stamped by the match processor before the
// event reaches the sink.
type GameEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	MatchID   string    `json:"match_id,omitempty"`

	SteamID      string `json:"steam_id,omitempty"`
	Round        int    `json:"round,omitempty"`
	OldRound     int    `json:"old_round,omitempty"`
	NewRound     int    `json:"new_round,omitempty"`
	Winner       string `json:"winner,omitempty"`
	WinCondition string `json:"win_condition,omitempty"`
	Weapon       string `json:"weapon,omitempty"`
	KillDelta    int    `json:"kill_delta,omitempty"`
	CTScore      int    `json:"ct_score,omitempty"`
	TScore       int    `json:"t_score,omitempty"`
}

// MatchSummary is the lock-free view of one live match exposed by the
// status endpoint and mirrored to Redis.
type MatchSummary struct {
	MatchID     string `json:"match_id"`
	Map         string `json:"map"`
	Mode        string `json:"mode"`
	Phase       string `json:"phase"`
	Round       int    `json:"round"`
	ScoreCT     int    `json:"score_ct"`
	ScoreT      int    `json:"score_t"`
	PlayerCount int    `json:"player_count"`
}
