package models

// Snapshot is a single GSI POST body from a CS2 client. Every section is
// optional on the wire; menu payloads carry only auth, provider and a bare
// player block. Unknown fields are ignored during decoding.
type Snapshot struct {
	Auth     *Auth       `json:"auth" validate:"required"`
	Provider *Provider   `json:"provider,omitempty"`
	Map      *MapData    `json:"map,omitempty"`
	Round    *RoundData  `json:"round,omitempty"`
	Player   *PlayerData `json:"player,omitempty"`
}

// Auth carries the per-account token from the client's gamestate cfg.
type Auth struct {
	Token string `json:"token" validate:"required"`
}

// Provider identifies the game client sending the snapshot. SteamID is the
// account running the client, which may differ from Player.SteamID while
// death-spectating a teammate.
type Provider struct {
	SteamID   string `json:"steamid,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type TeamScore struct {
	Score int `json:"score"`
}

// MapData is the match-level section. Round is 0-indexed on the wire.
type MapData struct {
	Name   string    `json:"name,omitempty"`
	Mode   string    `json:"mode,omitempty"`
	Phase  string    `json:"phase,omitempty"`
	Round  int       `json:"round,omitempty"`
	TeamCT TeamScore `json:"team_ct,omitempty"`
	TeamT  TeamScore `json:"team_t,omitempty"`
}

type RoundData struct {
	Phase   string `json:"phase,omitempty"`
	WinTeam string `json:"win_team,omitempty"`
	Bomb    string `json:"bomb,omitempty"`
}

type PlayerData struct {
	SteamID    string                `json:"steamid,omitempty"`
	Name       string                `json:"name,omitempty"`
	Team       string                `json:"team,omitempty"`
	Activity   string                `json:"activity,omitempty"`
	State      *PlayerStateData      `json:"state,omitempty"`
	MatchStats *MatchStatsData       `json:"match_stats,omitempty"`
	Weapons    map[string]WeaponData `json:"weapons,omitempty"`
}

type PlayerStateData struct {
	Health     int `json:"health"`
	Armor      int `json:"armor"`
	Money      int `json:"money"`
	EquipValue int `json:"equip_value"`
	RoundKills int `json:"round_kills"`
}

type MatchStatsData struct {
	Kills   int `json:"kills"`
	Deaths  int `json:"deaths"`
	Assists int `json:"assists"`
	MVPs    int `json:"mvps"`
	Score   int `json:"score"`
}

type WeaponData struct {
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	State       string `json:"state,omitempty"`
	AmmoClip    *int   `json:"ammo_clip,omitempty"`
	AmmoClipMax *int   `json:"ammo_clip_max,omitempty"`
	AmmoReserve *int   `json:"ammo_reserve,omitempty"`
	Paintkit    string `json:"paintkit,omitempty"`
}

// IsMenu reports whether the snapshot was sent from the main menu rather
// than from a running match.
func (s *Snapshot) IsMenu() bool {
	return s.Player != nil && s.Player.Activity == "menu"
}

// BaseMatchID derives the deterministic routing key map_mode_steamid.
// It returns "" when the snapshot lacks the map or provider sections,
// which is the case for menu payloads.
func (s *Snapshot) BaseMatchID() string {
	if s.Map == nil || s.Provider == nil {
		return ""
	}
	if s.Map.Name == "" || s.Provider.SteamID == "" {
		return ""
	}
	mode := s.Map.Mode
	if mode == "" {
		mode = "casual"
	}
	return s.Map.Name + "_" + mode + "_" + s.Provider.SteamID
}
