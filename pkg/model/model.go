// Package model defines the records sent to the external endpoint. Records are built once
// during extraction and never modified afterwards.
package model

// EventType is the kind of a log line. The values are the ones stored by CRCON.
type EventType string

const (
	Kill     EventType = "KILL"
	TeamKill EventType = "TEAM KILL"
)

// ExportedEventTypes are the log line kinds that are exported.
var ExportedEventTypes = []EventType{Kill, TeamKill}

// MapRecord is one played map on one game server.
type MapRecord struct {
	MapExternalID string  `json:"map_external_id"`
	Start         *string `json:"start"`
	End           *string `json:"end"`
	ServerName    string  `json:"server_name"`
	MapName       string  `json:"map_name"`
	Result        any     `json:"result"`
}

// LogLineRecord is one kill or team kill.
type LogLineRecord struct {
	EventTime      *string   `json:"event_time"`
	Type           EventType `json:"type"`
	Weapon         *string   `json:"weapon"`
	Player1SteamID *string   `json:"player1_steamid"`
	Player2SteamID *string   `json:"player2_steamid"`
	ServerName     string    `json:"server_name"`
}

// SessionRecord is one connect/disconnect interval of a player.
type SessionRecord struct {
	SessionExternalID string  `json:"session_external_id"`
	SteamID64         *string `json:"steam_id_64"`
	Start             *string `json:"start"`
	End               *string `json:"end"`
	ServerName        string  `json:"server_name"`
}

// StatRecord is one player's performance on one map.
type StatRecord struct {
	SteamID64               *string  `json:"steam_id_64"`
	MapExternalID           string   `json:"map_external_id"`
	ServerName              string   `json:"server_name"`
	Kills                   *int64   `json:"kills"`
	KillsStreak             *int64   `json:"kills_streak"`
	Deaths                  *int64   `json:"deaths"`
	DeathsWithoutKillStreak *int64   `json:"deaths_without_kill_streak"`
	Teamkills               *int64   `json:"teamkills"`
	TeamkillsStreak         *int64   `json:"teamkills_streak"`
	DeathsByTK              *int64   `json:"deaths_by_tk"`
	DeathsByTKStreak        *int64   `json:"deaths_by_tk_streak"`
	TimeSeconds             *int64   `json:"time_seconds"`
	KillsPerMinute          *float64 `json:"kills_per_minute"`
	DeathsPerMinute         *float64 `json:"deaths_per_minute"`
	KillDeathRatio          *float64 `json:"kill_death_ratio"`
	LongestLifeSecs         *int64   `json:"longest_life_secs"`
	ShortestLifeSecs        *int64   `json:"shortest_life_secs"`
	DeathBy                 any      `json:"death_by"`
	MostKilled              any      `json:"most_killed"`
	Name                    *string  `json:"name"`
	Weapons                 any      `json:"weapons"`
	DeathByWeapons          any      `json:"death_by_weapons"`
	Combat                  *int64   `json:"combat"`
	Offense                 *int64   `json:"offense"`
	Defense                 *int64   `json:"defense"`
	Support                 *int64   `json:"support"`
	MatchEnd                *string  `json:"match_end"`
}

// Payload is the single body delivered per run.
type Payload struct {
	ServerID       string          `json:"server_id"`
	Maps           []MapRecord     `json:"maps"`
	LogLines       []LogLineRecord `json:"log_lines"`
	PlayerSessions []SessionRecord `json:"player_sessions"`
	PlayerStats    []StatRecord    `json:"player_stats"`
}

// NewPayload returns a payload with empty, non-nil record lists.
func NewPayload(serverID string) Payload {
	return Payload{
		ServerID:       serverID,
		Maps:           []MapRecord{},
		LogLines:       []LogLineRecord{},
		PlayerSessions: []SessionRecord{},
		PlayerStats:    []StatRecord{},
	}
}

// Counts is the number of records of each kind.
type Counts struct {
	Maps           int `json:"maps"`
	LogLines       int `json:"log_lines"`
	PlayerSessions int `json:"player_sessions"`
	PlayerStats    int `json:"player_stats"`
}

func (c Counts) Total() int {
	return c.Maps + c.LogLines + c.PlayerSessions + c.PlayerStats
}

func (p Payload) Counts() Counts {
	return Counts{
		Maps:           len(p.Maps),
		LogLines:       len(p.LogLines),
		PlayerSessions: len(p.PlayerSessions),
		PlayerStats:    len(p.PlayerStats),
	}
}

// Total is the number of records across all kinds.
func (p Payload) Total() int {
	return p.Counts().Total()
}
