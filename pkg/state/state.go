package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"crconsync/pkg/externalid"
)

// Table names a source table tracked by a cursor.
type Table string

const (
	LogLines       Table = "log_lines"
	PlayerSessions Table = "player_sessions"
	PlayerStats    Table = "player_stats"
	MapHistory     Table = "map_history"
)

// Tables lists every tracked table in extraction order.
var Tables = []Table{MapHistory, LogLines, PlayerSessions, PlayerStats}

// Counters holds one integer per tracked table.
type Counters struct {
	LogLines       int64 `json:"log_lines"`
	PlayerSessions int64 `json:"player_sessions"`
	PlayerStats    int64 `json:"player_stats"`
	MapHistory     int64 `json:"map_history"`
}

func (c Counters) Get(t Table) int64 {
	switch t {
	case LogLines:
		return c.LogLines
	case PlayerSessions:
		return c.PlayerSessions
	case PlayerStats:
		return c.PlayerStats
	case MapHistory:
		return c.MapHistory
	}
	return 0
}

func (c *Counters) Set(t Table, v int64) {
	switch t {
	case LogLines:
		c.LogLines = v
	case PlayerSessions:
		c.PlayerSessions = v
	case PlayerStats:
		c.PlayerStats = v
	case MapHistory:
		c.MapHistory = v
	}
}

// Timestamp is a UTC instant persisted in the naive ISO form the state file has always used.
// It also accepts RFC 3339 input.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(externalid.FormatTime(t.Time))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// At wraps a time as a *Timestamp.
func At(t time.Time) *Timestamp {
	return &Timestamp{Time: t.UTC()}
}

// CursorState is the persisted progress of the export.
//
// LastExportedIDs only ever holds ids that were part of a delivered batch.
type CursorState struct {
	LastExportedIDs Counters   `json:"last_exported_ids"`
	ExportCount     int64      `json:"export_count"`
	LastExportTime  *Timestamp `json:"last_export_time"`
	LastSuccess     *Timestamp `json:"last_success"`
	LastError       *string    `json:"last_error"`
	TotalExported   Counters   `json:"total_exported"`
}

// Default is the state used when nothing has been persisted yet.
func Default() CursorState {
	return CursorState{}
}

// Clone returns a deep copy.
func (s CursorState) Clone() CursorState {
	out := s
	if s.LastExportTime != nil {
		v := *s.LastExportTime
		out.LastExportTime = &v
	}
	if s.LastSuccess != nil {
		v := *s.LastSuccess
		out.LastSuccess = &v
	}
	if s.LastError != nil {
		v := *s.LastError
		out.LastError = &v
	}
	return out
}

// Decode parses a persisted state. Missing fields keep their zero value, unknown fields are ignored.
func Decode(data []byte) (CursorState, error) {
	st := Default()
	if len(strings.TrimSpace(string(data))) == 0 {
		return st, fmt.Errorf("empty state")
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return Default(), err
	}
	return st, nil
}

// Encode renders the state as indented JSON.
func Encode(s CursorState) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Store persists the cursor state between runs.
type Store interface {
	// Load returns the saved state, or Default when none exists or it cannot be decoded.
	Load(ctx context.Context) (CursorState, error)

	// Save replaces the saved state. A reader never observes a partial write.
	Save(ctx context.Context, s CursorState) error

	// Reset discards the saved state. It reports whether anything was removed.
	Reset(ctx context.Context) (bool, error)

	// Location describes where the state lives, for status output.
	Location() string
}
