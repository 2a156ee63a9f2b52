package extract

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"go.uber.org/zap"

	"crconsync/pkg/externalid"
	"crconsync/pkg/model"
	"crconsync/pkg/state"
)

func (e *Extractor) sessionsQuery() *goqu.SelectDataset {
	return e.dialect.From(goqu.T("player_sessions").As("psess")).
		Select(
			goqu.I("psess.id"),
			goqu.I("s.steam_id_64").As("steam_id_64"),
			goqu.I("psess.start"),
			goqu.I("psess.end"),
			goqu.I("psess.server_number"),
		).
		LeftJoin(goqu.T("steam_id_64").As("s"), goqu.On(goqu.I("psess.playersteamid_id").Eq(goqu.I("s.id")))).
		Order(goqu.I("psess.id").Asc())
}

type sessionRow struct {
	id           int64
	steamID      sql.NullString
	start, end   sql.NullTime
	serverNumber int64
}

func (e *Extractor) sessionRecord(r sessionRow) model.SessionRecord {
	serverName := e.cfg.ServerNames.NameOf(r.serverNumber)
	return model.SessionRecord{
		SessionExternalID: externalid.Session(serverName, r.id),
		SteamID64:         stringPtr(r.steamID),
		Start:             externalid.FormatTimePtr(timePtr(r.start)),
		End:               externalid.FormatTimePtr(timePtr(r.end)),
		ServerName:        serverName,
	}
}

func scanSessions(rows *sql.Rows, fn func(sessionRow)) error {
	defer rows.Close()
	for rows.Next() {
		var r sessionRow
		if err := rows.Scan(&r.id, &r.steamID, &r.start, &r.end, &r.serverNumber); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		fn(r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate: %w", err)
	}
	return nil
}

// Sessions extracts player sessions with id > since. Only closed sessions are exported, but open
// ones still advance the high-water mark.
//
// With a SessionLookback configured, sessions at or below the cursor that closed within the
// window are appended as well. They never move the cursor and may repeat across runs; the
// consumer deduplicates them by session_external_id.
func (e *Extractor) Sessions(ctx context.Context, since int64, limit int) Result[model.SessionRecord] {
	ds := e.sessionsQuery().
		Where(
			goqu.I("psess.id").Gt(since),
			goqu.I("psess.server_number").In(e.cfg.ServerNumbers),
		).
		Limit(uint(limit))

	rows, err := e.query(ctx, ds)
	if err != nil {
		return e.sessionsFailed(since, err)
	}

	res := Result[model.SessionRecord]{Table: state.PlayerSessions, Records: []model.SessionRecord{}, HighWater: since}
	var closed, skipped, lookedBack int
	err = scanSessions(rows, func(r sessionRow) {
		res.Scanned++
		res.HighWater = max(res.HighWater, r.id)
		if !r.end.Valid {
			skipped++
			return
		}
		res.Records = append(res.Records, e.sessionRecord(r))
		closed++
	})
	if err != nil {
		return e.sessionsFailed(since, err)
	}

	if e.cfg.SessionLookback > 0 && since > 0 {
		cutoff := e.now().UTC().Add(-e.cfg.SessionLookback)
		ds := e.sessionsQuery().
			Where(
				goqu.I("psess.end").IsNotNull(),
				goqu.I("psess.end").Gt(cutoff),
				goqu.I("psess.id").Lte(since),
				goqu.I("psess.server_number").In(e.cfg.ServerNumbers),
			)
		rows, err := e.query(ctx, ds)
		if err != nil {
			return e.sessionsFailed(since, err)
		}
		err = scanSessions(rows, func(r sessionRow) {
			res.Records = append(res.Records, e.sessionRecord(r))
			lookedBack++
		})
		if err != nil {
			return e.sessionsFailed(since, err)
		}
	}

	if res.Scanned > 0 || lookedBack > 0 {
		e.logger.Info("player sessions checked",
			zap.Int("scanned", res.Scanned),
			zap.Int64("since_id", since),
			zap.Int64("up_to_id", res.HighWater),
			zap.Int("closed", closed),
			zap.Int("open_skipped", skipped),
			zap.Int("recently_closed", lookedBack))
	}
	return res
}

func (e *Extractor) sessionsFailed(since int64, err error) Result[model.SessionRecord] {
	e.logger.Error("error loading new player sessions", err, zap.Int64("since_id", since))
	return failed[model.SessionRecord](state.PlayerSessions, since, err)
}
