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

// LogLines extracts kill and team kill log lines with id > since. Killer and victim steam ids are
// resolved through left joins, so either may be missing.
func (e *Extractor) LogLines(ctx context.Context, since int64, limit int) Result[model.LogLineRecord] {
	types := make([]string, len(model.ExportedEventTypes))
	for i, t := range model.ExportedEventTypes {
		types[i] = string(t)
	}

	ds := e.dialect.From(goqu.T("log_lines").As("ll")).
		Select(
			goqu.I("ll.id"),
			goqu.I("ll.event_time"),
			goqu.I("ll.type"),
			goqu.I("ll.weapon"),
			goqu.I("s1.steam_id_64").As("player1_steamid"),
			goqu.I("s2.steam_id_64").As("player2_steamid"),
			goqu.I("ll.server"),
		).
		LeftJoin(goqu.T("steam_id_64").As("s1"), goqu.On(goqu.I("ll.player1_steamid").Eq(goqu.I("s1.id")))).
		LeftJoin(goqu.T("steam_id_64").As("s2"), goqu.On(goqu.I("ll.player2_steamid").Eq(goqu.I("s2.id")))).
		Where(
			goqu.I("ll.type").In(types),
			goqu.I("ll.id").Gt(since),
			goqu.I("ll.server").In(e.serverLabels()),
		).
		Order(goqu.I("ll.id").Asc()).
		Limit(uint(limit))

	rows, err := e.query(ctx, ds)
	if err != nil {
		return e.logsFailed(since, err)
	}
	defer rows.Close()

	res := Result[model.LogLineRecord]{Table: state.LogLines, Records: []model.LogLineRecord{}, HighWater: since}
	for rows.Next() {
		var (
			id               int64
			eventTime        sql.NullTime
			eventType        string
			weapon           sql.NullString
			player1, player2 sql.NullString
			server           sql.NullString
		)
		if err := rows.Scan(&id, &eventTime, &eventType, &weapon, &player1, &player2, &server); err != nil {
			return e.logsFailed(since, fmt.Errorf("scan: %w", err))
		}
		res.Scanned++
		res.HighWater = max(res.HighWater, id)

		res.Records = append(res.Records, model.LogLineRecord{
			EventTime:      externalid.FormatTimePtr(timePtr(eventTime)),
			Type:           model.EventType(eventType),
			Weapon:         stringPtr(weapon),
			Player1SteamID: stringPtr(player1),
			Player2SteamID: stringPtr(player2),
			ServerName:     e.cfg.ServerNames.Name(serverNumberFromLabel(server.String)),
		})
	}
	if err := rows.Err(); err != nil {
		return e.logsFailed(since, fmt.Errorf("iterate: %w", err))
	}

	if len(res.Records) > 0 {
		e.logger.Info("new log lines loaded",
			zap.Int("count", len(res.Records)),
			zap.Int64("since_id", since),
			zap.Int64("up_to_id", res.HighWater))
	} else {
		e.logger.Info("no new log lines found", zap.Int64("since_id", since))
	}
	return res
}

func (e *Extractor) logsFailed(since int64, err error) Result[model.LogLineRecord] {
	e.logger.Error("error loading new logs", err, zap.Int64("since_id", since))
	return failed[model.LogLineRecord](state.LogLines, since, err)
}
