package extract

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"go.uber.org/zap"

	"crconsync/pkg/externalid"
	"crconsync/pkg/model"
	"crconsync/pkg/state"
)

// Maps extracts map_history rows with id > since.
func (e *Extractor) Maps(ctx context.Context, since int64, limit int) Result[model.MapRecord] {
	ds := e.dialect.From(goqu.T("map_history")).
		Select("id", "start", "end", "server_number", "map_name", "result").
		Where(
			goqu.C("server_number").In(e.cfg.ServerNumbers),
			goqu.C("id").Gt(since),
		).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit))

	rows, err := e.query(ctx, ds)
	if err != nil {
		return e.mapsFailed(since, err)
	}
	defer rows.Close()

	res := Result[model.MapRecord]{Table: state.MapHistory, Records: []model.MapRecord{}, HighWater: since}
	for rows.Next() {
		var (
			id           int64
			start, end   sql.NullTime
			serverNumber int64
			mapName      sql.NullString
			result       []byte
		)
		if err := rows.Scan(&id, &start, &end, &serverNumber, &mapName, &result); err != nil {
			return e.mapsFailed(since, fmt.Errorf("scan: %w", err))
		}
		res.Scanned++
		res.HighWater = max(res.HighWater, id)

		serverName := e.cfg.ServerNames.NameOf(serverNumber)
		startAt := timePtr(start)
		if startAt == nil {
			e.logger.Warn("map without start time", zap.Int64("id", id))
			startAt = &time.Time{}
		}

		res.Records = append(res.Records, model.MapRecord{
			MapExternalID: externalid.Map(serverName, id, *startAt, timePtr(end), mapName.String),
			Start:         externalid.FormatTimePtr(timePtr(start)),
			End:           externalid.FormatTimePtr(timePtr(end)),
			ServerName:    serverName,
			MapName:       mapName.String,
			Result:        e.parseJSON(result, state.MapHistory, "result", id),
		})
	}
	if err := rows.Err(); err != nil {
		return e.mapsFailed(since, fmt.Errorf("iterate: %w", err))
	}

	if len(res.Records) > 0 {
		e.logger.Info("new maps loaded",
			zap.Int("count", len(res.Records)),
			zap.Int64("since_id", since),
			zap.Int64("up_to_id", res.HighWater))
	}
	return res
}

func (e *Extractor) mapsFailed(since int64, err error) Result[model.MapRecord] {
	e.logger.Error("error loading map data", err, zap.Int64("since_id", since))
	return failed[model.MapRecord](state.MapHistory, since, err)
}
