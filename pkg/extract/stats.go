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

var statColumns = []any{
	goqu.I("ps.id"),
	goqu.I("s.steam_id_64").As("steam_id_64"),
	goqu.I("ps.map_id"),
	goqu.I("mh.start"),
	goqu.I("mh.end"),
	goqu.I("mh.server_number"),
	goqu.I("mh.map_name"),
	goqu.I("ps.kills"),
	goqu.I("ps.kills_streak"),
	goqu.I("ps.deaths"),
	goqu.I("ps.deaths_without_kill_streak"),
	goqu.I("ps.teamkills"),
	goqu.I("ps.teamkills_streak"),
	goqu.I("ps.deaths_by_tk"),
	goqu.I("ps.deaths_by_tk_streak"),
	goqu.I("ps.time_seconds"),
	goqu.I("ps.kills_per_minute"),
	goqu.I("ps.deaths_per_minute"),
	goqu.I("ps.kill_death_ratio"),
	goqu.I("ps.longest_life_secs"),
	goqu.I("ps.shortest_life_secs"),
	goqu.I("ps.death_by"),
	goqu.I("ps.most_killed"),
	goqu.I("ps.name"),
	goqu.I("ps.weapons"),
	goqu.I("ps.death_by_weapons"),
	goqu.I("ps.combat"),
	goqu.I("ps.offense"),
	goqu.I("ps.defense"),
	goqu.I("ps.support"),
}

// PlayerStats extracts player_stats rows with id > since. The owning map is joined to find the
// server and to re-derive the map external id, so stats of disabled servers are never read.
func (e *Extractor) PlayerStats(ctx context.Context, since int64, limit int) Result[model.StatRecord] {
	ds := e.dialect.From(goqu.T("player_stats").As("ps")).
		Select(statColumns...).
		LeftJoin(goqu.T("steam_id_64").As("s"), goqu.On(goqu.I("ps.playersteamid_id").Eq(goqu.I("s.id")))).
		LeftJoin(goqu.T("map_history").As("mh"), goqu.On(goqu.I("ps.map_id").Eq(goqu.I("mh.id")))).
		Where(
			goqu.I("ps.id").Gt(since),
			goqu.I("mh.server_number").In(e.cfg.ServerNumbers),
		).
		Order(goqu.I("ps.id").Asc()).
		Limit(uint(limit))

	rows, err := e.query(ctx, ds)
	if err != nil {
		return e.statsFailed(since, err)
	}
	defer rows.Close()

	res := Result[model.StatRecord]{Table: state.PlayerStats, Records: []model.StatRecord{}, HighWater: since}
	for rows.Next() {
		var (
			id, mapID           int64
			steamID, mapName    sql.NullString
			start, end          sql.NullTime
			serverNumber        int64
			kills, killsStreak  sql.NullInt64
			deaths, deathsNoK   sql.NullInt64
			tks, tksStreak      sql.NullInt64
			deathsTK, dTKStreak sql.NullInt64
			timeSeconds         sql.NullInt64
			kpm, dpm, kdr       sql.NullFloat64
			longest, shortest   sql.NullInt64
			deathBy, mostKilled []byte
			name                sql.NullString
			weapons, deathByW   []byte
			combat, offense     sql.NullInt64
			defense, support    sql.NullInt64
		)
		err := rows.Scan(
			&id, &steamID, &mapID, &start, &end, &serverNumber, &mapName,
			&kills, &killsStreak, &deaths, &deathsNoK, &tks, &tksStreak, &deathsTK, &dTKStreak,
			&timeSeconds, &kpm, &dpm, &kdr, &longest, &shortest,
			&deathBy, &mostKilled, &name, &weapons, &deathByW,
			&combat, &offense, &defense, &support,
		)
		if err != nil {
			return e.statsFailed(since, fmt.Errorf("scan: %w", err))
		}
		res.Scanned++
		res.HighWater = max(res.HighWater, id)

		serverName := e.cfg.ServerNames.NameOf(serverNumber)
		startAt := timePtr(start)
		if startAt == nil {
			startAt = &time.Time{}
		}

		res.Records = append(res.Records, model.StatRecord{
			SteamID64:               stringPtr(steamID),
			MapExternalID:           externalid.Map(serverName, mapID, *startAt, timePtr(end), mapName.String),
			ServerName:              serverName,
			Kills:                   int64Ptr(kills),
			KillsStreak:             int64Ptr(killsStreak),
			Deaths:                  int64Ptr(deaths),
			DeathsWithoutKillStreak: int64Ptr(deathsNoK),
			Teamkills:               int64Ptr(tks),
			TeamkillsStreak:         int64Ptr(tksStreak),
			DeathsByTK:              int64Ptr(deathsTK),
			DeathsByTKStreak:        int64Ptr(dTKStreak),
			TimeSeconds:             int64Ptr(timeSeconds),
			KillsPerMinute:          float64Ptr(kpm),
			DeathsPerMinute:         float64Ptr(dpm),
			KillDeathRatio:          float64Ptr(kdr),
			LongestLifeSecs:         int64Ptr(longest),
			ShortestLifeSecs:        int64Ptr(shortest),
			DeathBy:                 e.parseJSON(deathBy, state.PlayerStats, "death_by", id),
			MostKilled:              e.parseJSON(mostKilled, state.PlayerStats, "most_killed", id),
			Name:                    stringPtr(name),
			Weapons:                 e.parseJSON(weapons, state.PlayerStats, "weapons", id),
			DeathByWeapons:          e.parseJSON(deathByW, state.PlayerStats, "death_by_weapons", id),
			Combat:                  int64Ptr(combat),
			Offense:                 int64Ptr(offense),
			Defense:                 int64Ptr(defense),
			Support:                 int64Ptr(support),
			MatchEnd:                externalid.FormatTimePtr(timePtr(end)),
		})
	}
	if err := rows.Err(); err != nil {
		return e.statsFailed(since, fmt.Errorf("iterate: %w", err))
	}

	if len(res.Records) > 0 {
		e.logger.Info("new player stats loaded",
			zap.Int("count", len(res.Records)),
			zap.Int64("since_id", since),
			zap.Int64("up_to_id", res.HighWater))
	}
	return res
}

func (e *Extractor) statsFailed(since int64, err error) Result[model.StatRecord] {
	e.logger.Error("error loading new player stats", err, zap.Int64("since_id", since))
	return failed[model.StatRecord](state.PlayerStats, since, err)
}
