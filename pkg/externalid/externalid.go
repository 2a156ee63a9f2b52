// Package externalid derives the stable identifiers that let an external consumer correlate
// map, session and stat rows without sharing the source database's primary keys.
package externalid

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Ongoing replaces a missing end time in the hash input.
const Ongoing = "ongoing"

// HashLength is the number of hex characters of the digest kept in a map id.
const HashLength = 12

const isoLayout = "2006-01-02T15:04:05"

// FormatTime renders t as an ISO-8601 local-date-time in UTC wall time, with a six digit
// fraction only when the microsecond part is non-zero. Sub-microsecond precision is dropped.
func FormatTime(t time.Time) string {
	t = t.UTC()
	s := t.Format(isoLayout)
	if us := t.Nanosecond() / 1000; us != 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	return s
}

// FormatTimePtr is FormatTime for nullable columns.
func FormatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

// Map returns "<server>_map_<id>_<hash>" where hash is the first HashLength hex digits of
// md5("<start>_<end|ongoing>_<map name>").
//
// Closing a map changes its id: rows keyed by the open id are not rewritten.
func Map(serverName string, internalID int64, start time.Time, end *time.Time, mapName string) string {
	endStr := Ongoing
	if end != nil {
		endStr = FormatTime(*end)
	}

	sum := md5.Sum([]byte(FormatTime(start) + "_" + endStr + "_" + mapName))
	short := hex.EncodeToString(sum[:])[:HashLength]

	return serverName + "_map_" + strconv.FormatInt(internalID, 10) + "_" + short
}

// Session returns "<server>_session_<id>", the dedup key for player sessions.
func Session(serverName string, internalID int64) string {
	return serverName + "_session_" + strconv.FormatInt(internalID, 10)
}
