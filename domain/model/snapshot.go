package model

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// SnapshotTimeLayout is the second-granularity timestamp embedded in snapshot ids.
const SnapshotTimeLayout = "20060102_150405"

// SchemaSnapshot is an immutable record of a table's columns at a point in time.
type SchemaSnapshot struct {
	// ID is "{table}_{YYYYMMDD_HHMMSS}", optionally followed by "_{n}" when
	// several snapshots of a table are taken within the same second.
	ID string `json:"id"`
	// Table is the table the snapshot describes.
	Table string `json:"table"`
	// Columns are the table columns in ordinal order.
	Columns []Column `json:"columns"`
	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotID returns the base identifier of a snapshot of table taken at t.
func SnapshotID(table string, t time.Time) string {
	return table + "_" + t.Format(SnapshotTimeLayout)
}

// ParseSnapshotID splits a snapshot id into its table, timestamp and
// same-second counter. Table names may contain underscores, so the id is
// parsed from the right.
func ParseSnapshotID(id string) (table string, at time.Time, n int, ok bool) {
	parts := strings.Split(id, "_")
	if len(parts) >= 3 {
		if at, err := parseSnapshotTime(parts[len(parts)-2], parts[len(parts)-1]); err == nil {
			return strings.Join(parts[:len(parts)-2], "_"), at, 0, true
		}
	}
	if len(parts) >= 4 {
		counter, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil || counter < 1 {
			return "", time.Time{}, 0, false
		}
		if at, err := parseSnapshotTime(parts[len(parts)-3], parts[len(parts)-2]); err == nil {
			return strings.Join(parts[:len(parts)-3], "_"), at, counter, true
		}
	}
	return "", time.Time{}, 0, false
}

func parseSnapshotTime(date, clock string) (time.Time, error) {
	if len(date) != 8 || len(clock) != 6 {
		return time.Time{}, errors.New("malformed snapshot timestamp")
	}
	return time.ParseInLocation(SnapshotTimeLayout, date+"_"+clock, time.Local)
}

// SnapshotBelongsTo reports whether a snapshot id was produced for table.
func SnapshotBelongsTo(id, table string) bool {
	t, _, _, ok := ParseSnapshotID(id)
	return ok && t == table
}
