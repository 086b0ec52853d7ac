package mirror

import (
	"log"
	"math"
	"time"

	"github.com/nicktill/tagcache/pkg/source"
)

// Merge groups narrow readings by exact timestamp into sparse wide maps of
// tag -> value. Timestamps are not bucketed or rounded; two readings belong to
// the same row only when their instants are equal.
//
// Duplicate (timestamp, tag) pairs within one batch resolve last-write-wins in
// input order. The source gives no ordering guarantee for such duplicates, so
// which one survives is implementation-defined.
//
// Non-finite values are coerced to 0.0 rather than dropped, preserving row
// coverage for their timestamp. Readings missing a tag or timestamp are
// dropped with a warning.
func Merge(readings []source.Reading) map[time.Time]map[string]float64 {
	rows := make(map[time.Time]map[string]float64)

	for _, r := range readings {
		if r.Tag == "" || r.Timestamp.IsZero() {
			log.Printf("Dropping incomplete reading: tag=%q timestamp=%v", r.Tag, r.Timestamp)
			continue
		}

		value := r.Value
		if math.IsNaN(value) || math.IsInf(value, 0) {
			log.Printf("Coercing non-finite value to 0.0: tag=%s timestamp=%v", r.Tag, r.Timestamp)
			value = 0
		}

		ts := r.Timestamp.UTC()
		row, ok := rows[ts]
		if !ok {
			row = make(map[string]float64)
			rows[ts] = row
		}
		row[r.Tag] = value
	}

	return rows
}

// Tags returns the set of tag names present in merged rows.
func Tags(rows map[time.Time]map[string]float64) map[string]struct{} {
	tags := make(map[string]struct{})
	for _, row := range rows {
		for tag := range row {
			tags[tag] = struct{}{}
		}
	}
	return tags
}
