package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PartitionType discriminates the partitioning scheme of a destination.
type PartitionType string

// Partitioning schemes.
const (
	PartitionTime          PartitionType = "TIME"
	PartitionRange         PartitionType = "RANGE"
	PartitionIngestionTime PartitionType = "INGESTION_TIME"
)

// Granularity is the time unit of a TIME or INGESTION_TIME partition.
type Granularity string

// Time partition granularities.
const (
	GranularityHour  Granularity = "HOUR"
	GranularityDay   Granularity = "DAY"
	GranularityMonth Granularity = "MONTH"
	GranularityYear  Granularity = "YEAR"
)

// coarseness orders granularities from finest to coarsest.
var coarseness = map[Granularity]int{
	GranularityHour:  0,
	GranularityDay:   1,
	GranularityMonth: 2,
	GranularityYear:  3,
}

// Coarser reports whether g is a coarser unit than other.
func (g Granularity) Coarser(other Granularity) bool {
	return coarseness[g] > coarseness[other]
}

// PartitionSpec describes how a destination table is partitioned.
// Field is empty for INGESTION_TIME; Start/End/Interval apply to RANGE.
type PartitionSpec struct {
	Type        PartitionType
	Granularity Granularity
	Field       string
	Start       int64
	End         int64
	Interval    int64
}

// KeyFormat returns the layout of the partition-key string for this spec.
func (p PartitionSpec) KeyFormat() string {
	if p.Type == PartitionRange {
		return "integer"
	}
	switch p.Granularity {
	case GranularityHour:
		return "2006-01-02T15"
	case GranularityMonth:
		return "2006-01"
	case GranularityYear:
		return "2006"
	default:
		return "2006-01-02"
	}
}

// PartitionKey identifies one partition of one destination table. Time
// partitions carry the partition's start instant in UTC; range
// partitions carry the integer bucket start.
type PartitionKey struct {
	Granularity Granularity // empty for range keys
	Time        time.Time
	Int         int64
	IsRange     bool
}

// TimeKey builds a time partition key at the given granularity,
// truncating t to the partition start.
func TimeKey(g Granularity, t time.Time) PartitionKey {
	return PartitionKey{Granularity: g, Time: truncate(g, t.UTC())}
}

// DayKey builds a DAY partition key for a calendar date.
func DayKey(year int, month time.Month, day int) PartitionKey {
	return PartitionKey{Granularity: GranularityDay, Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// RangeKey builds an integer-range partition key.
func RangeKey(n int64) PartitionKey {
	return PartitionKey{Int: n, IsRange: true}
}

// ParseKey parses a partition-key string according to the destination's
// partition spec. The accepted grammar per type:
//
//	HOUR   2024-06-15T10
//	DAY    2024-06-15
//	MONTH  2024-06
//	YEAR   2024
//	RANGE  12345
func ParseKey(spec PartitionSpec, s string) (PartitionKey, error) {
	if spec.Type == PartitionRange {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return PartitionKey{}, fmt.Errorf("invalid range partition key %q: %w", s, err)
		}
		return RangeKey(n), nil
	}
	g := spec.Granularity
	if g == "" {
		g = GranularityDay
	}
	t, err := time.ParseInLocation(PartitionSpec{Granularity: g}.KeyFormat(), s, time.UTC)
	if err != nil {
		return PartitionKey{}, fmt.Errorf("invalid %s partition key %q: %w", g, s, err)
	}
	return PartitionKey{Granularity: g, Time: t}, nil
}

// String renders the key in the grammar accepted by ParseKey.
func (k PartitionKey) String() string {
	if k.IsRange {
		return strconv.FormatInt(k.Int, 10)
	}
	return k.Time.Format(PartitionSpec{Granularity: k.Granularity}.KeyFormat())
}

// Start returns the partition's start instant. Range keys have no start
// instant and return the zero time.
func (k PartitionKey) Start() time.Time {
	return k.Time
}

// Date returns the calendar date of the partition start, used for
// version resolution and the @partition_date binding.
func (k PartitionKey) Date() time.Time {
	if k.IsRange {
		return time.Time{}
	}
	y, m, d := k.Time.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Next returns the immediately following partition key. Range keys
// advance by interval (or 1 when interval is zero).
func (k PartitionKey) Next(interval int64) PartitionKey {
	if k.IsRange {
		if interval <= 0 {
			interval = 1
		}
		return RangeKey(k.Int + interval)
	}
	switch k.Granularity {
	case GranularityHour:
		return PartitionKey{Granularity: k.Granularity, Time: k.Time.Add(time.Hour)}
	case GranularityMonth:
		return PartitionKey{Granularity: k.Granularity, Time: k.Time.AddDate(0, 1, 0)}
	case GranularityYear:
		return PartitionKey{Granularity: k.Granularity, Time: k.Time.AddDate(1, 0, 0)}
	default:
		return PartitionKey{Granularity: k.Granularity, Time: k.Time.AddDate(0, 0, 1)}
	}
}

// After reports whether k sorts after other. Comparing a range key with
// a time key is undefined and reports false.
func (k PartitionKey) After(other PartitionKey) bool {
	if k.IsRange != other.IsRange {
		return false
	}
	if k.IsRange {
		return k.Int > other.Int
	}
	return k.Time.After(other.Time)
}

// Containing maps k into the partition of granularity g that contains
// it. Mapping is only defined from a finer to an equal-or-coarser time
// granularity; every other combination reports ok=false.
func (k PartitionKey) Containing(g Granularity) (PartitionKey, bool) {
	if k.IsRange || g == "" {
		return PartitionKey{}, false
	}
	if coarseness[g] < coarseness[k.Granularity] {
		return PartitionKey{}, false
	}
	return PartitionKey{Granularity: g, Time: truncate(g, k.Time)}, true
}

func truncate(g Granularity, t time.Time) time.Time {
	y, m, d := t.Date()
	switch g {
	case GranularityHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, time.UTC)
	case GranularityMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case GranularityYear:
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}

// MapToSpec maps k onto another destination's partition spec,
// returning the inclusive key range of that destination covered by k.
// Equal granularity and range-to-range map one-to-one; a coarser
// target yields the single containing partition; a finer target yields
// the covered window. Range-to-time (and back) has no defined mapping.
func MapToSpec(k PartitionKey, spec PartitionSpec) (lo, hi PartitionKey, ok bool) {
	targetRange := spec.Type == PartitionRange
	if k.IsRange != targetRange {
		return PartitionKey{}, PartitionKey{}, false
	}
	if k.IsRange {
		return k, k, true
	}
	g := spec.Granularity
	if g == "" {
		g = GranularityDay
	}
	if !k.Granularity.Coarser(g) {
		// Equal or coarser target: the containing partition.
		c, ok := k.Containing(g)
		return c, c, ok
	}
	// Finer target: the window [start, next start).
	lo = TimeKey(g, k.Time)
	hi = TimeKey(g, k.Next(0).Time.Add(-time.Nanosecond))
	return lo, hi, true
}

// Keys enumerates the partition keys from lo through hi inclusive.
// Range enumeration steps by interval.
func Keys(lo, hi PartitionKey, interval int64) []PartitionKey {
	var out []PartitionKey
	for k := lo; !k.After(hi); k = k.Next(interval) {
		out = append(out, k)
		if len(out) > 100000 {
			break
		}
	}
	return out
}
