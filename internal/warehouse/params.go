package warehouse

import (
	"strconv"

	"cloud.google.com/go/civil"

	"github.com/bqdrift/bqdrift/pkg/core"
)

// PartitionParam converts a partition key into the typed value bound
// as @partition_date. Day-and-coarser keys bind as DATE, hourly keys
// as TIMESTAMP, range keys as INT64.
func PartitionParam(key core.PartitionKey) any {
	if key.IsRange {
		return key.Int
	}
	if key.Granularity == core.GranularityHour {
		return key.Time
	}
	return civil.DateOf(key.Time)
}

// TableDecorator renders the partition decorator ($ suffix) selecting
// the partition identified by key.
func TableDecorator(key core.PartitionKey) string {
	if key.IsRange {
		return strconv.FormatInt(key.Int, 10)
	}
	switch key.Granularity {
	case core.GranularityHour:
		return key.Time.Format("2006010215")
	case core.GranularityMonth:
		return key.Time.Format("200601")
	case core.GranularityYear:
		return key.Time.Format("2006")
	default:
		return key.Time.Format("20060102")
	}
}
