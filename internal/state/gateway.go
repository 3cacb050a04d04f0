package state

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bqdrift/bqdrift/internal/warehouse"
)

// VersionRev identifies an executed (version, revision?) pair.
type VersionRev struct {
	Version  int
	Revision int // 0 = base version SQL
}

// Gateway is the typed read/write view over the tracking tables.
// Reads batch over partition ranges; each state upsert is one MERGE.
type Gateway struct {
	client  warehouse.Client
	project string
	dataset string
	logger  *slog.Logger
}

// NewGateway creates a gateway over the tracking dataset.
func NewGateway(client warehouse.Client, project, dataset string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{client: client, project: project, dataset: dataset, logger: logger}
}

func (g *Gateway) stateRef() string {
	return fmt.Sprintf("`%s.%s.%s`", g.project, g.dataset, stateTable)
}

func (g *Gateway) historyRef() string {
	return fmt.Sprintf("`%s.%s.%s`", g.project, g.dataset, historyTable)
}

// EnsureTables creates both tracking tables if absent. Safe to re-run.
func (g *Gateway) EnsureTables(ctx context.Context) error {
	for _, ddl := range []string{stateDDL(g.project, g.dataset), historyDDL(g.project, g.dataset)} {
		if _, err := g.client.Execute(ctx, ddl, nil); err != nil {
			return err
		}
	}
	g.logger.Debug("tracking tables ensured", "dataset", g.dataset)
	return nil
}

const stateColumns = `query_name, partition_key, partition_date, version, revision, effective_from,
sql_checksum, schema_checksum, yaml_checksum, executed_sql_b64,
TO_JSON_STRING(upstream_states) AS upstream_states, executed_at,
execution_time_ms, rows_written, bytes_processed, status`

// GetState returns the state row for one (query, partition), or nil.
func (g *Gateway) GetState(ctx context.Context, query, partitionKey string) (*StateRecord, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE query_name = @query_name AND partition_key = @partition_key`,
		stateColumns, g.stateRef())
	rows, err := g.client.Query(ctx, sql, warehouse.Params{"query_name": query, "partition_key": partitionKey})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToState(rows[0])
}

// GetStatesRange returns the state rows for one query across an
// inclusive partition-key range, ordered by partition key.
func (g *Gateway) GetStatesRange(ctx context.Context, query, lo, hi string) ([]*StateRecord, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s
WHERE query_name = @query_name AND partition_key BETWEEN @lo AND @hi
ORDER BY partition_key`, stateColumns, g.stateRef())
	rows, err := g.client.Query(ctx, sql, warehouse.Params{"query_name": query, "lo": lo, "hi": hi})
	if err != nil {
		return nil, err
	}
	return rowsToStates(rows)
}

// ListStates returns every state row for a query.
func (g *Gateway) ListStates(ctx context.Context, query string) ([]*StateRecord, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE query_name = @query_name ORDER BY partition_key`,
		stateColumns, g.stateRef())
	rows, err := g.client.Query(ctx, sql, warehouse.Params{"query_name": query})
	if err != nil {
		return nil, err
	}
	return rowsToStates(rows)
}

// LatestExecution returns the executed_at timestamp of the recorded
// state for (query, partition), or the zero time when never run.
func (g *Gateway) LatestExecution(ctx context.Context, query, partitionKey string) (time.Time, error) {
	rec, err := g.GetState(ctx, query, partitionKey)
	if err != nil || rec == nil {
		return time.Time{}, err
	}
	return rec.ExecutedAt, nil
}

// LatestExecutionWithin returns the newest executed_at among a query's
// state rows with partition keys in [lo, hi], or the zero time.
func (g *Gateway) LatestExecutionWithin(ctx context.Context, query, lo, hi string) (time.Time, error) {
	recs, err := g.GetStatesRange(ctx, query, lo, hi)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, rec := range recs {
		if rec.ExecutedAt.After(latest) {
			latest = rec.ExecutedAt
		}
	}
	return latest, nil
}

// LatestExecutionAny returns the newest executed_at across every
// partition of a query: the query's global execution watermark, as
// recorded into downstream upstream_states maps.
func (g *Gateway) LatestExecutionAny(ctx context.Context, query string) (time.Time, error) {
	sql := fmt.Sprintf(`SELECT MAX(executed_at) AS latest FROM %s WHERE query_name = @query_name`, g.stateRef())
	rows, err := g.client.Query(ctx, sql, warehouse.Params{"query_name": query})
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	return asTime(rows[0]["latest"]), nil
}

// ExecutedVersions lists the distinct (version, revision) pairs that
// have state rows for a query, whatever their status, ordered.
func (g *Gateway) ExecutedVersions(ctx context.Context, query string) ([]VersionRev, error) {
	sql := fmt.Sprintf(`SELECT DISTINCT version, revision FROM %s
WHERE query_name = @query_name ORDER BY version, revision`, g.stateRef())
	rows, err := g.client.Query(ctx, sql, warehouse.Params{"query_name": query})
	if err != nil {
		return nil, err
	}
	out := make([]VersionRev, 0, len(rows))
	for _, r := range rows {
		out = append(out, VersionRev{Version: int(asInt64(r["version"])), Revision: int(asInt64(r["revision"]))})
	}
	return out, nil
}

// DistinctPartitionsFor lists the partition keys whose state rows used
// the given (version, revision), sorted.
func (g *Gateway) DistinctPartitionsFor(ctx context.Context, query string, vr VersionRev) ([]string, error) {
	sql := fmt.Sprintf(`SELECT DISTINCT partition_key FROM %s
WHERE query_name = @query_name AND version = @version AND COALESCE(revision, 0) = @revision`, g.stateRef())
	rows, err := g.client.Query(ctx, sql, warehouse.Params{
		"query_name": query, "version": int64(vr.Version), "revision": int64(vr.Revision),
	})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, asString(r["partition_key"]))
	}
	sort.Strings(keys)
	return keys, nil
}

// ExecutedSQLFor returns the stored executed SQL (still compressed and
// base64-encoded) for any partition that ran the given (version,
// revision). By invariant every such row shares the same SQL; the
// auditor flags divergence.
func (g *Gateway) ExecutedSQLFor(ctx context.Context, query string, vr VersionRev) (string, error) {
	sql := fmt.Sprintf(`SELECT executed_sql_b64 FROM %s
WHERE query_name = @query_name AND version = @version AND COALESCE(revision, 0) = @revision
  AND executed_sql_b64 IS NOT NULL
ORDER BY partition_key LIMIT 1`, g.stateRef())
	rows, err := g.client.Query(ctx, sql, warehouse.Params{
		"query_name": query, "version": int64(vr.Version), "revision": int64(vr.Revision),
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return asString(rows[0]["executed_sql_b64"]), nil
}

// UpsertState writes one state row with a single MERGE keyed on
// (query_name, partition_key).
func (g *Gateway) UpsertState(ctx context.Context, rec *StateRecord) error {
	upstream, err := encodeUpstreamStates(rec.UpstreamStates)
	if err != nil {
		return fmt.Errorf("encode upstream_states: %w", err)
	}

	sql := fmt.Sprintf(`MERGE %s T
USING (SELECT @query_name AS query_name, @partition_key AS partition_key) S
ON T.query_name = S.query_name AND T.partition_key = S.partition_key
WHEN MATCHED THEN UPDATE SET
  partition_date = @partition_date,
  version = @version,
  revision = @revision,
  effective_from = @effective_from,
  sql_checksum = @sql_checksum,
  schema_checksum = @schema_checksum,
  yaml_checksum = @yaml_checksum,
  executed_sql_b64 = @executed_sql_b64,
  upstream_states = PARSE_JSON(@upstream_states),
  executed_at = @executed_at,
  execution_time_ms = @execution_time_ms,
  rows_written = @rows_written,
  bytes_processed = @bytes_processed,
  status = @status
WHEN NOT MATCHED THEN INSERT (
  query_name, partition_key, partition_date, version, revision, effective_from,
  sql_checksum, schema_checksum, yaml_checksum, executed_sql_b64, upstream_states,
  executed_at, execution_time_ms, rows_written, bytes_processed, status
) VALUES (
  @query_name, @partition_key, @partition_date, @version, @revision, @effective_from,
  @sql_checksum, @schema_checksum, @yaml_checksum, @executed_sql_b64, PARSE_JSON(@upstream_states),
  @executed_at, @execution_time_ms, @rows_written, @bytes_processed, @status
)`, g.stateRef())

	params := warehouse.Params{
		"query_name":        rec.QueryName,
		"partition_key":     rec.PartitionKey,
		"partition_date":    dateOrNil(rec.PartitionDate),
		"version":           int64(rec.Version),
		"revision":          int64(rec.Revision),
		"effective_from":    rec.EffectiveFrom.Format("2006-01-02"),
		"sql_checksum":      rec.SQLChecksum,
		"schema_checksum":   rec.SchemaChecksum,
		"yaml_checksum":     rec.YAMLChecksum,
		"executed_sql_b64":  rec.ExecutedSQLB64,
		"upstream_states":   upstream,
		"executed_at":       rec.ExecutedAt.UTC(),
		"execution_time_ms": rec.ExecutionTimeMS,
		"rows_written":      rec.RowsWritten,
		"bytes_processed":   rec.BytesProcessed,
		"status":            string(rec.Status),
	}
	if _, err := g.client.Execute(ctx, sql, params); err != nil {
		return err
	}
	g.logger.Debug("state upserted", "query", rec.QueryName, "partition", rec.PartitionKey, "status", rec.Status)
	return nil
}

// AppendHistory inserts one audit row. History rows are never updated.
func (g *Gateway) AppendHistory(ctx context.Context, rec *HistoryRecord) error {
	sql := fmt.Sprintf(`INSERT INTO %s (
  id, query_name, partition_key, version, revision, executed_at,
  execution_time_ms, rows_written, bytes_processed, status,
  error_message, triggered_by, executed_by
) VALUES (
  @id, @query_name, @partition_key, @version, @revision, @executed_at,
  @execution_time_ms, @rows_written, @bytes_processed, @status,
  @error_message, @triggered_by, @executed_by
)`, g.historyRef())

	params := warehouse.Params{
		"id":                rec.ID,
		"query_name":        rec.QueryName,
		"partition_key":     rec.PartitionKey,
		"version":           int64(rec.Version),
		"revision":          int64(rec.Revision),
		"executed_at":       rec.ExecutedAt.UTC(),
		"execution_time_ms": rec.ExecutionTimeMS,
		"rows_written":      rec.RowsWritten,
		"bytes_processed":   rec.BytesProcessed,
		"status":            string(rec.Status),
		"error_message":     rec.ErrorMessage,
		"triggered_by":      string(rec.TriggeredBy),
		"executed_by":       rec.ExecutedBy,
	}
	if _, err := g.client.Execute(ctx, sql, params); err != nil {
		return err
	}
	return nil
}

// LatestHistory returns the most recent history row for (query,
// partition), or nil.
func (g *Gateway) LatestHistory(ctx context.Context, query, partitionKey string) (*HistoryRecord, error) {
	sql := fmt.Sprintf(`SELECT id, query_name, partition_key, version, revision, executed_at,
execution_time_ms, rows_written, bytes_processed, status, error_message, triggered_by, executed_by
FROM %s WHERE query_name = @query_name AND partition_key = @partition_key
ORDER BY executed_at DESC LIMIT 1`, g.historyRef())
	rows, err := g.client.Query(ctx, sql, warehouse.Params{"query_name": query, "partition_key": partitionKey})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &HistoryRecord{
		ID:              asString(r["id"]),
		QueryName:       asString(r["query_name"]),
		PartitionKey:    asString(r["partition_key"]),
		Version:         int(asInt64(r["version"])),
		Revision:        int(asInt64(r["revision"])),
		ExecutedAt:      asTime(r["executed_at"]),
		ExecutionTimeMS: asInt64(r["execution_time_ms"]),
		RowsWritten:     asInt64(r["rows_written"]),
		BytesProcessed:  asInt64(r["bytes_processed"]),
		Status:          HistoryStatus(asString(r["status"])),
		ErrorMessage:    asString(r["error_message"]),
		TriggeredBy:     TriggeredBy(asString(r["triggered_by"])),
		ExecutedBy:      asString(r["executed_by"]),
	}, nil
}

func rowsToStates(rows []warehouse.Row) ([]*StateRecord, error) {
	out := make([]*StateRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := rowToState(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func rowToState(r warehouse.Row) (*StateRecord, error) {
	rec := &StateRecord{
		QueryName:       asString(r["query_name"]),
		PartitionKey:    asString(r["partition_key"]),
		PartitionDate:   asTime(r["partition_date"]),
		Version:         int(asInt64(r["version"])),
		Revision:        int(asInt64(r["revision"])),
		EffectiveFrom:   asTime(r["effective_from"]),
		SQLChecksum:     asString(r["sql_checksum"]),
		SchemaChecksum:  asString(r["schema_checksum"]),
		YAMLChecksum:    asString(r["yaml_checksum"]),
		ExecutedSQLB64:  asString(r["executed_sql_b64"]),
		ExecutedAt:      asTime(r["executed_at"]),
		ExecutionTimeMS: asInt64(r["execution_time_ms"]),
		RowsWritten:     asInt64(r["rows_written"]),
		BytesProcessed:  asInt64(r["bytes_processed"]),
		Status:          Status(asString(r["status"])),
	}
	upstream, err := decodeUpstreamStates(rec.QueryName, rec.PartitionKey, asString(r["upstream_states"]))
	if err != nil {
		return nil, err
	}
	rec.UpstreamStates = upstream
	return rec, nil
}

func dateOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format("2006-01-02")
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999 MST", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}
