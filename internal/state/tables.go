package state

import "fmt"

// stateTable and historyTable are the tracking table names inside the
// configured tracking dataset.
const (
	stateTable   = "_bqdrift_state"
	historyTable = "_bqdrift_history"
)

// stateDDL creates _bqdrift_state: one row per (query, partition),
// partitioned by partition_date and clustered by query_name.
func stateDDL(project, dataset string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS `+"`%s.%s.%s`"+` (
  query_name STRING NOT NULL,
  partition_key STRING NOT NULL,
  partition_date DATE,
  version INT64 NOT NULL,
  revision INT64,
  effective_from DATE NOT NULL,
  sql_checksum STRING NOT NULL,
  schema_checksum STRING NOT NULL,
  yaml_checksum STRING NOT NULL,
  executed_sql_b64 STRING,
  upstream_states JSON,
  executed_at TIMESTAMP NOT NULL,
  execution_time_ms INT64,
  rows_written INT64,
  bytes_processed INT64,
  status STRING NOT NULL
)
PARTITION BY partition_date
CLUSTER BY query_name`, project, dataset, stateTable)
}

// historyDDL creates _bqdrift_history: append-only, one row per
// attempt, partitioned by execution day.
func historyDDL(project, dataset string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS `+"`%s.%s.%s`"+` (
  id STRING NOT NULL,
  query_name STRING NOT NULL,
  partition_key STRING NOT NULL,
  version INT64 NOT NULL,
  revision INT64,
  executed_at TIMESTAMP NOT NULL,
  execution_time_ms INT64,
  rows_written INT64,
  bytes_processed INT64,
  status STRING NOT NULL,
  error_message STRING,
  triggered_by STRING NOT NULL,
  executed_by STRING
)
PARTITION BY DATE(executed_at)`, project, dataset, historyTable)
}
