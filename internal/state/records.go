// Package state is the typed gateway over the two warehouse-side
// tracking tables, _bqdrift_state and _bqdrift_history.
//
// _bqdrift_state holds at most one row per (query_name, partition_key)
// describing the last faithful execution. _bqdrift_history is an
// append-only audit log with one row per execution attempt. History is
// written before state so that a crash between the two leaves an
// "attempted" audit row rather than unexplained state.
package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status of the recorded execution.
type Status string

// Execution statuses.
const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// TriggeredBy records which entry point caused an execution attempt.
type TriggeredBy string

// Trigger sources.
const (
	TriggerManual   TriggeredBy = "manual"
	TriggerRun      TriggeredBy = "run"
	TriggerSync     TriggeredBy = "sync"
	TriggerBackfill TriggeredBy = "backfill"
	TriggerCascade  TriggeredBy = "cascade"
)

// HistoryStatus distinguishes attempts beyond plain success/failure.
type HistoryStatus string

// History row statuses.
const (
	HistorySuccess              HistoryStatus = "SUCCESS"
	HistoryFailed               HistoryStatus = "FAILED"
	HistorySkippedByBeforeCheck HistoryStatus = "skipped_by_before_check"
)

// StateRecord is one row of _bqdrift_state.
type StateRecord struct {
	QueryName       string
	PartitionKey    string
	PartitionDate   time.Time // zero for range partitions
	Version         int
	Revision        int // 0 when the base version SQL ran
	EffectiveFrom   time.Time
	SQLChecksum     string
	SchemaChecksum  string
	YAMLChecksum    string
	ExecutedSQLB64  string
	UpstreamStates  map[string]time.Time
	ExecutedAt      time.Time
	ExecutionTimeMS int64
	RowsWritten     int64
	BytesProcessed  int64
	Status          Status
}

// HistoryRecord is one row of _bqdrift_history.
type HistoryRecord struct {
	ID              string
	QueryName       string
	PartitionKey    string
	Version         int
	Revision        int
	ExecutedAt      time.Time
	ExecutionTimeMS int64
	RowsWritten     int64
	BytesProcessed  int64
	Status          HistoryStatus
	ErrorMessage    string
	TriggeredBy     TriggeredBy
	ExecutedBy      string
}

// StateError reports a malformed or inconsistent state row.
type StateError struct {
	Query        string
	PartitionKey string
	Msg          string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state row (%s, %s): %s", e.Query, e.PartitionKey, e.Msg)
}

// encodeUpstreamStates serializes the upstream watermark map as JSON
// with RFC 3339 timestamps.
func encodeUpstreamStates(m map[string]time.Time) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeUpstreamStates parses the JSON watermark map. Malformed JSON
// is a StateError: the row exists but cannot be trusted.
func decodeUpstreamStates(query, key, raw string) (map[string]time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	var in map[string]string
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, &StateError{Query: query, PartitionKey: key, Msg: fmt.Sprintf("malformed upstream_states JSON: %v", err)}
	}
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, &StateError{Query: query, PartitionKey: key, Msg: fmt.Sprintf("bad timestamp for upstream %s: %v", k, err)}
		}
		out[k] = t
	}
	return out, nil
}
