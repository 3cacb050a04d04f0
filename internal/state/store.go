package state

import (
	"context"
	"time"
)

// Store is the typed view over the tracking tables consumed by the
// drift classifier, the immutability auditor, and the runner. Gateway
// is the warehouse-backed implementation; Memory backs tests and
// dry-run planning.
type Store interface {
	EnsureTables(ctx context.Context) error

	GetState(ctx context.Context, query, partitionKey string) (*StateRecord, error)
	GetStatesRange(ctx context.Context, query, lo, hi string) ([]*StateRecord, error)
	ListStates(ctx context.Context, query string) ([]*StateRecord, error)
	LatestExecution(ctx context.Context, query, partitionKey string) (time.Time, error)
	LatestExecutionWithin(ctx context.Context, query, lo, hi string) (time.Time, error)
	LatestExecutionAny(ctx context.Context, query string) (time.Time, error)

	ExecutedVersions(ctx context.Context, query string) ([]VersionRev, error)
	DistinctPartitionsFor(ctx context.Context, query string, vr VersionRev) ([]string, error)
	ExecutedSQLFor(ctx context.Context, query string, vr VersionRev) (string, error)

	UpsertState(ctx context.Context, rec *StateRecord) error
	AppendHistory(ctx context.Context, rec *HistoryRecord) error
	LatestHistory(ctx context.Context, query, partitionKey string) (*HistoryRecord, error)
}

var _ Store = (*Gateway)(nil)
var _ Store = (*Memory)(nil)
