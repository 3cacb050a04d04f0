package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store. It backs tests and dry-run planning,
// and mirrors the Gateway's semantics: one state row per (query,
// partition), append-only history.
type Memory struct {
	mu      sync.RWMutex
	states  map[string]map[string]*StateRecord // query -> partition key -> row
	history []*HistoryRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: map[string]map[string]*StateRecord{}}
}

// EnsureTables implements Store; nothing to create in memory.
func (m *Memory) EnsureTables(context.Context) error { return nil }

// GetState implements Store.
func (m *Memory) GetState(_ context.Context, query, partitionKey string) (*StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.states[query][partitionKey]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// GetStatesRange implements Store. Partition-key formats are
// fixed-width per partition type, so lexicographic comparison matches
// chronological order.
func (m *Memory) GetStatesRange(_ context.Context, query, lo, hi string) ([]*StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*StateRecord
	for key, rec := range m.states[query] {
		if key >= lo && key <= hi {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartitionKey < out[j].PartitionKey })
	return out, nil
}

// ListStates implements Store.
func (m *Memory) ListStates(_ context.Context, query string) ([]*StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*StateRecord
	for _, rec := range m.states[query] {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartitionKey < out[j].PartitionKey })
	return out, nil
}

// LatestExecution implements Store.
func (m *Memory) LatestExecution(ctx context.Context, query, partitionKey string) (time.Time, error) {
	rec, err := m.GetState(ctx, query, partitionKey)
	if err != nil || rec == nil {
		return time.Time{}, err
	}
	return rec.ExecutedAt, nil
}

// LatestExecutionWithin implements Store.
func (m *Memory) LatestExecutionWithin(ctx context.Context, query, lo, hi string) (time.Time, error) {
	recs, err := m.GetStatesRange(ctx, query, lo, hi)
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

// LatestExecutionAny implements Store.
func (m *Memory) LatestExecutionAny(_ context.Context, query string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for _, rec := range m.states[query] {
		if rec.ExecutedAt.After(latest) {
			latest = rec.ExecutedAt
		}
	}
	return latest, nil
}

// ExecutedVersions implements Store.
func (m *Memory) ExecutedVersions(_ context.Context, query string) ([]VersionRev, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[VersionRev]bool{}
	for _, rec := range m.states[query] {
		seen[VersionRev{Version: rec.Version, Revision: rec.Revision}] = true
	}
	out := make([]VersionRev, 0, len(seen))
	for vr := range seen {
		out = append(out, vr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].Revision < out[j].Revision
	})
	return out, nil
}

// DistinctPartitionsFor implements Store.
func (m *Memory) DistinctPartitionsFor(_ context.Context, query string, vr VersionRev) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for key, rec := range m.states[query] {
		if rec.Version == vr.Version && rec.Revision == vr.Revision {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ExecutedSQLFor implements Store.
func (m *Memory) ExecutedSQLFor(_ context.Context, query string, vr VersionRev) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.states[query] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rec := m.states[query][key]
		if rec.Version == vr.Version && rec.Revision == vr.Revision && rec.ExecutedSQLB64 != "" {
			return rec.ExecutedSQLB64, nil
		}
	}
	return "", nil
}

// UpsertState implements Store.
func (m *Memory) UpsertState(_ context.Context, rec *StateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[rec.QueryName] == nil {
		m.states[rec.QueryName] = map[string]*StateRecord{}
	}
	cp := *rec
	m.states[rec.QueryName][rec.PartitionKey] = &cp
	return nil
}

// AppendHistory implements Store.
func (m *Memory) AppendHistory(_ context.Context, rec *HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.history = append(m.history, &cp)
	return nil
}

// LatestHistory implements Store.
func (m *Memory) LatestHistory(_ context.Context, query, partitionKey string) (*HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *HistoryRecord
	for _, rec := range m.history {
		if rec.QueryName != query || rec.PartitionKey != partitionKey {
			continue
		}
		if latest == nil || rec.ExecutedAt.After(latest.ExecutedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// History returns every appended history row, in append order.
func (m *Memory) History() []*HistoryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*HistoryRecord, len(m.history))
	for i, rec := range m.history {
		cp := *rec
		out[i] = &cp
	}
	return out
}
