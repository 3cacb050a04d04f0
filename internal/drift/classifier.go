package drift

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/bqdrift/bqdrift/internal/loader"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/pkg/core"
)

// State labels one (query, partition) after comparing current
// definitions against the recorded execution.
type State string

// Drift states, in classification priority order.
const (
	StateNeverRun        State = "never_run"
	StateFailed          State = "failed"
	StateVersionUpgraded State = "version_upgraded"
	StateSQLChanged      State = "sql_changed"
	StateSchemaChanged   State = "schema_changed"
	StateUpstreamChanged State = "upstream_changed"
	StateCurrent         State = "current"
)

// NeedsRerun reports whether the state calls for re-execution.
func (s State) NeedsRerun() bool { return s != StateCurrent }

// PartitionDrift is the classification of one (query, partition).
type PartitionDrift struct {
	QueryName    string
	PartitionKey core.PartitionKey
	// Label is the single highest-priority state per the rule order.
	Label State
	// Flags carries every difference observed, so that a partition
	// that is both sql_changed and schema_changed reports both.
	Flags []State
	// CausedBy names the upstream query for upstream_changed.
	CausedBy        string
	CurrentVersion  int
	CurrentRevision int
	ExecutedVersion int // 0 when never run
	ExecutedSQLB64  string
	CurrentSQL      string
}

// Has reports whether flag is among the observed differences.
func (d PartitionDrift) Has(flag State) bool {
	for _, f := range d.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// DisplayLabel is the state shown to users: when both sql_changed and
// schema_changed hold, schema_changed is the higher-severity label.
func (d PartitionDrift) DisplayLabel() State {
	if d.Has(StateSQLChanged) && d.Has(StateSchemaChanged) {
		return StateSchemaChanged
	}
	return d.Label
}

// Report is the drift classification over a partition range.
type Report struct {
	Partitions []PartitionDrift
}

// ByQuery groups the report's entries by query name.
func (r *Report) ByQuery() map[string][]PartitionDrift {
	out := map[string][]PartitionDrift{}
	for _, p := range r.Partitions {
		out[p.QueryName] = append(out[p.QueryName], p)
	}
	return out
}

// Summary counts partitions per display label.
func (r *Report) Summary() map[State]int {
	out := map[State]int{}
	for _, p := range r.Partitions {
		out[p.DisplayLabel()]++
	}
	return out
}

// NeedsRerun returns the entries that call for re-execution.
func (r *Report) NeedsRerun() []PartitionDrift {
	var out []PartitionDrift
	for _, p := range r.Partitions {
		if p.Label.NeedsRerun() {
			out = append(out, p)
		}
	}
	return out
}

// Clean reports whether every partition is current.
func (r *Report) Clean() bool {
	for _, p := range r.Partitions {
		if p.Label != StateCurrent {
			return false
		}
	}
	return true
}

// Classifier computes drift states for (query, partition) pairs.
type Classifier struct {
	repo    *loader.Repository
	store  state.Store
	logger  *slog.Logger
	// now returns the wall clock; swapped in tests.
	now func() time.Time
}

// NewClassifier creates a classifier over a loaded repository and the
// state gateway.
func NewClassifier(repo *loader.Repository, store state.Store, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Classifier{repo: repo, store: store, logger: logger, now: time.Now}
}

// WithNow fixes the classifier's wall clock, for tests.
func (c *Classifier) WithNow(now func() time.Time) *Classifier {
	c.now = now
	return c
}

// ClassifyRange classifies every partition of query from lo through hi
// inclusive. The recorded rows are fetched in one batched read; a
// state row written after that read (a concurrent sync) is not seen by
// this call, and nothing re-checks it before the runner records.
func (c *Classifier) ClassifyRange(ctx context.Context, q *core.Query, lo, hi core.PartitionKey) ([]PartitionDrift, error) {
	recorded, err := c.store.GetStatesRange(ctx, q.Name, lo.String(), hi.String())
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*state.StateRecord, len(recorded))
	for _, rec := range recorded {
		byKey[rec.PartitionKey] = rec
	}

	var out []PartitionDrift
	for _, key := range core.Keys(lo, hi, q.Destination.Partition.Interval) {
		d, err := c.classify(ctx, q, key, byKey[key.String()])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Classify classifies a single (query, partition).
func (c *Classifier) Classify(ctx context.Context, q *core.Query, key core.PartitionKey) (PartitionDrift, error) {
	rec, err := c.store.GetState(ctx, q.Name, key.String())
	if err != nil {
		return PartitionDrift{}, err
	}
	return c.classify(ctx, q, key, rec)
}

// classify applies the rule order: never_run, failed,
// version_upgraded, sql_changed, schema_changed, upstream_changed,
// current. The order is significant: version_upgraded is reported in
// preference to the sql_changed it implies.
func (c *Classifier) classify(ctx context.Context, q *core.Query, key core.PartitionKey, rec *state.StateRecord) (PartitionDrift, error) {
	d := PartitionDrift{QueryName: q.Name, PartitionKey: key}

	current, err := core.Resolve(q, key, c.now())
	if err != nil {
		// No effective version: nothing can have run faithfully.
		d.Label = StateNeverRun
		d.Flags = []State{StateNeverRun}
		return d, nil
	}
	d.CurrentVersion = current.Version
	d.CurrentRevision = current.Revision
	d.CurrentSQL = current.SQL

	if rec == nil {
		d.Label = StateNeverRun
		d.Flags = []State{StateNeverRun}
		return d, nil
	}
	d.ExecutedVersion = rec.Version
	d.ExecutedSQLB64 = rec.ExecutedSQLB64

	if rec.Status == state.StatusFailed {
		d.Label = StateFailed
		d.Flags = []State{StateFailed}
		return d, nil
	}

	sums, err := FromResolved(current, q.RawYAML)
	if err != nil {
		return PartitionDrift{}, err
	}

	if rec.Version != current.Version {
		d.Flags = append(d.Flags, StateVersionUpgraded)
	}
	if rec.SQLChecksum != sums.SQL {
		d.Flags = append(d.Flags, StateSQLChanged)
	}
	if rec.SchemaChecksum != sums.Schema {
		d.Flags = append(d.Flags, StateSchemaChanged)
	}

	if len(d.Flags) == 0 {
		causedBy, err := c.upstreamChanged(ctx, q, rec)
		if err != nil {
			return PartitionDrift{}, err
		}
		if causedBy != "" {
			d.Flags = append(d.Flags, StateUpstreamChanged)
			d.CausedBy = causedBy
		}
	}

	if len(d.Flags) == 0 {
		d.Label = StateCurrent
		d.Flags = []State{StateCurrent}
		return d, nil
	}
	d.Label = d.Flags[0]
	return d, nil
}

// upstreamChanged reports the first upstream (alphabetically) whose
// execution watermark has advanced past the watermark recorded when
// this partition last ran. The watermark is the upstream's newest
// executed_at across all partitions; comparing globally errs toward
// re-execution, which is the safe direction for staleness.
func (c *Classifier) upstreamChanged(ctx context.Context, q *core.Query, rec *state.StateRecord) (string, error) {
	upstreams := append([]string(nil), q.Upstreams...)
	sort.Strings(upstreams)
	for _, u := range upstreams {
		latest, err := c.store.LatestExecutionAny(ctx, u)
		if err != nil {
			return "", err
		}
		if latest.IsZero() {
			continue
		}
		watermark, recorded := rec.UpstreamStates[u]
		if !recorded || latest.After(watermark) {
			return u, nil
		}
	}
	return "", nil
}
