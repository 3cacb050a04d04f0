package drift

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bqdrift/bqdrift/internal/diff"
	"github.com/bqdrift/bqdrift/internal/loader"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/pkg/core"
)

// Violation reports executed SQL that no longer matches the on-disk
// definition for one (query, version, revision).
type Violation struct {
	QueryName          string
	Version            int
	Revision           int
	SourcePath         string
	AffectedPartitions []string
	StoredSQL          string
	CurrentSQL         string
}

// Label renders v<N> or v<N>.r<K>.
func (v *Violation) Label() string {
	if v.Revision > 0 {
		return fmt.Sprintf("v%d.r%d", v.Version, v.Revision)
	}
	return fmt.Sprintf("v%d", v.Version)
}

// PartitionRange renders the affected span as "lo to hi".
func (v *Violation) PartitionRange() string {
	if len(v.AffectedPartitions) == 0 {
		return "-"
	}
	lo := v.AffectedPartitions[0]
	hi := v.AffectedPartitions[len(v.AffectedPartitions)-1]
	if lo == hi {
		return lo
	}
	return lo + " to " + hi
}

// Diff renders the unified diff from stored to current SQL.
func (v *Violation) Diff() string {
	return diff.Unified("stored "+v.Label(), "current "+v.Label(), v.StoredSQL, v.CurrentSQL)
}

// AuditReport is the outcome of the immutability audit.
type AuditReport struct {
	Violations []Violation
	// Entries covers every executed (version, revision), modified or
	// not, for the audit command's listing.
	Entries []AuditEntry
}

// AuditEntry is one executed (query, version, revision) with its
// current standing.
type AuditEntry struct {
	QueryName      string
	Version        int
	Revision       int
	SourcePath     string
	Modified       bool
	PartitionCount int
	FirstExecuted  time.Time
	LastExecuted   time.Time
	CurrentSQL     string
	StoredSQL      string
}

// Label renders v<N> or v<N>.r<K>.
func (e *AuditEntry) Label() string {
	if e.Revision > 0 {
		return fmt.Sprintf("v%d.r%d", e.Version, e.Revision)
	}
	return fmt.Sprintf("v%d", e.Version)
}

// Clean reports whether no violations were found.
func (r *AuditReport) Clean() bool { return len(r.Violations) == 0 }

// TotalAffectedPartitions sums affected partitions over violations.
func (r *AuditReport) TotalAffectedPartitions() int {
	n := 0
	for _, v := range r.Violations {
		n += len(v.AffectedPartitions)
	}
	return n
}

// Auditor verifies that SQL recorded as executed still matches the
// current resolved SQL for each (version, revision). A sync must fail
// on any violation unless source mutation is explicitly allowed.
type Auditor struct {
	repo    *loader.Repository
	store  state.Store
	logger  *slog.Logger
}

// NewAuditor creates an immutability auditor.
func NewAuditor(repo *loader.Repository, store state.Store, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Auditor{repo: repo, store: store, logger: logger}
}

// Audit checks every executed (version, revision) of the given queries
// (all repository queries when names is empty).
func (a *Auditor) Audit(ctx context.Context, names ...string) (*AuditReport, error) {
	queries := a.repo.Queries
	if len(names) > 0 {
		queries = nil
		for _, n := range names {
			if q, ok := a.repo.Query(n); ok {
				queries = append(queries, q)
			}
		}
	}

	report := &AuditReport{}
	for _, q := range queries {
		if err := a.auditQuery(ctx, q, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (a *Auditor) auditQuery(ctx context.Context, q *core.Query, report *AuditReport) error {
	// One batched read per query; the states are regrouped by
	// (version, revision) locally.
	states, err := a.store.ListStates(ctx, q.Name)
	if err != nil {
		return err
	}

	groups := map[state.VersionRev][]*state.StateRecord{}
	var order []state.VersionRev
	for _, rec := range states {
		vr := state.VersionRev{Version: rec.Version, Revision: rec.Revision}
		if _, seen := groups[vr]; !seen {
			order = append(order, vr)
		}
		groups[vr] = append(groups[vr], rec)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].Version != order[j].Version {
			return order[i].Version < order[j].Version
		}
		return order[i].Revision < order[j].Revision
	})

	for _, vr := range order {
		recs := groups[vr]

		currentSQL, sourcePath, ok := currentSQLFor(q, vr)
		if !ok {
			// The state row points at a version or revision absent
			// from current definitions; surfaced as a StateError by
			// the status path, not an immutability violation.
			a.logger.Warn("state references unknown version", "query", q.Name, "version", vr.Version, "revision", vr.Revision)
			continue
		}

		// One canonical representative: by invariant every row of the
		// group stores the same SQL.
		var storedSQL string
		found := false
		for _, rec := range recs {
			if rec.ExecutedSQLB64 == "" {
				continue
			}
			decoded, ok := DecompressFromBase64(rec.ExecutedSQLB64)
			if !ok {
				return &state.StateError{Query: q.Name, PartitionKey: rec.PartitionKey, Msg: "executed_sql_b64 is not valid gzip+base64"}
			}
			storedSQL = decoded
			found = true
			break
		}
		if !found {
			continue
		}

		var partitions []string
		first, last := time.Time{}, time.Time{}
		for _, rec := range recs {
			partitions = append(partitions, rec.PartitionKey)
			if first.IsZero() || rec.ExecutedAt.Before(first) {
				first = rec.ExecutedAt
			}
			if rec.ExecutedAt.After(last) {
				last = rec.ExecutedAt
			}
		}
		sort.Strings(partitions)

		entry := AuditEntry{
			QueryName:      q.Name,
			Version:        vr.Version,
			Revision:       vr.Revision,
			SourcePath:     sourcePath,
			Modified:       storedSQL != currentSQL,
			PartitionCount: len(partitions),
			FirstExecuted:  first,
			LastExecuted:   last,
			CurrentSQL:     currentSQL,
			StoredSQL:      storedSQL,
		}
		report.Entries = append(report.Entries, entry)

		if entry.Modified {
			report.Violations = append(report.Violations, Violation{
				QueryName:          q.Name,
				Version:            vr.Version,
				Revision:           vr.Revision,
				SourcePath:         sourcePath,
				AffectedPartitions: partitions,
				StoredSQL:          storedSQL,
				CurrentSQL:         currentSQL,
			})
		}
	}
	return nil
}

// currentSQLFor resolves the on-disk SQL for an executed (version,
// revision) identity.
func currentSQLFor(q *core.Query, vr state.VersionRev) (sql, sourcePath string, ok bool) {
	for i := range q.Versions {
		v := &q.Versions[i]
		if v.Version != vr.Version {
			continue
		}
		if vr.Revision == 0 {
			return v.SQL, v.SourcePath, true
		}
		for j := range v.Revisions {
			if v.Revisions[j].Revision == vr.Revision {
				return v.Revisions[j].SQL, v.Revisions[j].SourcePath, true
			}
		}
		return "", "", false
	}
	return "", "", false
}
