package core

import (
	"fmt"
	"time"
)

// Destination identifies the table a query writes, along with its
// partitioning and optional clustering.
type Destination struct {
	Dataset   string
	Table     string
	Partition PartitionSpec
	Cluster   []string
}

// Relation returns the dataset-qualified table name.
func (d Destination) Relation() string {
	return d.Dataset + "." + d.Table
}

// Qualified returns the fully-qualified table name for a project.
func (d Destination) Qualified(project string) string {
	return project + "." + d.Relation()
}

// Revision is a within-version bugfix SQL swap. The schema is the
// version's; only the SQL text differs. BackfillSince is advisory: it
// hints which partitions a sync should revisit.
type Revision struct {
	Revision      int
	EffectiveFrom time.Time
	SQL           string
	SourcePath    string
	Reason        string
	BackfillSince time.Time
}

// Version is a schema-stable epoch of a query. Its SQL applies to every
// partition whose date falls on or after EffectiveFrom, until a later
// version takes over.
type Version struct {
	Version       int
	EffectiveFrom time.Time
	SQL           string
	SourcePath    string
	Description   string
	Schema        Schema
	Revisions     []Revision
	Invariants    Invariants
}

// Query is one named unit of computation producing one destination
// table. Versions are ordered by version number.
type Query struct {
	Name        string
	Destination Destination
	Description string
	Owner       string
	Tags        []string
	Versions    []Version
	// Upstreams is the extracted upstream query-name set, sorted.
	// Populated after dependency extraction; empty until then.
	Upstreams []string
	// RawYAML is the top-level YAML file's bytes before include
	// expansion, hashed into the yaml checksum.
	RawYAML []byte
	// Path is the YAML file the query was loaded from.
	Path string
}

// ResolvedSource is the outcome of version+revision resolution for one
// partition: the authoritative SQL text and its version identity.
type ResolvedSource struct {
	Version    int
	Revision   int // 0 when the base version SQL applies
	SQL        string
	SourcePath string
	Schema     Schema
	Invariants Invariants
}

// HasRevision reports whether a revision (rather than the base version
// SQL) was selected.
func (r ResolvedSource) HasRevision() bool { return r.Revision > 0 }

// VersionLabel renders the resolved identity as v<N> or v<N>.r<K>.
func (r ResolvedSource) VersionLabel() string {
	if r.HasRevision() {
		return fmt.Sprintf("v%d.r%d", r.Version, r.Revision)
	}
	return fmt.Sprintf("v%d", r.Version)
}

// VersionFor selects the effective version for a partition date: the
// latest version with EffectiveFrom on or before the date.
func (q *Query) VersionFor(partitionDate time.Time) (*Version, bool) {
	var pick *Version
	for i := range q.Versions {
		v := &q.Versions[i]
		if v.EffectiveFrom.After(partitionDate) {
			continue
		}
		if pick == nil || v.EffectiveFrom.After(pick.EffectiveFrom) ||
			(v.EffectiveFrom.Equal(pick.EffectiveFrom) && v.Version > pick.Version) {
			pick = v
		}
	}
	return pick, pick != nil
}

// RevisionFor selects the effective revision for a wall-clock date: the
// latest revision with EffectiveFrom on or before today, if any.
// Revisions apply by wall-clock so that bugfixes take effect
// immediately for every re-run, while version selection stays pinned to
// the partition date.
func (v *Version) RevisionFor(today time.Time) (*Revision, bool) {
	var pick *Revision
	for i := range v.Revisions {
		r := &v.Revisions[i]
		if r.EffectiveFrom.After(today) {
			continue
		}
		if pick == nil || r.EffectiveFrom.After(pick.EffectiveFrom) ||
			(r.EffectiveFrom.Equal(pick.EffectiveFrom) && r.Revision > pick.Revision) {
			pick = r
		}
	}
	return pick, pick != nil
}

// LatestVersion returns the version with the highest number.
func (q *Query) LatestVersion() (*Version, bool) {
	var pick *Version
	for i := range q.Versions {
		v := &q.Versions[i]
		if pick == nil || v.Version > pick.Version {
			pick = v
		}
	}
	return pick, pick != nil
}

// ErrNoEffectiveVersion is returned by Resolve when no version is
// effective on the requested partition date.
type ErrNoEffectiveVersion struct {
	Query         string
	PartitionDate time.Time
}

func (e *ErrNoEffectiveVersion) Error() string {
	return fmt.Sprintf("query %s: no version effective on %s", e.Query, e.PartitionDate.Format("2006-01-02"))
}

// Resolve selects the authoritative SQL for one partition of a query.
// The version is chosen by the partition date (historical backfills use
// historically correct SQL); the revision is chosen by today's date.
func Resolve(q *Query, key PartitionKey, today time.Time) (ResolvedSource, error) {
	date := key.Date()
	if key.IsRange {
		// Range partitions have no calendar identity; the version
		// effective today applies.
		date = today
	}
	v, ok := q.VersionFor(date)
	if !ok {
		return ResolvedSource{}, &ErrNoEffectiveVersion{Query: q.Name, PartitionDate: date}
	}
	out := ResolvedSource{
		Version:    v.Version,
		SQL:        v.SQL,
		SourcePath: v.SourcePath,
		Schema:     v.Schema,
		Invariants: v.Invariants,
	}
	if r, ok := v.RevisionFor(today); ok {
		out.Revision = r.Revision
		out.SQL = r.SQL
		out.SourcePath = r.SourcePath
	}
	return out, nil
}
