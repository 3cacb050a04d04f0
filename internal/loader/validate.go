package loader

import (
	"fmt"
	"strings"

	"github.com/bqdrift/bqdrift/pkg/core"
)

// validateQuery runs the per-query definition checks, appending every
// finding. Errors block execution; warnings do not.
func validateQuery(q *core.Query) (errs []error, warns []Warning) {
	// duplicate version numbers
	seen := map[int]bool{}
	for _, v := range q.Versions {
		if seen[v.Version] {
			errs = append(errs, &DefinitionError{Query: q.Name, Msg: fmt.Sprintf("duplicate version number %d", v.Version)})
		}
		seen[v.Version] = true
	}

	// versions are sorted by number at parse time; effective_from
	// should be weakly monotonic across them
	for i := 1; i < len(q.Versions); i++ {
		prev, cur := q.Versions[i-1], q.Versions[i]
		if cur.EffectiveFrom.Before(prev.EffectiveFrom) {
			warns = append(warns, Warning{Query: q.Name, Code: "W001", Msg: fmt.Sprintf(
				"v%d effective_from (%s) is before v%d (%s)",
				cur.Version, cur.EffectiveFrom.Format("2006-01-02"),
				prev.Version, prev.EffectiveFrom.Format("2006-01-02"))})
		}
	}

	for _, v := range q.Versions {
		// duplicate revision numbers
		seenRev := map[int]bool{}
		for _, r := range v.Revisions {
			if seenRev[r.Revision] {
				warns = append(warns, Warning{Query: q.Name, Code: "W002", Msg: fmt.Sprintf("v%d: duplicate revision number %d", v.Version, r.Revision)})
			}
			seenRev[r.Revision] = true
		}

		// partition field must exist in the schema for time/range
		if f := q.Destination.Partition.Field; f != "" && len(v.Schema.Fields) > 0 && !v.Schema.HasField(f) {
			errs = append(errs, &DefinitionError{Query: q.Name, Msg: fmt.Sprintf("v%d: partition field %q not found in schema", v.Version, f)})
		}

		// cluster fields must exist in the schema
		for _, f := range q.Destination.Cluster {
			if len(v.Schema.Fields) > 0 && !v.Schema.HasField(f) {
				errs = append(errs, &DefinitionError{Query: q.Name, Msg: fmt.Sprintf("v%d: cluster field %q not found in schema", v.Version, f)})
			}
		}

		// RECORD fields need nested fields
		for _, f := range v.Schema.Fields {
			errs = append(errs, recordFieldErrors(q.Name, v.Version, f)...)
		}

		if len(v.Schema.Fields) == 0 {
			warns = append(warns, Warning{Query: q.Name, Code: "W006", Msg: fmt.Sprintf("v%d: schema has no fields", v.Version)})
		}

		warns = append(warns, placeholderWarnings(q.Name, v)...)
	}

	if len(q.Destination.Cluster) > 4 {
		errs = append(errs, &DefinitionError{Query: q.Name, Msg: "BigQuery supports at most 4 clustering fields"})
	}

	warns = append(warns, breakingChangeWarnings(q)...)
	return errs, warns
}

func recordFieldErrors(query string, version int, f core.Field) []error {
	var errs []error
	if f.Type == core.TypeRecord && len(f.Fields) == 0 {
		errs = append(errs, &DefinitionError{Query: query, Msg: fmt.Sprintf("v%d: RECORD field %q must define nested fields", version, f.Name)})
	}
	for _, nested := range f.Fields {
		errs = append(errs, recordFieldErrors(query, version, nested)...)
	}
	return errs
}

func placeholderWarnings(query string, v core.Version) []Warning {
	var warns []Warning
	if !hasPartitionPlaceholder(v.SQL) {
		warns = append(warns, Warning{Query: query, Code: "W005", Msg: fmt.Sprintf("v%d: SQL does not reference @partition_date", v.Version)})
	}
	for _, r := range v.Revisions {
		if !hasPartitionPlaceholder(r.SQL) {
			warns = append(warns, Warning{Query: query, Code: "W005", Msg: fmt.Sprintf("v%d.r%d: SQL does not reference @partition_date", v.Version, r.Revision)})
		}
	}
	return warns
}

func hasPartitionPlaceholder(sql string) bool {
	for _, p := range []string{"@partition_date", "@run_date", "@execution_date"} {
		if strings.Contains(sql, p) {
			return true
		}
	}
	return false
}

// breakingChangeWarnings flags removed fields and type changes between
// consecutive versions. Version bumps are the supported vehicle for
// schema change, so these are warnings, not errors.
func breakingChangeWarnings(q *core.Query) []Warning {
	var warns []Warning
	for i := 1; i < len(q.Versions); i++ {
		prev, cur := q.Versions[i-1], q.Versions[i]
		for _, f := range prev.Schema.Fields {
			curField, ok := cur.Schema.Get(f.Name)
			if !ok {
				if len(cur.Schema.Fields) > 0 {
					warns = append(warns, Warning{Query: q.Name, Code: "W003", Msg: fmt.Sprintf("v%d: field %q removed (breaking change from v%d)", cur.Version, f.Name, prev.Version)})
				}
				continue
			}
			if curField.Type != f.Type {
				warns = append(warns, Warning{Query: q.Name, Code: "W004", Msg: fmt.Sprintf("v%d: field %q type changed from %s to %s", cur.Version, f.Name, f.Type, curField.Type)})
			}
		}
	}
	return warns
}
