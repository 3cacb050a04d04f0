package loader

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bqdrift/bqdrift/pkg/core"
	"gopkg.in/yaml.v3"
)

// Known keys per document level. Anything else is ignored with a
// warning so that newer definitions still load on older binaries.
var (
	queryKeys    = keySet("name", "destination", "description", "owner", "tags", "versions")
	destKeys     = keySet("dataset", "table", "partition", "cluster")
	versionKeys  = keySet("version", "effective_from", "source", "sql", "schema", "revisions", "sql_revisions", "description", "backfill_since", "invariants")
	revisionKeys = keySet("revision", "effective_from", "source", "sql", "reason", "backfill_since")
)

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// ParseQuery turns a preprocessed document into a typed core.Query.
// raw is the top-level YAML file's bytes before include expansion; it
// is retained for the yaml checksum.
func ParseQuery(doc *yaml.Node, path string, raw []byte) (*core.Query, []Warning, error) {
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) != 1 {
			return nil, nil, &ParseError{Path: path, Field: "", Msg: "expected a single YAML document"}
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, nil, &ParseError{Path: path, Field: "", Msg: "expected a mapping at the top level"}
	}

	var warnings []Warning
	warnings = append(warnings, unknownKeys(root, queryKeys, path, "")...)

	q := &core.Query{Path: path, RawYAML: raw}
	if err := decodeString(root, "name", &q.Name); err != nil {
		return nil, nil, &ParseError{Path: path, Field: "name", Msg: err.Error()}
	}
	if q.Name == "" {
		return nil, nil, &ParseError{Path: path, Field: "name", Msg: "required"}
	}
	decodeString(root, "description", &q.Description)
	decodeString(root, "owner", &q.Owner)
	if tags := mapKey(root, "tags"); tags != nil {
		if err := tags.Decode(&q.Tags); err != nil {
			return nil, nil, &ParseError{Path: path, Field: "tags", Msg: err.Error()}
		}
	}

	destNode := mapKey(root, "destination")
	if destNode == nil {
		return nil, nil, &ParseError{Path: path, Field: "destination", Msg: "required"}
	}
	dest, ws, err := parseDestination(destNode, path)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, ws...)
	q.Destination = dest

	versionsNode := mapKey(root, "versions")
	if versionsNode == nil || versionsNode.Kind != yaml.SequenceNode || len(versionsNode.Content) == 0 {
		return nil, nil, &ParseError{Path: path, Field: "versions", Msg: "at least one version is required"}
	}
	for i, vn := range versionsNode.Content {
		v, ws, err := parseVersion(vn, path, i)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, ws...)
		q.Versions = append(q.Versions, v)
	}
	sort.Slice(q.Versions, func(i, j int) bool { return q.Versions[i].Version < q.Versions[j].Version })

	return q, warnings, nil
}

func parseDestination(n *yaml.Node, path string) (core.Destination, []Warning, error) {
	if n.Kind != yaml.MappingNode {
		return core.Destination{}, nil, &ParseError{Path: path, Field: "destination", Msg: "expected a mapping"}
	}
	warnings := unknownKeys(n, destKeys, path, "destination.")

	var d core.Destination
	decodeString(n, "dataset", &d.Dataset)
	decodeString(n, "table", &d.Table)
	if d.Dataset == "" {
		return core.Destination{}, nil, &ParseError{Path: path, Field: "destination.dataset", Msg: "required"}
	}
	if d.Table == "" {
		return core.Destination{}, nil, &ParseError{Path: path, Field: "destination.table", Msg: "required"}
	}
	if cluster := mapKey(n, "cluster"); cluster != nil {
		if err := cluster.Decode(&d.Cluster); err != nil {
			return core.Destination{}, nil, &ParseError{Path: path, Field: "destination.cluster", Msg: err.Error()}
		}
	}

	part := mapKey(n, "partition")
	if part == nil {
		return core.Destination{}, nil, &ParseError{Path: path, Field: "destination.partition", Msg: "required"}
	}
	spec, err := parsePartition(part, path)
	if err != nil {
		return core.Destination{}, nil, err
	}
	d.Partition = spec
	return d, warnings, nil
}

func parsePartition(n *yaml.Node, path string) (core.PartitionSpec, error) {
	var raw struct {
		Type        string `yaml:"type"`
		Field       string `yaml:"field"`
		Granularity string `yaml:"granularity"`
		Start       int64  `yaml:"start"`
		End         int64  `yaml:"end"`
		Interval    int64  `yaml:"interval"`
	}
	if err := n.Decode(&raw); err != nil {
		return core.PartitionSpec{}, &ParseError{Path: path, Field: "destination.partition", Msg: err.Error()}
	}

	spec := core.PartitionSpec{Field: raw.Field}
	switch strings.ToUpper(raw.Type) {
	case "HOUR", "DAY", "MONTH", "YEAR":
		spec.Type = core.PartitionTime
		spec.Granularity = core.Granularity(strings.ToUpper(raw.Type))
	case "TIME":
		spec.Type = core.PartitionTime
		spec.Granularity = granularityOrDay(raw.Granularity)
	case "RANGE":
		spec.Type = core.PartitionRange
		spec.Start, spec.End, spec.Interval = raw.Start, raw.End, raw.Interval
		if spec.Interval <= 0 {
			return core.PartitionSpec{}, &ParseError{Path: path, Field: "destination.partition.interval", Msg: "range partitioning requires a positive interval"}
		}
	case "INGESTION_TIME":
		spec.Type = core.PartitionIngestionTime
		spec.Granularity = granularityOrDay(raw.Granularity)
	case "":
		spec.Type = core.PartitionTime
		spec.Granularity = core.GranularityDay
	default:
		return core.PartitionSpec{}, &ParseError{Path: path, Field: "destination.partition.type", Msg: fmt.Sprintf("unknown partition type %q", raw.Type)}
	}

	if spec.Type != core.PartitionIngestionTime && spec.Field == "" {
		return core.PartitionSpec{}, &ParseError{Path: path, Field: "destination.partition.field", Msg: "required for time and range partitioning"}
	}
	return spec, nil
}

func granularityOrDay(s string) core.Granularity {
	if s == "" {
		return core.GranularityDay
	}
	return core.Granularity(strings.ToUpper(s))
}

func parseVersion(n *yaml.Node, path string, idx int) (core.Version, []Warning, error) {
	where := fmt.Sprintf("%s#versions[%d]", path, idx)
	if n.Kind != yaml.MappingNode {
		return core.Version{}, nil, &ParseError{Path: path, Field: fmt.Sprintf("versions[%d]", idx), Msg: "expected a mapping"}
	}
	warnings := unknownKeys(n, versionKeys, path, fmt.Sprintf("versions[%d].", idx))

	var v core.Version
	if err := decodeInt(n, "version", &v.Version); err != nil || v.Version <= 0 {
		return core.Version{}, nil, &ParseError{Path: path, Field: fmt.Sprintf("versions[%d].version", idx), Msg: "a positive version number is required"}
	}
	ef, err := decodeDate(n, "effective_from")
	if err != nil {
		return core.Version{}, nil, &ParseError{Path: path, Field: fmt.Sprintf("versions[%d].effective_from", idx), Msg: err.Error()}
	}
	v.EffectiveFrom = ef
	decodeString(n, "description", &v.Description)

	// sql: and source: are equivalent legacy spellings.
	sql, srcPath := sqlText(n)
	if sql == "" {
		return core.Version{}, nil, &ParseError{Path: path, Field: fmt.Sprintf("versions[%d].source", idx), Msg: "SQL source is required (source: or sql:)"}
	}
	v.SQL = sql
	v.SourcePath = srcPath

	v.Schema, err = materializeSchema(mapKey(n, "schema"), where)
	if err != nil {
		return core.Version{}, nil, err
	}
	v.Invariants, err = materializeInvariants(mapKey(n, "invariants"), where)
	if err != nil {
		return core.Version{}, nil, err
	}

	// revisions: and sql_revisions: are equivalent legacy spellings.
	revNode := mapKey(n, "revisions")
	if revNode == nil {
		revNode = mapKey(n, "sql_revisions")
	}
	if revNode != nil {
		if revNode.Kind != yaml.SequenceNode {
			return core.Version{}, nil, &ParseError{Path: path, Field: fmt.Sprintf("versions[%d].revisions", idx), Msg: "expected a sequence"}
		}
		for j, rn := range revNode.Content {
			r, ws, err := parseRevision(rn, path, idx, j)
			if err != nil {
				return core.Version{}, nil, err
			}
			warnings = append(warnings, ws...)
			v.Revisions = append(v.Revisions, r)
		}
		sort.Slice(v.Revisions, func(i, j int) bool { return v.Revisions[i].Revision < v.Revisions[j].Revision })
	}

	return v, warnings, nil
}

func parseRevision(n *yaml.Node, path string, vi, ri int) (core.Revision, []Warning, error) {
	field := func(f string) string { return fmt.Sprintf("versions[%d].revisions[%d].%s", vi, ri, f) }
	if n.Kind != yaml.MappingNode {
		return core.Revision{}, nil, &ParseError{Path: path, Field: field(""), Msg: "expected a mapping"}
	}
	warnings := unknownKeys(n, revisionKeys, path, fmt.Sprintf("versions[%d].revisions[%d].", vi, ri))

	var r core.Revision
	if err := decodeInt(n, "revision", &r.Revision); err != nil || r.Revision <= 0 {
		return core.Revision{}, nil, &ParseError{Path: path, Field: field("revision"), Msg: "a positive revision number is required"}
	}
	ef, err := decodeDate(n, "effective_from")
	if err != nil {
		return core.Revision{}, nil, &ParseError{Path: path, Field: field("effective_from"), Msg: err.Error()}
	}
	r.EffectiveFrom = ef
	decodeString(n, "reason", &r.Reason)

	sql, srcPath := sqlText(n)
	if sql == "" {
		return core.Revision{}, nil, &ParseError{Path: path, Field: field("source"), Msg: "SQL source is required (source: or sql:)"}
	}
	r.SQL = sql
	r.SourcePath = srcPath

	if mapKey(n, "backfill_since") != nil {
		bs, err := decodeDate(n, "backfill_since")
		if err != nil {
			return core.Revision{}, nil, &ParseError{Path: path, Field: field("backfill_since"), Msg: err.Error()}
		}
		r.BackfillSince = bs
	}
	return r, warnings, nil
}

// parseInvariantsDef decodes an inline {before, after} invariant set.
func parseInvariantsDef(n *yaml.Node, where string) (core.Invariants, error) {
	var out core.Invariants
	for _, phase := range []struct {
		key  string
		dest *[]core.Invariant
	}{{"before", &out.Before}, {"after", &out.After}} {
		list := mapKey(n, phase.key)
		if list == nil {
			continue
		}
		if list.Kind != yaml.SequenceNode {
			return core.Invariants{}, &ParseError{Path: where, Field: "invariants." + phase.key, Msg: "expected a sequence"}
		}
		for i, item := range list.Content {
			iv, err := parseInvariant(item, where, phase.key, i)
			if err != nil {
				return core.Invariants{}, err
			}
			*phase.dest = append(*phase.dest, iv)
		}
	}
	return out, nil
}

func parseInvariant(n *yaml.Node, where, phase string, idx int) (core.Invariant, error) {
	field := fmt.Sprintf("invariants.%s[%d]", phase, idx)
	var raw struct {
		Name          string   `yaml:"name"`
		Description   string   `yaml:"description"`
		Severity      string   `yaml:"severity"`
		Type          string   `yaml:"type"`
		Source        string   `yaml:"source"`
		Column        string   `yaml:"column"`
		Min           *float64 `yaml:"min"`
		Max           *float64 `yaml:"max"`
		MaxPercentage float64  `yaml:"max_percentage"`
	}
	if err := n.Decode(&raw); err != nil {
		return core.Invariant{}, &ParseError{Path: where, Field: field, Msg: err.Error()}
	}
	if raw.Name == "" {
		return core.Invariant{}, &ParseError{Path: where, Field: field + ".name", Msg: "required"}
	}

	sev := core.Severity(raw.Severity)
	switch sev {
	case "":
		sev = core.SeverityError
	case core.SeverityError, core.SeverityWarning:
	default:
		return core.Invariant{}, &ParseError{Path: where, Field: field + ".severity", Msg: fmt.Sprintf("unknown severity %q", raw.Severity)}
	}

	kind := core.CheckKind(raw.Type)
	if kind == "" {
		// No explicit tag: a column with max_percentage is a null
		// check; everything else defaults to row_count.
		if raw.Column != "" && raw.MaxPercentage > 0 {
			kind = core.CheckNullPercentage
		} else {
			kind = core.CheckRowCount
		}
	}

	check := core.Check{Kind: kind, Source: raw.Source, Column: raw.Column, MaxPercentage: raw.MaxPercentage}
	switch kind {
	case core.CheckRowCount, core.CheckDistinctCount:
		check.Min = toInt(raw.Min)
		check.Max = toInt(raw.Max)
		if kind == core.CheckDistinctCount && raw.Column == "" {
			return core.Invariant{}, &ParseError{Path: where, Field: field + ".column", Msg: "required for distinct_count"}
		}
	case core.CheckNullPercentage:
		if raw.Column == "" {
			return core.Invariant{}, &ParseError{Path: where, Field: field + ".column", Msg: "required for null_percentage"}
		}
	case core.CheckValueRange:
		if raw.Column == "" {
			return core.Invariant{}, &ParseError{Path: where, Field: field + ".column", Msg: "required for value_range"}
		}
		check.MinValue = raw.Min
		check.MaxValue = raw.Max
	default:
		return core.Invariant{}, &ParseError{Path: where, Field: field + ".type", Msg: fmt.Sprintf("unknown check type %q", raw.Type)}
	}

	return core.Invariant{Name: raw.Name, Description: raw.Description, Severity: sev, Check: check}, nil
}

func toInt(f *float64) *int64 {
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}

// sqlText returns the SQL body from source: or its legacy spelling
// sql:. The second result, the include path, is always empty: the
// preprocessor replaces an include with the file's text and does not
// record the path.
func sqlText(n *yaml.Node) (string, string) {
	for _, key := range []string{"source", "sql"} {
		if v := mapKey(n, key); v != nil && v.Kind == yaml.ScalarNode && v.Value != "" {
			return v.Value, ""
		}
	}
	return "", ""
}

func mapKey(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func unknownKeys(m *yaml.Node, known map[string]bool, path, prefix string) []Warning {
	var out []Warning
	for i := 0; i+1 < len(m.Content); i += 2 {
		k := m.Content[i].Value
		if !known[k] {
			out = append(out, Warning{Code: "W100", Msg: fmt.Sprintf("%s: unknown field %s%s ignored", path, prefix, k)})
		}
	}
	return out
}

func decodeString(m *yaml.Node, key string, dest *string) error {
	if v := mapKey(m, key); v != nil {
		return v.Decode(dest)
	}
	return nil
}

func decodeInt(m *yaml.Node, key string, dest *int) error {
	v := mapKey(m, key)
	if v == nil {
		return fmt.Errorf("missing %s", key)
	}
	return v.Decode(dest)
}

func decodeDate(m *yaml.Node, key string) (time.Time, error) {
	v := mapKey(m, key)
	if v == nil {
		return time.Time{}, fmt.Errorf("missing %s", key)
	}
	t, err := time.ParseInLocation("2006-01-02", v.Value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", v.Value)
	}
	return t, nil
}
