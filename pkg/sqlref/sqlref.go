// Package sqlref extracts upstream table references from BigQuery SQL.
//
// It scans the statement for table names in FROM and JOIN position,
// skipping CTE names, table functions (UNNEST and friends), and
// derived tables. The result is the raw reference set; callers qualify
// the names and filter them against the repository's known
// destinations.
package sqlref

import (
	"errors"
	"sort"
	"strings"
)

// ErrEmptySQL is returned when the statement contains no tokens.
var ErrEmptySQL = errors.New("sqlref: empty SQL statement")

// tableFunctions are identifiers that look like table references after
// FROM/JOIN but are function calls producing rows.
var tableFunctions = map[string]bool{
	"unnest":            true,
	"generate_array":    true,
	"generate_date_array": true,
	"external_query":    true,
	"ml":                true,
}

// Extract returns the table names referenced in FROM/JOIN position,
// de-duplicated and sorted. CTE names defined in the statement and
// session-temporary references (names beginning with _session.,
// _script or temp.) are excluded.
func Extract(sql string) ([]string, error) {
	l := newLexer(sql)

	var toks []token
	for {
		tok := l.next()
		toks = append(toks, tok)
		if tok.typ == tokenEOF {
			break
		}
	}
	if len(toks) <= 1 {
		return nil, ErrEmptySQL
	}

	ctes := cteNames(toks)
	refs := map[string]bool{}

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.typ != tokenIdent {
			continue
		}
		if !isKeyword(tok.literal, "from") && !isKeyword(tok.literal, "join") {
			continue
		}
		name, next := readTableName(toks, i+1)
		if name == "" {
			continue
		}
		lower := strings.ToLower(name)
		if ctes[lower] {
			continue
		}
		if tableFunctions[firstPart(lower)] || (next < len(toks) && toks[next].typ == tokenLParen) {
			// Table function call, not a relation.
			continue
		}
		if isTemporary(lower) {
			continue
		}
		refs[name] = true
	}

	out := make([]string, 0, len(refs))
	for r := range refs {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

// readTableName assembles a possibly dotted name starting at index i.
// Returns the name and the index of the first token after it. An empty
// name means the position did not hold a table reference (subquery,
// punctuation).
func readTableName(toks []token, i int) (string, int) {
	if i >= len(toks) || toks[i].typ != tokenIdent {
		return "", i
	}
	// Backtick identifiers may already carry the full dotted path.
	parts := []string{toks[i].literal}
	i++
	for i+1 < len(toks) && toks[i].typ == tokenDot && toks[i+1].typ == tokenIdent {
		parts = append(parts, toks[i+1].literal)
		i += 2
	}
	return strings.Join(parts, "."), i
}

// cteNames finds names bound by WITH ... AS ( anywhere in the
// statement, including names of subsequent comma-separated CTEs.
func cteNames(toks []token) map[string]bool {
	names := map[string]bool{}
	for i := 0; i+2 < len(toks); i++ {
		if toks[i].typ != tokenIdent || !isKeyword(toks[i+1].literal, "as") || toks[i+2].typ != tokenLParen {
			continue
		}
		if isReservedBefore(toks, i) {
			continue
		}
		names[strings.ToLower(toks[i].literal)] = true
	}
	return names
}

// isReservedBefore rejects IDENT AS ( matches whose identifier is
// itself a keyword (e.g. SELECT CAST(x AS (...)) cannot occur, but
// guard against FROM/JOIN captures).
func isReservedBefore(toks []token, i int) bool {
	lit := strings.ToLower(toks[i].literal)
	switch lit {
	case "select", "from", "join", "where", "group", "order", "with", "on", "and", "or":
		return true
	}
	return false
}

func firstPart(name string) string {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// isTemporary reports session-scoped references that never name a
// repository destination.
func isTemporary(name string) bool {
	return strings.HasPrefix(name, "_session.") || strings.HasPrefix(name, "temp.") || strings.HasPrefix(name, "_script")
}

// Qualify resolves a raw reference to dataset.table form using the
// repository's default project and dataset. A three-part name drops a
// matching project prefix; a bare table name gains the default dataset.
// References in a foreign project are returned as-is (project.dataset.
// table) and will not match any repository destination.
func Qualify(ref, defaultProject, defaultDataset string) string {
	parts := strings.Split(ref, ".")
	switch len(parts) {
	case 1:
		if defaultDataset == "" {
			return ref
		}
		return defaultDataset + "." + parts[0]
	case 2:
		return ref
	default:
		if parts[0] == defaultProject {
			return strings.Join(parts[len(parts)-2:], ".")
		}
		return ref
	}
}
