package preprocess

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decode(t *testing.T, doc *yaml.Node) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, doc.Decode(&out))
	return out
}

func TestFileIncludeSQL(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "query.sql", "SELECT *\nFROM users\nWHERE date = @partition_date")
	path := write(t, dir, "q.yaml", "name: q\nsource: ${{ file: query.sql }}\n")

	doc, raw, err := LoadFile(path)
	require.NoError(t, err)
	got := decode(t, doc)
	assert.Contains(t, got["source"], "FROM users")
	assert.Contains(t, string(raw), "${{ file: query.sql }}")
}

func TestFileIncludeYAMLSubtree(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "schema.yaml", "- name: id\n  type: INT64\n- name: name\n  type: STRING\n")
	path := write(t, dir, "q.yaml", "schema: ${{ file: schema.yaml }}\n")

	doc, _, err := LoadFile(path)
	require.NoError(t, err)
	got := decode(t, doc)
	fields, ok := got["schema"].([]any)
	require.True(t, ok, "schema should be a sequence")
	require.Len(t, fields, 2)
	assert.Equal(t, "id", fields[0].(map[string]any)["name"])
}

func TestNestedIncludeResolvesRelativeToIncludingFile(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "sub/inner.yaml", "- name: id\n  type: INT64\n")
	write(t, dir, "sub/outer.yaml", "fields: ${{ file: inner.yaml }}\n")
	path := write(t, dir, "q.yaml", "schema: ${{ file: sub/outer.yaml }}\n")

	doc, _, err := LoadFile(path)
	require.NoError(t, err)
	got := decode(t, doc)
	schema := got["schema"].(map[string]any)
	assert.Len(t, schema["fields"], 1)
}

func TestCircularIncludeDetected(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.yaml", "x: ${{ file: b.yaml }}\n")
	write(t, dir, "b.yaml", "y: ${{ file: a.yaml }}\n")
	path := write(t, dir, "q.yaml", "root: ${{ file: a.yaml }}\n")

	_, _, err := LoadFile(path)
	var circular *CircularIncludeError
	require.ErrorAs(t, err, &circular)
}

func TestIncludeFileNotFound(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "q.yaml", "schema: ${{ file: missing.yaml }}\n")
	_, _, err := LoadFile(path)
	assert.ErrorContains(t, err, "missing.yaml")
}

func TestVersionReferenceByNumber(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "q.yaml", `
name: q
versions:
  - version: 1
    schema:
      - name: id
        type: INT64
  - version: 2
    schema: ${{ versions.1.schema }}
`)
	doc, _, err := LoadFile(path)
	require.NoError(t, err)
	got := decode(t, doc)
	versions := got["versions"].([]any)
	v2 := versions[1].(map[string]any)
	fields := v2["schema"].([]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "id", fields[0].(map[string]any)["name"])
}

func TestReferenceChainsResolveTransitively(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "q.yaml", `
versions:
  - version: 1
    sql: SELECT 1
  - version: 2
    sql: ${{ versions.1.sql }}
  - version: 3
    sql: ${{ versions.2.sql }}
`)
	doc, _, err := LoadFile(path)
	require.NoError(t, err)
	got := decode(t, doc)
	versions := got["versions"].([]any)
	assert.Equal(t, "SELECT 1", versions[2].(map[string]any)["sql"])
}

func TestCircularReferenceDetected(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "q.yaml", `
versions:
  - version: 1
    sql: ${{ versions.2.sql }}
  - version: 2
    sql: ${{ versions.1.sql }}
`)
	_, _, err := LoadFile(path)
	var circular *CircularReferenceError
	require.ErrorAs(t, err, &circular)
}

func TestReferenceIsDeepCopy(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "q.yaml", `
versions:
  - version: 1
    schema:
      - name: id
        type: INT64
  - version: 2
    schema: ${{ versions.1.schema }}
`)
	doc, _, err := LoadFile(path)
	require.NoError(t, err)

	// Mutating the copy must not alias the original subtree.
	var probe struct {
		Versions []struct {
			Schema []map[string]string `yaml:"schema"`
		} `yaml:"versions"`
	}
	require.NoError(t, doc.Decode(&probe))
	probe.Versions[1].Schema[0]["name"] = "mutated"
	assert.Equal(t, "id", probe.Versions[0].Schema[0]["name"])
}

func TestIdempotence(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "schema.yaml", "- name: id\n  type: INT64\n")
	path := write(t, dir, "q.yaml", `
name: q
versions:
  - version: 1
    schema: ${{ file: schema.yaml }}
  - version: 2
    schema: ${{ versions.1.schema }}
`)
	doc, _, err := LoadFile(path)
	require.NoError(t, err)

	first, err := yaml.Marshal(doc)
	require.NoError(t, err)

	// Re-running the preprocessor over its own output changes nothing.
	var again yaml.Node
	require.NoError(t, yaml.Unmarshal(first, &again))
	require.NoError(t, Process(&again, dir))
	second, err := yaml.Marshal(&again)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}
