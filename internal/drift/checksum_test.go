package drift

import (
	"testing"

	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256Deterministic(t *testing.T) {
	assert.Equal(t, SHA256([]byte("hello world")), SHA256([]byte("hello world")))
	assert.NotEqual(t, SHA256([]byte("hello")), SHA256([]byte("world")))
	assert.Len(t, SHA256(nil), 64)
}

func TestSQLChecksumIsByteForByte(t *testing.T) {
	schema := core.Schema{}
	a, err := Compute("SELECT 1", schema, nil, core.Invariants{})
	require.NoError(t, err)
	b, err := Compute("SELECT 1 ", schema, nil, core.Invariants{})
	require.NoError(t, err)
	// Trailing whitespace changes the SQL checksum: no trimming.
	assert.NotEqual(t, a.SQL, b.SQL)
}

func TestSchemaChecksumIgnoresYAMLSpelling(t *testing.T) {
	schema := core.Schema{Fields: []core.Field{
		{Name: "id", Type: core.TypeInt64, Mode: core.ModeRequired},
	}}
	// Two loads of the same schema from differently-ordered YAML give
	// the same canonical JSON, so the same checksum; only the yaml
	// checksum sees the raw bytes.
	a, err := Compute("SELECT 1", schema, []byte("name: q\nowner: x\n"), core.Invariants{})
	require.NoError(t, err)
	b, err := Compute("SELECT 1", schema, []byte("owner: x\nname: q\n"), core.Invariants{})
	require.NoError(t, err)
	assert.Equal(t, a.Schema, b.Schema)
	assert.NotEqual(t, a.YAML, b.YAML)
}

func TestSchemaChecksumStableAcrossRecompute(t *testing.T) {
	schema := core.Schema{Fields: []core.Field{
		{Name: "meta", Type: core.TypeRecord, Fields: []core.Field{
			{Name: "source", Type: core.TypeString},
		}},
	}}
	a, err := Compute("", schema, nil, core.Invariants{})
	require.NoError(t, err)
	b, err := Compute("", schema, nil, core.Invariants{})
	require.NoError(t, err)
	assert.Equal(t, a.Schema, b.Schema)
}

func TestCompressRoundTrip(t *testing.T) {
	sql := "SELECT *\nFROM analytics.events\nWHERE date = @partition_date"
	encoded := CompressToBase64(sql)
	decoded, ok := DecompressFromBase64(encoded)
	require.True(t, ok)
	assert.Equal(t, sql, decoded)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, ok := DecompressFromBase64("not base64 at all!!!")
	assert.False(t, ok)
	_, ok = DecompressFromBase64("aGVsbG8=") // valid base64, not gzip
	assert.False(t, ok)
}
