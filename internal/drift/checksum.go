// Package drift compares current definitions against recorded
// execution state: content checksums, per-partition drift
// classification, and the immutability audit.
package drift

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/bqdrift/bqdrift/pkg/core"
)

// Checksums are the content hashes recorded with every execution.
// All values are SHA-256 hex.
type Checksums struct {
	SQL        string
	Schema     string
	YAML       string
	Invariants string
}

// Compute hashes the resolved SQL byte-for-byte, the schema's
// canonical JSON, the raw top-level YAML bytes (pre-expansion, as a
// coarse tripwire), and the canonical invariant set.
func Compute(sql string, schema core.Schema, rawYAML []byte, invariants core.Invariants) (Checksums, error) {
	schemaJSON, err := schema.CanonicalJSON()
	if err != nil {
		return Checksums{}, err
	}
	invJSON, err := invariants.CanonicalJSON()
	if err != nil {
		return Checksums{}, err
	}
	return Checksums{
		SQL:        SHA256([]byte(sql)),
		Schema:     SHA256(schemaJSON),
		YAML:       SHA256(rawYAML),
		Invariants: SHA256(invJSON),
	}, nil
}

// FromResolved computes the checksums for one resolved source.
func FromResolved(r core.ResolvedSource, rawYAML []byte) (Checksums, error) {
	return Compute(r.SQL, r.Schema, rawYAML, r.Invariants)
}

// SHA256 returns the hex digest of content.
func SHA256(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CompressToBase64 gzips and base64-encodes SQL for the
// executed_sql_b64 state column.
func CompressToBase64(sql string) string {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(sql))
	_ = zw.Close()
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecompressFromBase64 reverses CompressToBase64. The second return is
// false when the value is not valid base64+gzip.
func DecompressFromBase64(encoded string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", false
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return "", false
	}
	return string(out), true
}
