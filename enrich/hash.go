package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// sha256Hex is the stability-hash primitive use for both
// the per-field prompt hash and the lookup entry id (sha256_hex(matchValue)).
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// fieldHashes computes each field's promptHash , keyed by field name.
func fieldHashes(fields []FieldSpec) map[string]string {
	hashes := make(map[string]string, len(fields))
	for _, f := range fields {
		hashes[f.Name] = sha256Hex(f.Description)
	}
	return hashes
}

// fieldsHash is the pipeline-level hash embedded as "[fields_hash:<v>]" in
// the pipeline description: it changes whenever any field is added,
// removed, or reworded.
func fieldsHash(fields []FieldSpec) string {
	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(f.Name)
		sb.WriteByte('|')
		sb.WriteString(f.Description)
		sb.WriteByte('\n')
	}
	return sha256Hex(sb.String())
}
