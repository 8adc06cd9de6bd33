package typecontext

import (
	"crypto/sha256"
	"encoding/hex"
)

// ChannelHash computes a deterministic content hash:
// sha256_hex(mappings || "|" || settings || "|" || salt). It is stored as
// the plain _meta.hash value of the component and index/data-stream
// templates (the ILM policy carries a hash of its own body instead), and
// used by the provisioning strategy and the sync orchestrator's
// mode-selection invariant to detect schema changes.
func ChannelHash(mappingsJSON, settingsJSON []byte, salt string) string {
	h := sha256.New()
	h.Write(mappingsJSON)
	h.Write([]byte("|"))
	h.Write(settingsJSON)
	h.Write([]byte("|"))
	h.Write([]byte(salt))
	return hex.EncodeToString(h.Sum(nil))
}

// ChannelHashFor is a convenience wrapper that resolves a TypeContext's
// MappingsJSON/SettingsJSON functions before hashing.
func ChannelHashFor[D any](tc *TypeContext[D], salt string) (string, error) {
	mappings, err := tc.MappingsJSON()
	if err != nil {
		return "", err
	}
	settings, err := tc.SettingsJSON()
	if err != nil {
		return "", err
	}
	return ChannelHash(mappings, settings, salt), nil
}

// HashMarker renders the "[hash:<value>]" / "[fields_hash:<value>]"
// compatibility marker requires embedded in template/pipeline
// descriptions.
func HashMarker(prefix, hash string) string {
	return "[" + prefix + ":" + hash + "]"
}
