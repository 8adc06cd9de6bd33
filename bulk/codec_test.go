package bulk

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoder_EncodeIndexDoc(t *testing.T) {
	enc := NewEncoder()

	docs := []Doc{
		{Op: Operation{Kind: OpIndex, Index: "posts-2024-01-01", ID: "abc"}, Body: map[string]any{"text": "hello"}},
	}

	body, release, err := enc.Encode(docs)
	require.NoError(t, err)
	defer release()

	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 2)

	var header map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &header))
	assert.Equal(t, "posts-2024-01-01", header["index"]["_index"])
	assert.Equal(t, "abc", header["index"]["_id"])

	var docBody map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &docBody))
	assert.Equal(t, "hello", docBody["text"])
}

func TestEncoder_DeleteHasNoBody(t *testing.T) {
	enc := NewEncoder()

	docs := []Doc{
		{Op: Operation{Kind: OpDelete, Index: "posts", ID: "abc"}},
	}

	body, release, err := enc.Encode(docs)
	require.NoError(t, err)
	defer release()

	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 1, "delete operations must not emit a body line")
}

func TestEncoder_UpdateWrapsDocAsUpsert(t *testing.T) {
	enc := NewEncoder()

	docs := []Doc{
		{Op: Operation{Kind: OpUpdate, ID: "abc"}, Body: map[string]any{"count": 1}},
	}

	body, release, err := enc.Encode(docs)
	require.NoError(t, err)
	defer release()

	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 2)

	var docBody map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &docBody))
	assert.Equal(t, true, docBody["doc_as_upsert"])
	inner, ok := docBody["doc"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), inner["count"])
}

func TestEncoder_ScriptedUpdate(t *testing.T) {
	enc := NewEncoder()

	docs := []Doc{
		{
			Op: Operation{
				Kind: OpUpdate,
				ID: "abc",
				Script: "ctx._source.count += params.n",
				ScriptParams: map[string]any{"n": 2},
			},
			Body: map[string]any{"count": 0},
		},
	}

	body, release, err := enc.Encode(docs)
	require.NoError(t, err)
	defer release()

	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Len(t, lines, 2)

	var docBody map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &docBody))
	assert.Contains(t, docBody, "script")
	assert.Equal(t, true, docBody["scripted_upsert"])
	assert.NotContains(t, docBody, "doc_as_upsert")
}

func TestEncoder_NoIndexForDataStreamHeader(t *testing.T) {
	enc := NewEncoder()

	docs := []Doc{
		{Op: Operation{Kind: OpCreate}, Body: map[string]any{"msg": "x"}},
	}

	body, release, err := enc.Encode(docs)
	require.NoError(t, err)
	defer release()

	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	var header map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &header))
	_, hasIndex := header["create"]["_index"]
	assert.False(t, hasIndex, "data-stream/wired-stream headers must omit _index")
}

func TestEncoder_NoCommasBetweenDocuments(t *testing.T) {
	enc := NewEncoder()

	docs := []Doc{
		{Op: Operation{Kind: OpIndex, Index: "a"}, Body: map[string]any{"n": 1}},
		{Op: Operation{Kind: OpIndex, Index: "a"}, Body: map[string]any{"n": 2}},
	}

	body, release, err := enc.Encode(docs)
	require.NoError(t, err)
	defer release()

	assert.False(t, bytes.Contains(body, []byte("},\n{")))
	assert.Equal(t, 4, bytes.Count(body, []byte("\n")))
}

func TestDecodeResponse_ClassifiesItems(t *testing.T) {
	raw := `{
 "took": 5,
 "errors": true,
 "items": [
 {"index": {"status": 201, "_id": "a"}},
 {"index": {"status": 429, "_id": "b"}},
 {"index": {"status": 400, "_id": "c", "error": {"type": "mapper_parsing_exception", "reason": "bad"}}}
 ]
	}`

	resp, err := DecodeResponse([]byte(raw), 3)
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)

	assert.Equal(t, ItemOK, resp.Items[0].Classify())
	assert.Equal(t, ItemRetryable, resp.Items[1].Classify())
	assert.Equal(t, ItemFatal, resp.Items[2].Classify())
	require.NotNil(t, resp.Items[2].Error)
	assert.Equal(t, "bad", resp.Items[2].Error.Reason)
}

func TestDecodeResponse_LengthMismatchIsError(t *testing.T) {
	raw := `{"took": 1, "errors": false, "items": [{"index": {"status": 200}}]}`

	_, err := DecodeResponse([]byte(raw), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match input page length")
}

// TestRoundTrip_HeaderFieldsSurvive is the codec round-trip property from
//: encoding a header and parsing it back recovers action,
// _index, _id, and require_alias.
func TestRoundTrip_HeaderFieldsSurvive(t *testing.T) {
	op := Operation{Kind: OpIndex, Index: "posts", ID: "xyz", RequireAlias: true}

	raw, err := json.Marshal(op.header())
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	inner, ok := decoded["index"]
	require.True(t, ok)
	assert.Equal(t, "posts", inner["_index"])
	assert.Equal(t, "xyz", inner["_id"])
	assert.Equal(t, true, inner["require_alias"])
}
