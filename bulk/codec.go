package bulk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Doc pairs an Operation header with the document body the codec should
// serialize for it. Update bodies are wrapped as {"doc": ..., "doc_as_upsert":
// true} unless a Script is present, in which case the ScriptedHash variant
// is emitted instead.
type Doc struct {
	Op Operation
	Body any
}

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Encoder serializes a page of Docs into the NDJSON wire format:
// <header-json>\n<body-json>\n... with no commas between documents. It
// prefers the pooled-buffer form over allocating a fresh buffer per page.
type Encoder struct{}

// NewEncoder returns a stateless Encoder; it exists so call sites read
// symmetrically with other strategy-shaped types in this module.
func NewEncoder() *Encoder { return &Encoder{} }

// Encode renders docs into NDJSON bytes. The returned release func MUST be
// called once the caller is done with the returned slice (typically right
// after the transport call returns), returning the backing buffer to the
// pool.
func (e *Encoder) Encode(docs []Doc) (body []byte, release func(), err error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	for i, d := range docs {
		if err := enc.Encode(d.Op.header()); err != nil {
			bufPool.Put(buf)
			return nil, func() {}, fmt.Errorf("esingest/bulk: encode header for doc %d: %w", i, err)
		}

		bodyValue := docBody(d)
		if bodyValue == nil {
			continue
		}
		if err := enc.Encode(bodyValue); err != nil {
			bufPool.Put(buf)
			return nil, func() {}, fmt.Errorf("esingest/bulk: encode body for doc %d: %w", i, err)
		}
	}

	release = func() { bufPool.Put(buf) }
	return buf.Bytes(), release, nil
}

// docBody resolves the wire body for a single document according to its
// operation kind. Delete carries no body. Update wraps the document as
// doc_as_upsert unless a script is present, in which case it emits {"script": {...}} instead.
func docBody(d Doc) any {
	switch d.Op.Kind {
		case OpDelete:
		return nil
		case OpUpdate:
		if d.Op.Script != "" {
			script := map[string]any{
				"source": d.Op.Script,
			}
			if d.Op.ScriptParams != nil {
				script["params"] = d.Op.ScriptParams
			}
			return map[string]any{
				"script": script,
				"upsert": d.Body,
				"scripted_upsert": true,
			}
		}
		return map[string]any{
			"doc": d.Body,
			"doc_as_upsert": true,
		}
		default: // OpIndex, OpCreate
		return d.Body
	}
}
