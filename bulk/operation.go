// Package bulk implements the NDJSON bulk-request codec.
// It frames heterogeneous operation headers plus documents into the wire
// format the Elasticsearch _bulk endpoint expects, and decodes the bulk
// response for per-item retry classification.
package bulk

// OpKind is the tagged-variant discriminator for a bulk operation header.
// A tagged variant is the language-neutral rendition of a union-by-subclass
// header hierarchy.
type OpKind string

const (
	OpIndex OpKind = "index"
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one bulk header. Index and ID are optional: data-stream and
// wired-stream document-ingest strategies omit _index entirely.
type Operation struct {
	Kind OpKind
	Index string
	ID string
	RequireAlias bool
	DynamicTemplates map[string]string

	// Script and ScriptParams enable the ScriptedHash update variant: an
	// alternate Update mode embedding a Painless script instead of a plain
	// doc merge. Populated only when the document-ingest strategy opts in;
	// zero value means "plain doc update".
	Script string
	ScriptParams map[string]any
}

// header returns the wire-level header object for this operation, e.g.
// {"index": {"_index": "...", "_id": "..."}}. Fields that are empty are
// omitted rather than serialized as "" per the bulk API's own convention.
func (o Operation) header() map[string]any {
	inner := map[string]any{}
	if o.Index != "" {
		inner["_index"] = o.Index
	}
	if o.ID != "" {
		inner["_id"] = o.ID
	}
	if o.RequireAlias {
		inner["require_alias"] = true
	}
	if len(o.DynamicTemplates) > 0 {
		inner["dynamic_templates"] = o.DynamicTemplates
	}
	return map[string]any{string(o.Kind): inner}
}
