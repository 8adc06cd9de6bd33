// Package typecontext defines the immutable, compile-time-derived
// description of one ingestion target. A mapping/attribute compile-time
// generator that would normally produce one of these per domain type is
// out of scope here; this package only specifies the contract a generated
// or hand-built TypeContext must satisfy — a plain immutable record plus
// function values is an acceptable stand-in.
package typecontext

import "time"

// EntityTarget is the kind of remote resource a TypeContext addresses.
type EntityTarget int

const (
	Index EntityTarget = iota
	DataStream
	WiredStream
)

func (e EntityTarget) String() string {
	switch e {
		case DataStream:
		return "data_stream"
		case WiredStream:
		return "wired_stream"
		default:
		return "index"
	}
}

// OperationMode controls IndexIngest's header choice when a document has no
// id.
type OperationMode int

const (
	ModeIndex OperationMode = iota
	ModeCreate
)

// TypeContext is the generic, read-only description of one target.
// D is the caller's opaque document type; the channel never inspects D
// directly, only through the accessor functions here.
type TypeContext[D any] struct {
	EntityTarget EntityTarget
	WriteTarget string

	// DatePattern, when non-empty, is a time.Format layout used to render
	// "{WriteTarget}-{formatted date}" concrete index names. UseBatchDate
	// selects whether every item in a batch shares one timestamp or each
	// is dated individually.
	DatePattern string
	UseBatchDate bool

	WriteAlias string
	ReadAlias string

	// MappingsJSON and SettingsJSON are deterministic functions returning
	// the component-template bodies. They are functions, not
	// static fields, because a generator may need to resolve them lazily
	// against build-time configuration.
	MappingsJSON func() ([]byte, error)
	SettingsJSON func() ([]byte, error)

	// GetID returns a non-empty string to enable upsert semantics:
	// IndexIngest emits Update when non-empty.
	GetID func(D) string

	// GetContentHash enables hash-based index reuse; may be nil if the
	// domain type has no natural content hash.
	GetContentHash func(D) string

	// GetTimestamp is required for data streams and for
	// per-item date-pattern rendering when UseBatchDate is false.
	GetTimestamp func(D) (time.Time, bool)

	OperationMode OperationMode

	// Script/ScriptParams enable the optional ScriptedHash update variant
	// when the document-ingest strategy is
	// configured to use it.
	Script func(D) string
	ScriptParams func(D) map[string]any
}

// ResolveIndexName renders the concrete index name for a document given
// the context's DatePattern and UseBatchDate settings. The date comes from
// the document's GetTimestamp unless UseBatchDate is set or no document
// timestamp is available; then batchTimestamp is used, and the current
// time if that is zero. The channel calls it for per-document names; the
// provisioning strategies render the bootstrap-time name themselves.
func (tc *TypeContext[D]) ResolveIndexName(doc D, batchTimestamp time.Time) string {
	if tc.DatePattern == "" {
		return tc.WriteTarget
	}

	ts := batchTimestamp
	if !tc.UseBatchDate && tc.GetTimestamp != nil {
		if docTS, ok := tc.GetTimestamp(doc); ok {
			ts = docTS
		}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return tc.WriteTarget + "-" + ts.Format(tc.DatePattern)
}

// WildcardPattern is the `{WriteTarget}-*` pattern used by HashBasedReuse
// provisioning and superseded-index cleanup.
func (tc *TypeContext[D]) WildcardPattern() string {
	return tc.WriteTarget + "-*"
}
