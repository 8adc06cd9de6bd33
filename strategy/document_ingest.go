// Package strategy composes the five orthogonal roles of an ingestion
// target into one IngestStrategy[D]: bootstrap, document-ingest,
// provisioning, alias, and rollover. Each role is a small interface with
// two or three implementations, preferring interface-typed fields over
// inheritance.
package strategy

import (
	"time"

	"github.com/greenearth/esingest/bulk"
	"github.com/greenearth/esingest/typecontext"
)

// DocumentIngest produces the bulk URL and per-item header for one target
// kind.
type DocumentIngest[D any] interface {
	// BulkPath returns "{path}/_bulk" (with any query string) for the
	// current concrete target.
	BulkPath(concreteIndex string) string

	// Header builds the Operation for one document. batchTimestamp is the
	// channel's bootstrap-time batch timestamp; the implementations in this
	// package ignore it, because the channel resolves any date suffix into
	// concreteIndex before calling Header.
	Header(doc D, concreteIndex string, batchTimestamp time.Time) bulk.Operation
}

// IndexIngest targets a plain index: Update when
// GetID(d) is non-empty, else Index or Create per tc.OperationMode.
type IndexIngest[D any] struct {
	TC *typecontext.TypeContext[D]
}

func (s *IndexIngest[D]) BulkPath(concreteIndex string) string {
	return "/" + concreteIndex + "/_bulk"
}

func (s *IndexIngest[D]) Header(doc D, concreteIndex string, _ time.Time) bulk.Operation {
	id := ""
	if s.TC.GetID != nil {
		id = s.TC.GetID(doc)
	}
	if id != "" {
		op := bulk.Operation{Kind: bulk.OpUpdate, Index: concreteIndex, ID: id}
		if s.TC.Script != nil {
			if script := s.TC.Script(doc); script != "" {
				op.Script = script
				if s.TC.ScriptParams != nil {
					op.ScriptParams = s.TC.ScriptParams(doc)
				}
			}
		}
		return op
	}

	kind := bulk.OpIndex
	if s.TC.OperationMode == typecontext.ModeCreate {
		kind = bulk.OpCreate
	}
	return bulk.Operation{Kind: kind, Index: concreteIndex}
}

// DataStreamIngest targets a data stream: header is always
// Create with no _index; URL is "{datastream}/_bulk".
type DataStreamIngest[D any] struct {
	TC *typecontext.TypeContext[D]
}

func (s *DataStreamIngest[D]) BulkPath(_ string) string {
	return "/" + s.TC.WriteTarget + "/_bulk"
}

func (s *DataStreamIngest[D]) Header(_ D, _ string, _ time.Time) bulk.Operation {
	return bulk.Operation{Kind: bulk.OpCreate}
}

// WiredStreamIngest targets a dedicated logs endpoint:
// header is always Create with no _index; URL is the logs endpoint rather
// than a data-stream name.
type WiredStreamIngest[D any] struct {
	TC *typecontext.TypeContext[D]
	LogsEndpoint string
}

func (s *WiredStreamIngest[D]) BulkPath(_ string) string {
	if s.LogsEndpoint != "" {
		return s.LogsEndpoint
	}
	return "/_bulk"
}

func (s *WiredStreamIngest[D]) Header(_ D, _ string, _ time.Time) bulk.Operation {
	return bulk.Operation{Kind: bulk.OpCreate}
}
