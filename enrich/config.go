// Package enrich implements the AI enrichment orchestrator:
// it maintains a lookup index of AI-derived fields keyed by a match value,
// keeps an Elasticsearch enrich policy and ingest pipeline in sync with the
// configured fields, and sweeps a target index for documents whose
// enrichment is missing or stale.
package enrich

// FieldSpec describes one AI-derived field the enrichment loop maintains.
// Description is a text/template string rendered against the candidate
// document to build the inference prompt for this field; the template
// source (not the rendered prompt) is hashed to produce
// the field's companion stability hash, so editing a field's wording is
// enough to mark every document carrying it stale again.
type FieldSpec struct {
	Name string
	Description string
}

// Config is the immutable description of one enrichment loop.
// LookupMapping is the provider-supplied mapping body for the lookup
// index; it may be nil if the index should be created with no explicit
// mapping.
type Config struct {
	LookupIndex string
	MatchField string
	PolicyName string
	PipelineName string
	EndpointID string
	LookupMapping map[string]any
	Fields []FieldSpec

	MaxEnrichmentsPerRun int
	MaxConcurrency int
	PageSize int
}

const defaultPageSize = 200
const noEnrichmentLimit = 1 << 30

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.MaxEnrichmentsPerRun <= 0 {
		c.MaxEnrichmentsPerRun = noEnrichmentLimit
	}
	return c
}

// phantomField is the companion hash field name for an AI field:
// "<ai_field_i>_ph".
func phantomField(name string) string { return name + "_ph" }

// Result is the outcome of one EnrichAsync run.
type Result struct {
	TotalCandidates int
	Enriched int
	Failed int
	ReachedLimit bool
}
