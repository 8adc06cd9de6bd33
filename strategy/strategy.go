package strategy

import (
	"github.com/greenearth/esingest/bootstrap"
	"github.com/greenearth/esingest/typecontext"
)

// IngestStrategy composes the five orthogonal roles of into
// one value the channel and orchestrator depend on. Bootstrap is kept as
// a plain bootstrap.Step slice rather than an *Engine so callers can
// inspect or extend the step list before construction.
type IngestStrategy[D any] struct {
	TC *typecontext.TypeContext[D]

	BootstrapSteps []bootstrap.Step
	DocumentIngest DocumentIngest[D]
	Provisioning Provisioning
	Alias Alias
	Rollover Rollover // nil if this target does not support rollover
}

// NewIndexStrategy builds the strategy for a plain index target using
// IndexIngest and the caller's chosen provisioning/alias roles.
func NewIndexStrategy[D any](tc *typecontext.TypeContext[D], steps []bootstrap.Step, provisioning Provisioning, alias Alias) *IngestStrategy[D] {
	return &IngestStrategy[D]{
		TC: tc,
		BootstrapSteps: steps,
		DocumentIngest: &IndexIngest[D]{TC: tc},
		Provisioning: provisioning,
		Alias: alias,
		Rollover: AliasRollover{},
	}
}

// NewDataStreamStrategy builds the strategy for a data-stream target:
// provisioning is a no-op at this layer since Elasticsearch manages
// backing indices itself, and aliasing does not apply.
func NewDataStreamStrategy[D any](tc *typecontext.TypeContext[D], steps []bootstrap.Step) *IngestStrategy[D] {
	return &IngestStrategy[D]{
		TC: tc,
		BootstrapSteps: steps,
		DocumentIngest: &DataStreamIngest[D]{TC: tc},
		Provisioning: AlwaysCreate{},
		Alias: NoAlias{},
	}
}

// NewWiredStreamStrategy builds the strategy for a wired stream: bootstrap
// is a single NoopStep since Elasticsearch performs the wired stream's own
// provisioning.
func NewWiredStreamStrategy[D any](tc *typecontext.TypeContext[D], logsEndpoint string) *IngestStrategy[D] {
	return &IngestStrategy[D]{
		TC: tc,
		BootstrapSteps: []bootstrap.Step{bootstrap.NoopStep{}},
		DocumentIngest: &WiredStreamIngest[D]{TC: tc, LogsEndpoint: logsEndpoint},
		Provisioning: AlwaysCreate{},
		Alias: NoAlias{},
	}
}
