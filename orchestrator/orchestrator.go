// Package orchestrator implements the dual-target incremental sync
// coordinator: given a primary and a secondary TypeContext,
// it runs one channel.Channel per target, chooses between a server-side
// reindex and a dual-write multiplex based on whether the secondary's
// schema changed, and drives the drain/reindex/alias-swap/cleanup
// sequence of CompleteAsync.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/greenearth/esingest/bootstrap"
	"github.com/greenearth/esingest/channel"
	"github.com/greenearth/esingest/helpers"
	"github.com/greenearth/esingest/transport"
)

// SyncStrategy is the mode StartAsync resolves for bringing the secondary
// channel in sync with the primary.
type SyncStrategy int

const (
	// Reindex writes only the primary; the secondary is populated by a
	// server-side reindex in CompleteAsync.
	Reindex SyncStrategy = iota
	// Multiplex writes both channels directly.
	Multiplex
)

func (s SyncStrategy) String() string {
	if s == Reindex {
		return "Reindex"
	}
	return "Multiplex"
}

// PreBootstrapTask runs before StartAsync bootstraps the primary.
type PreBootstrapTask func(ctx context.Context) error

// Orchestrator coordinates a primary/secondary channel pair.
type Orchestrator[D any] struct {
	primary *channel.Channel[D]
	secondary *channel.Channel[D]

	primaryBC *bootstrap.Context
	secondaryBC *bootstrap.Context

	transport transport.Interface
	taskMon *helpers.TaskMonitor

	preBootstrapTasks []PreBootstrapTask
	onPostComplete func(ctx context.Context, strat SyncStrategy, batchTS time.Time)

	strategy SyncStrategy
	retainedCount int
	started bool
}

// New builds an Orchestrator over two already-constructed channels and
// their bootstrap contexts. retainedCount is the N most-recent superseded
// indices CompleteAsync keeps.
func New[D any](primary, secondary *channel.Channel[D], primaryBC, secondaryBC *bootstrap.Context, t transport.Interface, retainedCount int) *Orchestrator[D] {
	if retainedCount <= 0 {
		retainedCount = 1
	}
	return &Orchestrator[D]{
		primary: primary,
		secondary: secondary,
		primaryBC: primaryBC,
		secondaryBC: secondaryBC,
		transport: t,
		taskMon: &helpers.TaskMonitor{Transport: t, PollInterval: time.Second},
		retainedCount: retainedCount,
	}
}

// AddPreBootstrapTask registers a task to run before the primary is
// bootstrapped.
func (o *Orchestrator[D]) AddPreBootstrapTask(task PreBootstrapTask) {
	o.preBootstrapTasks = append(o.preBootstrapTasks, task)
}

// OnPostComplete registers the callback CompleteAsync invokes after the
// alias swap and before superseded indices are deleted.
func (o *Orchestrator[D]) OnPostComplete(fn func(ctx context.Context, strat SyncStrategy, batchTS time.Time)) {
	o.onPostComplete = fn
}

// StartAsync bootstraps both channels, resolves the sync strategy, and
// arms the channel(s) that should receive writes.
func (o *Orchestrator[D]) StartAsync(ctx context.Context) (SyncStrategy, error) {
	for _, task := range o.preBootstrapTasks {
		if err := task(ctx); err != nil {
			return 0, fmt.Errorf("esingest/orchestrator: pre-bootstrap task: %w", err)
		}
	}

	if err := o.primary.Bootstrap(ctx, o.primaryBC); err != nil {
		return 0, fmt.Errorf("esingest/orchestrator: bootstrap primary: %w", err)
	}
	if err := o.secondary.Bootstrap(ctx, o.secondaryBC); err != nil {
		return 0, fmt.Errorf("esingest/orchestrator: bootstrap secondary: %w", err)
	}

	o.strategy = o.resolveStrategy(ctx)

	if err := o.primary.Start(ctx); err != nil {
		return 0, fmt.Errorf("esingest/orchestrator: start primary: %w", err)
	}
	if o.strategy == Multiplex {
		if err := o.secondary.Start(ctx); err != nil {
			return 0, fmt.Errorf("esingest/orchestrator: start secondary: %w", err)
		}
	}

	o.started = true
	return o.strategy, nil
}

// resolveStrategy picks Reindex only when both templates already existed
// with matching hashes and the secondary's WriteAlias currently resolves to
// a live index; any schema change on the secondary forces Multiplex.
func (o *Orchestrator[D]) resolveStrategy(ctx context.Context) SyncStrategy {
	if len(o.primaryBC.StepErrors) > 0 || len(o.secondaryBC.StepErrors) > 0 {
		return Multiplex
	}

	readAlias := o.secondary.Strategy().TC.ReadAlias
	if readAlias == "" {
		return Multiplex
	}

	status, body, err := transport.Request(ctx, o.transport, http.MethodGet, "/"+readAlias, nil)
	if err != nil || status != http.StatusOK {
		return Multiplex
	}
	var live map[string]json.RawMessage
	if err := json.Unmarshal(body, &live); err != nil || len(live) != 1 {
		return Multiplex
	}

	return Reindex
}

// Strategy exposes the resolved mode once StartAsync has run.
func (o *Orchestrator[D]) Strategy() SyncStrategy { return o.strategy }

// TryWrite delegates to the armed channel(s)F "TryWrite(d)".
// For multiplex, both writes must succeed or the call reports a
// partial-publish rejection.
func (o *Orchestrator[D]) TryWrite(d D) error {
	if !o.started {
		return fmt.Errorf("esingest/orchestrator: TryWrite before StartAsync")
	}

	primaryOK := o.primary.TryWrite(d)
	if o.strategy == Reindex {
		if !primaryOK {
			return fmt.Errorf("esingest/orchestrator: primary rejected write")
		}
		return nil
	}

	secondaryOK := o.secondary.TryWrite(d)
	if primaryOK && secondaryOK {
		return nil
	}
	return fmt.Errorf("esingest/orchestrator: multiplex partial publish (primary=%v secondary=%v)", primaryOK, secondaryOK)
}

// CompleteAsync drains both armed channels, runs the reindex (if
// applicable), swaps aliases, invokes OnPostComplete, and deletes
// superseded indices.
func (o *Orchestrator[D]) CompleteAsync(ctx context.Context, drainMaxWait time.Duration) bool {
	if !o.primary.WaitForDrain(ctx, drainMaxWait) {
		return false
	}
	if o.strategy == Multiplex {
		if !o.secondary.WaitForDrain(ctx, drainMaxWait) {
			return false
		}
	}

	primaryIndex := o.primary.ConcreteIndex()
	if err := refreshIndex(ctx, o.transport, primaryIndex); err != nil {
		return false
	}

	if o.strategy == Reindex {
		secondaryIndex := o.secondary.ConcreteIndex()
		result, err := helpers.ServerReindex(ctx, o.taskMon, primaryIndex, secondaryIndex)
		if err != nil || result.Error != "" {
			return false
		}
		if err := refreshIndex(ctx, o.transport, secondaryIndex); err != nil {
			return false
		}
		if err := o.secondary.MarkReindexTargetDrained(); err != nil {
			return false
		}
	}

	if err := o.primary.ApplyAliases(ctx); err != nil {
		return false
	}
	if err := o.secondary.ApplyAliases(ctx); err != nil {
		return false
	}

	batchTS := time.Now().UTC()
	if o.onPostComplete != nil {
		o.onPostComplete(ctx, o.strategy, batchTS)
	}

	o.cleanupSuperseded(ctx, o.primary.Strategy().TC.WildcardPattern(), primaryIndex)
	if o.strategy == Multiplex {
		o.cleanupSuperseded(ctx, o.secondary.Strategy().TC.WildcardPattern(), o.secondary.ConcreteIndex())
	}

	return true
}

func refreshIndex(ctx context.Context, t transport.Interface, index string) error {
	status, body, err := transport.Request(ctx, t, http.MethodPost, "/"+index+"/_refresh", nil)
	if err != nil {
		return fmt.Errorf("esingest/orchestrator: refresh %s: %w", index, err)
	}
	if !transport.IsOKStatus(status) {
		return fmt.Errorf("esingest/orchestrator: POST /%s/_refresh returned %d: %s", index, status, body)
	}
	return nil
}

// cleanupSuperseded deletes dated indices matching wildcard that are
// neither the current concrete index nor the N most-recent retained
// (default N=1).
func (o *Orchestrator[D]) cleanupSuperseded(ctx context.Context, wildcard, currentIndex string) {
	status, body, err := transport.Request(ctx, o.transport, http.MethodGet, "/_resolve/index/"+wildcard, nil)
	if err != nil || !transport.IsOKStatus(status) {
		return
	}

	names := resolveIndexNames(body)
	toDelete := selectSuperseded(names, currentIndex, o.retainedCount)
	for _, name := range toDelete {
		_, _, _ = transport.Request(ctx, o.transport, http.MethodDelete, "/"+name, nil)
	}
}
