// Package bootstrap implements the ordered, idempotent step runner that
// provisions remote resources: component templates, index/data-stream
// templates, ILM policies, lifecycle, and pipelines, each compared against
// a content hash embedded in the remote resource before writing.
package bootstrap

import (
	"time"

	"github.com/greenearth/esingest/transport"
)

// Mode controls failure propagation across steps.
type Mode int

const (
	// Silent swallows step failures; subsequent steps still run.
	Silent Mode = iota
	// Failure aborts on the first failing step and surfaces the error.
	Failure
)

// Context is the mutable bag passed between bootstrap steps.
type Context struct {
	Transport transport.Interface
	Mode Mode

	// ChannelHash is set by ComponentTemplateStep and
	// read by every step after it, plus the provisioning strategy and the
	// sync orchestrator's mode-selection invariant.
	ChannelHash string

	// IsServerless is nil unless the caller sets it; no step in this
	// package probes the cluster to fill it in.
	IsServerless *bool

	// DataStreamLifecycleRetention is recorded by DataStreamLifecycleStep
	// for steps that run after it.
	DataStreamLifecycleRetention time.Duration

	// Read-only target description
	TemplateName string
	Wildcard string
	MappingsJSON []byte
	SettingsJSON []byte
	DataStreamType string

	// BootstrapSalt feeds typecontext.ChannelHash alongside mappings and
	// settings, letting callers version the hash independent of the
	// mapping/settings bodies themselves.
	BootstrapSalt string

	// StepErrors accumulates non-fatal (Silent mode) step failures for
	// observation.
	StepErrors []error
}

// ExistedWithMatchingHash pairs whether a remote resource existed with the
// hash found on it. No step or orchestrator in this module fills it in or
// reads it.
type ExistedWithMatchingHash struct {
	Existed bool
	Hash string
}
