package main

import (
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/greenearth/esingest/bootstrap"
	"github.com/greenearth/esingest/channel"
	"github.com/greenearth/esingest/internal/config"
	"github.com/greenearth/esingest/metrics"
	"github.com/greenearth/esingest/strategy"
	"github.com/greenearth/esingest/transport"
	"github.com/greenearth/esingest/typecontext"
)

// buildPostChannel wires a TypeContext, IngestStrategy, and Channel[Post]
// from cfg, the demo's one ingestion target. writeTarget is the alias/index
// base name posts are written under.
func buildPostChannel(cfg *config.Config, t transport.Interface, writeTarget string, collector *metrics.ChannelCollector) *channel.Channel[Post] {
	tc := newPostTypeContext(typecontext.Index, writeTarget)

	steps := []bootstrap.Step{
		&bootstrap.IlmPolicyStep{
			PolicyName: writeTarget + "-ilm",
			HotMaxAge: "7d",
			DeleteMinAge: "30d",
		},
		&bootstrap.ComponentTemplateStep{IlmPolicyName: writeTarget + "-ilm"},
		&bootstrap.IndexTemplateStep{
			IndexPatterns: []string{writeTarget + "-*"},
			Priority: 200,
		},
	}

	strat := strategy.NewIndexStrategy[Post](tc, steps, strategy.HashBasedReuse{}, &strategy.LatestAndSearch{
		WriteTarget: writeTarget,
		ReadAlias: tc.ReadAlias,
	})

	opts := channel.BufferOptions{
		InboundMaxSize: cfg.InboundMaxSize,
		OutboundMaxSize: cfg.OutboundMaxSize,
		OutboundMaxLifetime: cfg.OutboundMaxLifetime,
		ExportMaxConcurrency: cfg.ExportMaxConcurrency,
		ExportMaxRetries: cfg.ExportMaxRetries,
		Tracer: otel.Tracer("esingest/channel"),
		Meter: otel.Meter("esingest/channel"),
	}

	var observer channel.Observer
	if collector != nil {
		observer = collector
	}
	return channel.NewChannel[Post](strat, t, opts, observer)
}

// newBootstrapContext builds the bootstrap.Context one Channel.Bootstrap
// call consumes, reading the remaining read-only fields off the channel's
// TypeContext and the run-wide failure mode cfg selects.
func newBootstrapContext(t transport.Interface, tc *typecontext.TypeContext[Post], templateName string, failOnError bool) *bootstrap.Context {
	mode := bootstrap.Silent
	if failOnError {
		mode = bootstrap.Failure
	}
	mappings, _ := tc.MappingsJSON()
	settings, _ := tc.SettingsJSON()
	return &bootstrap.Context{
		Transport: t,
		Mode: mode,
		TemplateName: templateName,
		Wildcard: tc.WildcardPattern(),
		MappingsJSON: mappings,
		SettingsJSON: settings,
		BootstrapSalt: "esingest-demo-v1",
	}
}

// decodePostRow adapts decodePost for the spool producers' RowDecoder
// shape, reading the "at_uri"/"raw_post" column pair a snapshot's posts
// table carries.
func decodePostRow(rows *sql.Rows, sourceFilename string) (Post, error) {
	var atURI, rawPost string
	if err := rows.Scan(&atURI, &rawPost); err != nil {
		return Post{}, err
	}
	post, err := decodePost([]byte(rawPost))
	if err != nil {
		return Post{}, err
	}
	if post.AtURI == "" {
		post.AtURI = atURI
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	return post, nil
}
