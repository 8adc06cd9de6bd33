// Command esingest-demo wires the channel, bootstrap, strategy, and
// producer packages into a runnable ingestion pipeline for one document
// type (Post), the demo harness for this module's core library.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/greenearth/esingest/channel"
	"github.com/greenearth/esingest/enrich"
	"github.com/greenearth/esingest/internal/config"
	"github.com/greenearth/esingest/internal/logging"
	"github.com/greenearth/esingest/internal/spoolstate"
	"github.com/greenearth/esingest/metrics"
	"github.com/greenearth/esingest/producer"
	"github.com/greenearth/esingest/transport"
	"github.com/greenearth/esingest/typecontext"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "run bootstrap and start the pipeline, but do not connect a producer")
	source := flag.String("source", "websocket", "producer to run: websocket, local-spool, or s3-spool")
	writeTarget := flag.String("write-target", "posts", "index alias base name posts are written under")
	metricsAddr := flag.String("metrics-addr", ":9090", "address the Prometheus /metrics endpoint listens on")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.LoggingEnabled)

	namespace := config.ResolveNamespace(logger.Debug)
	logger.Info("esingest demo starting (namespace=%s, source=%s)", namespace, *source)

	if cfg.ElasticsearchURL == "" {
		logger.Error("ELASTICSEARCH_URL environment variable is required")
		os.Exit(1)
	}
	if !*dryRun && cfg.ElasticsearchAPIKey == "" {
		logger.Error("ELASTICSEARCH_API_KEY environment variable is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, draining channel")
		cancel()
	}()

	var esOpts []func(*elasticsearch.Config)
	if cfg.SkipTLSVerify {
		logger.Info("TLS certificate verification disabled (local development mode)")
		esOpts = append(esOpts, func(c *elasticsearch.Config) {
			c.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
		})
	}
	esConfig := elasticsearch.Config{Addresses: []string{cfg.ElasticsearchURL}, APIKey: cfg.ElasticsearchAPIKey}
	for _, apply := range esOpts {
		apply(&esConfig)
	}
	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		logger.Error("failed to build elasticsearch client: %v", err)
		os.Exit(1)
	}
	t := transport.Interface(client.Transport)

	registry := prometheus.NewRegistry()
	collector := metrics.NewChannelCollector(*writeTarget)
	registry.MustRegister(collector)

	ch := buildPostChannel(cfg, t, *writeTarget, collector)
	tc := newPostTypeContext(typecontext.Index, *writeTarget)
	bc := newBootstrapContext(t, tc, *writeTarget, cfg.BootstrapFailOnError)

	if err := ch.Bootstrap(ctx, bc); err != nil {
		logger.Error("bootstrap failed: %v", err)
		os.Exit(1)
	}
	if len(bc.StepErrors) > 0 {
		logger.Error("bootstrap completed with %d non-fatal step error(s): %v", len(bc.StepErrors), bc.StepErrors)
	}
	logger.Info("bootstrapped concrete index %s", ch.ConcreteIndex())

	if err := ch.Start(ctx); err != nil {
		logger.Error("failed to start channel: %v", err)
		os.Exit(1)
	}

	if cfg.InferenceEndpointID != "" {
		go runEnrichLoop(ctx, cfg, t, *writeTarget, logger, registry)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error: %v", err)
		}
	}()

	if !*dryRun {
		if err := runProducer(ctx, cfg, *source, logger, ch); err != nil && ctx.Err() == nil {
			logger.Error("producer exited: %v", err)
		}
	} else {
		logger.Info("dry-run mode: pipeline started with no producer attached")
		<-ctx.Done()
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if ch.WaitForDrain(drainCtx, 30*time.Second) {
		logger.Info("channel drained cleanly")
	} else {
		logger.Error("channel did not drain within the shutdown window")
	}

	if err := ch.ApplyAliases(context.Background()); err != nil {
		logger.Error("failed to apply aliases after drain: %v", err)
	}
	ch.Dispose()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("esingest demo stopped")
}

// runProducer dispatches to the producer adapter named by source, feeding
// decoded Posts into ch until ctx is cancelled.
func runProducer(ctx context.Context, cfg *config.Config, source string, logger logging.Logger, ch *channel.Channel[Post]) error {
	switch source {
	case "websocket":
		if cfg.StreamURL == "" {
			return fmt.Errorf("STREAM_URL is required for source=websocket")
		}
		p := producer.NewWebSocketProducer[Post](logger, decodePost)
		if err := p.Connect(ctx, cfg.StreamURL); err != nil {
			return err
		}
		defer p.Close()
		return p.Run(ctx, ch)

	case "local-spool":
		if cfg.SpoolDirectory == "" {
			return fmt.Errorf("SPOOL_DIRECTORY is required for source=local-spool")
		}
		state, err := spoolstate.NewManager(cfg.SpoolStateFile, logger)
		if err != nil {
			return err
		}
		spoolCfg := producer.SpoolConfig{
			Mode: "watch",
			Interval: time.Duration(cfg.SpoolIntervalSec) * time.Second,
			Query: "SELECT at_uri, raw_post FROM posts",
		}
		p := producer.NewLocalSpoolProducer[Post](cfg.SpoolDirectory, spoolCfg, state, logger, decodePostRow)
		return p.Run(ctx, ch)

	case "s3-spool":
		if cfg.S3Bucket == "" {
			return fmt.Errorf("S3_SPOOL_BUCKET is required for source=s3-spool")
		}
		state, err := spoolstate.NewManager(cfg.SpoolStateFile, logger)
		if err != nil {
			return err
		}
		spoolCfg := producer.SpoolConfig{
			Mode: "watch",
			Interval: time.Duration(cfg.SpoolIntervalSec) * time.Second,
			Query: "SELECT at_uri, raw_post FROM posts",
		}
		p, err := producer.NewS3SpoolProducer[Post](ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.AWSRegion, spoolCfg, state, logger, decodePostRow)
		if err != nil {
			return err
		}
		return p.Run(ctx, ch)

	default:
		return fmt.Errorf("unknown source %q", source)
	}
}

// runEnrichLoop polls EnrichAsync on a fixed interval until ctx is
// cancelled, folding each run's result into an EnrichCollector registered
// on registry.
func runEnrichLoop(ctx context.Context, cfg *config.Config, t transport.Interface, writeTarget string, logger logging.Logger, registry *prometheus.Registry) {
	enrichCfg := enrich.Config{
		LookupIndex: writeTarget + "-ai-lookup",
		MatchField: "at_uri",
		PolicyName: writeTarget + "-ai-policy",
		PipelineName: writeTarget + "-ai-pipeline",
		EndpointID: cfg.InferenceEndpointID,
		Fields: []enrich.FieldSpec{
			{Name: "ai_summary", Description: "Summarize in one sentence: {{.content}}"},
		},
		MaxEnrichmentsPerRun: cfg.MaxEnrichmentsPerRun,
		MaxConcurrency: cfg.EnrichMaxConcurrency,
	}
	orch := enrich.New(enrichCfg, t)
	collector := metrics.NewEnrichCollector(enrichCfg.LookupIndex)
	registry.MustRegister(collector)

	if err := orch.InitializeAsync(ctx); err != nil {
		logger.Error("enrich initialize failed: %v", err)
		return
	}

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := orch.EnrichAsync(ctx, writeTarget+"-latest")
			if err != nil {
				logger.Error("enrich run failed: %v", err)
				continue
			}
			collector.Observe(result)
			logger.Info("enrich run: %s candidates examined, %s enriched, reached_limit=%v",
				humanize.Comma(int64(result.TotalCandidates)), humanize.Comma(int64(result.Enriched)), result.ReachedLimit)
		}
	}
}
