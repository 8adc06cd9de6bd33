// Package config loads the demo command's and producer adapters' settings
// from environment variables. Configuration loading is an external
// collaborator — the core packages (channel, bootstrap, strategy,
// orchestrator, enrich) take typed Go options structs directly and never
// read the environment themselves.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the settings the demo command and producer adapters need.
type Config struct {
	// Elasticsearch configuration
	ElasticsearchURL string
	ElasticsearchAPIKey string
	SkipTLSVerify bool

	// Channel sizing
	InboundMaxSize int
	OutboundMaxSize int
	OutboundMaxLifetime time.Duration
	ExportMaxConcurrency int
	ExportMaxRetries int

	// Bootstrap
	BootstrapFailOnError bool

	// Enrichment
	InferenceEndpointID string
	EnrichMaxConcurrency int
	MaxEnrichmentsPerRun int

	// Producer adapters
	SpoolDirectory string
	S3Bucket string
	S3Prefix string
	AWSRegion string
	SpoolIntervalSec int
	SpoolStateFile string

	// Streaming producer
	StreamURL string

	// Logging
	LoggingEnabled bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		ElasticsearchURL: getEnv("ELASTICSEARCH_URL", ""),
		ElasticsearchAPIKey: getEnv("ELASTICSEARCH_API_KEY", ""),
		SkipTLSVerify: getEnvBool("ELASTICSEARCH_SKIP_TLS_VERIFY", false),
		InboundMaxSize: getEnvInt("INBOUND_MAX_SIZE", 100_000),
		OutboundMaxSize: getEnvInt("OUTBOUND_MAX_SIZE", 1_000),
		OutboundMaxLifetime: getEnvDuration("OUTBOUND_MAX_LIFETIME", 5*time.Second),
		ExportMaxConcurrency: getEnvInt("EXPORT_MAX_CONCURRENCY", 4),
		ExportMaxRetries: getEnvInt("EXPORT_MAX_RETRIES", 3),
		BootstrapFailOnError: getEnvBool("BOOTSTRAP_FAIL_ON_ERROR", false),
		InferenceEndpointID: getEnv("INFERENCE_ENDPOINT_ID", ""),
		EnrichMaxConcurrency: getEnvInt("ENRICH_MAX_CONCURRENCY", 4),
		MaxEnrichmentsPerRun: getEnvInt("MAX_ENRICHMENTS_PER_RUN", 1000),
		SpoolDirectory: getEnv("SPOOL_DIRECTORY", ""),
		S3Bucket: getEnv("S3_SPOOL_BUCKET", ""),
		S3Prefix: getEnv("S3_SPOOL_PREFIX", ""),
		AWSRegion: getEnv("AWS_REGION", "us-east-1"),
		SpoolIntervalSec: getEnvInt("SPOOL_INTERVAL_SEC", 60),
		SpoolStateFile: getEnv("SPOOL_STATE_FILE", ".processed_files.json"),
		StreamURL: getEnv("STREAM_URL", ""),
		LoggingEnabled: getEnvBool("LOGGING_ENABLED", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ResolveNamespace resolves the data-stream namespace: first non-empty of
// DOTNET_ENVIRONMENT, ASPNETCORE_ENVIRONMENT, ENVIRONMENT; else
// "development". Logs the fallback once at Debug level through the
// caller-supplied logger so a missing environment variable is observable,
// without changing the resolved value.
func ResolveNamespace(debugf func(string, ...any)) string {
	for _, key := range []string{"DOTNET_ENVIRONMENT", "ASPNETCORE_ENVIRONMENT", "ENVIRONMENT"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	if debugf != nil {
		debugf("namespace not set via DOTNET_ENVIRONMENT/ASPNETCORE_ENVIRONMENT/ENVIRONMENT, falling back to %q", "development")
	}
	return "development"
}
