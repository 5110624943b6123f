// Package config defines the pipeline configuration. A run's behavior is
// fully determined by the PipelineConfig handed to the orchestrator at run
// start; nothing is read from ambient global state after startup.
package config

import (
	"time"

	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/quality"
)

// SourceConfig describes one ingestion feed.
type SourceConfig struct {
	// Name is the source_system tag.
	Name string `yaml:"name" json:"name"`
	// Format is "csv" or "jsonl".
	Format string `yaml:"format" json:"format"`
	// Path is the landed feed file.
	Path string `yaml:"path" json:"path"`
}

// EnrichmentConfig controls where enrichment-only columns may be filled from.
type EnrichmentConfig struct {
	// Policy is "cascade" (any ranked candidate may fill a gap) or "strict"
	// (enrichment columns fill only from Source).
	Policy string `yaml:"policy" json:"policy"`
	// Source is the designated enrichment feed for the strict policy.
	Source string `yaml:"source" json:"source"`
}

// ReliabilityConfig bounds retries of transient stage failures.
type ReliabilityConfig struct {
	// MaxAttempts is the total attempt count per stage, first try included.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// PublishConfig selects and parameterizes the publish target.
type PublishConfig struct {
	// Target is "memory", "postgres", or "snowflake".
	Target string `yaml:"target" json:"target"`
	// DSN is the connection string for database targets. Supports ${ENV}
	// substitution in the YAML file.
	DSN string `yaml:"dsn" json:"dsn"`
	// Table is the published table name.
	Table string `yaml:"table" json:"table"`
	// Export optionally writes an artifact after a successful publish.
	Export ExportConfig `yaml:"export" json:"export"`
}

// ExportConfig controls the post-publish artifact.
type ExportConfig struct {
	// Enabled turns the export step on.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Format is "csv" or "json".
	Format string `yaml:"format" json:"format"`
	// Compression is "none", "gzip", or "zstd".
	Compression string `yaml:"compression" json:"compression"`
	// Dir is the local artifact directory.
	Dir string `yaml:"dir" json:"dir"`
	// S3Bucket, when set, uploads the artifact there under S3Prefix.
	S3Bucket string `yaml:"s3_bucket" json:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix" json:"s3_prefix"`
}

// PipelineConfig is the complete configuration of one pipeline run.
type PipelineConfig struct {
	Sources []SourceConfig `yaml:"sources" json:"sources"`
	// SourcePriority is the fixed total order used by merge tie-breaks.
	SourcePriority []string          `yaml:"source_priority" json:"source_priority"`
	Enrichment     EnrichmentConfig  `yaml:"enrichment" json:"enrichment"`
	Reliability    ReliabilityConfig `yaml:"reliability" json:"reliability"`
	// Rules overrides the default rule sets when non-empty.
	Rules   []quality.Rule `yaml:"rules" json:"rules"`
	Publish PublishConfig  `yaml:"publish" json:"publish"`
	// Shards is the identity-key partition count for the raw merge.
	Shards int `yaml:"shards" json:"shards"`
}

// DefaultPipelineConfig returns the configuration the original deployment
// ran with: fortune1000 primary, global_companies secondary, cascade
// enrichment, three attempts with a fixed delay, in-memory publish.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Sources: []SourceConfig{
			{Name: "fortune1000", Format: "csv", Path: "data/fortune1000.csv"},
			{Name: "global_companies", Format: "csv", Path: "data/global_companies.csv"},
		},
		SourcePriority: []string{"fortune1000", "global_companies"},
		Enrichment: EnrichmentConfig{
			Policy: "cascade",
			Source: "global_companies",
		},
		Reliability: ReliabilityConfig{
			MaxAttempts: 3,
			RetryDelay:  5 * time.Second,
		},
		Publish: PublishConfig{
			Target: "memory",
			Table:  "companies",
		},
		Shards: 4,
	}
}

// Validate checks the configuration. Any failure is a ConfigError; the
// pipeline never enters RUNNING with an invalid configuration.
func (c *PipelineConfig) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if src.Name == "" {
			return errors.New(errors.ErrorTypeConfig, "source name must not be empty")
		}
		if seen[src.Name] {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
		switch src.Format {
		case "csv", "jsonl":
		default:
			return errors.Newf(errors.ErrorTypeConfig, "source %q has unsupported format %q", src.Name, src.Format)
		}
		if src.Path == "" {
			return errors.Newf(errors.ErrorTypeConfig, "source %q has no path", src.Name)
		}
	}

	for _, name := range c.SourcePriority {
		if !seen[name] {
			return errors.Newf(errors.ErrorTypeConfig, "source_priority names unknown source %q", name)
		}
	}

	switch c.Enrichment.Policy {
	case "", "cascade":
	case "strict":
		if c.Enrichment.Source == "" {
			return errors.New(errors.ErrorTypeConfig, "strict enrichment requires enrichment.source")
		}
		if !seen[c.Enrichment.Source] {
			return errors.Newf(errors.ErrorTypeConfig, "enrichment.source names unknown source %q", c.Enrichment.Source)
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown enrichment policy %q", c.Enrichment.Policy)
	}

	if c.Reliability.MaxAttempts < 1 {
		return errors.New(errors.ErrorTypeConfig, "reliability.max_attempts must be at least 1")
	}
	if c.Reliability.RetryDelay < 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.retry_delay must not be negative")
	}

	switch c.Publish.Target {
	case "memory":
	case "postgres", "snowflake":
		if c.Publish.DSN == "" {
			return errors.Newf(errors.ErrorTypeConfig, "publish target %q requires a dsn", c.Publish.Target)
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown publish target %q", c.Publish.Target)
	}
	if c.Publish.Table == "" {
		return errors.New(errors.ErrorTypeConfig, "publish.table must not be empty")
	}

	for _, rule := range c.Rules {
		if rule.Threshold < 0 || rule.Threshold > 1 {
			return errors.Newf(errors.ErrorTypeConfig, "rule %q threshold must be in [0, 1]", rule.Name)
		}
	}

	if c.Shards < 0 {
		return errors.New(errors.ErrorTypeConfig, "shards must not be negative")
	}
	return nil
}
