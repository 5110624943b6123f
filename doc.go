// Package atlas unifies company records from multiple ingestion feeds into a
// single deduplicated, validated table.
//
// Records flow through three layers. The raw layer resolves every record to a
// deterministic identity (a hash of normalized name and country), groups by
// identity, and merges each group by enrichment: a field set from a
// higher-priority source is never overridden by a lower-priority one. The
// bronze layer coerces types, normalizes casing, and nulls out-of-range
// values. The marts layer reduces metric observations per company with an
// independent max() per metric column and left-joins them onto the cleaned
// dimensions.
//
// A declarative quality gate runs between every pair of layers; a failing
// hard rule stops the run before the next layer materializes. The published
// marts table is replaced via atomic swap, so a reader only ever sees the
// output of a fully succeeded run.
//
// # Quick Start
//
// Run the pipeline with the bundled defaults:
//
//	atlas run --config atlas.yaml
//
// Or drive it programmatically:
//
//	cfg := config.DefaultPipelineConfig()
//	sources, _ := runtime.BuildSources(cfg, log)
//	publisher := publish.NewMemoryPublisher(log)
//	o, _ := runtime.NewOrchestrator(cfg, sources, publisher, nil, log)
//	runID, _ := o.StartRun(ctx)
//	status, _ := o.Wait(ctx, runID)
//
// # Package Layout
//
//   - pkg/identity: identity resolution and normalization
//   - pkg/layers/raw, pkg/layers/bronze, pkg/layers/marts: the three layers
//   - pkg/quality: declarative validation rules and the quality gate
//   - pkg/source: CSV and JSONL feed readers
//   - pkg/publish: memory, PostgreSQL, and Snowflake publishers plus export
//   - internal/runtime: the run state machine and orchestrator
package atlas
