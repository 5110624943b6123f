package runtime

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/companyatlas/atlas/pkg/config"
	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/layers/bronze"
	"github.com/companyatlas/atlas/pkg/layers/marts"
	"github.com/companyatlas/atlas/pkg/layers/raw"
	"github.com/companyatlas/atlas/pkg/metrics"
	"github.com/companyatlas/atlas/pkg/models"
	"github.com/companyatlas/atlas/pkg/observability"
	"github.com/companyatlas/atlas/pkg/publish"
	"github.com/companyatlas/atlas/pkg/quality"
	"github.com/companyatlas/atlas/pkg/source"
)

// Orchestrator owns run execution. It enforces the single-active-run
// invariant, retries transient stage failures up to the configured attempt
// bound, fails fast on gate and integrity errors, and publishes atomically.
type Orchestrator struct {
	cfg       *config.PipelineConfig
	sources   []source.Source
	publisher publish.Publisher
	exporter  *publish.Exporter

	builder    *raw.Builder
	cleaner    *bronze.Cleaner
	aggregator *marts.Aggregator
	gate       *quality.Gate

	logger *zap.Logger

	// mu guards the run registry and the active-run slot.
	mu       sync.Mutex
	runs     map[string]*PipelineRun
	activeID string
	cancels  map[string]context.CancelFunc
}

// NewOrchestrator validates the configuration and wires the stages. An
// invalid configuration is fatal here; the pipeline never enters RUNNING
// with one.
func NewOrchestrator(cfg *config.PipelineConfig, sources []source.Source, publisher publish.Publisher, exporter *publish.Exporter, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rawCfg := raw.Config{
		SourcePriority:   cfg.SourcePriority,
		Policy:           raw.EnrichmentPolicy(cfg.Enrichment.Policy),
		EnrichmentSource: cfg.Enrichment.Source,
		Shards:           cfg.Shards,
	}
	if rawCfg.Policy == "" {
		rawCfg.Policy = raw.PolicyCascade
	}

	o := &Orchestrator{
		cfg:        cfg,
		sources:    sources,
		publisher:  publisher,
		exporter:   exporter,
		builder:    raw.NewBuilder(rawCfg, logger),
		cleaner:    bronze.NewCleaner(logger),
		aggregator: marts.NewAggregator(logger),
		gate:       quality.NewGate(logger),
		logger:     logger.With(zap.String("component", "orchestrator")),
		runs:       make(map[string]*PipelineRun),
		cancels:    make(map[string]context.CancelFunc),
	}
	return o, nil
}

// StartRun triggers a new pipeline run and returns its ID. At most one run
// may be active; a trigger during an active run is rejected with a conflict
// error, never queued.
func (o *Orchestrator) StartRun(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.activeID != "" {
		return "", errors.Newf(errors.ErrorTypeConflict, "run %s is already active", o.activeID).
			WithDetail("active_run_id", o.activeID)
	}

	run := newPipelineRun(uuid.NewString())
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.runs[run.RunID] = run
	o.cancels[run.RunID] = cancel
	o.activeID = run.RunID

	go o.execute(runCtx, run)
	return run.RunID, nil
}

// GetStatus returns a consistent snapshot of the run. Safe to poll.
func (o *Orchestrator) GetStatus(runID string) (StatusSnapshot, error) {
	o.mu.Lock()
	run, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return StatusSnapshot{}, errors.Newf(errors.ErrorTypeNotFound, "unknown run %s", runID)
	}
	return run.Snapshot(), nil
}

// CancelRun requests cancellation. The in-flight stage completes or fails;
// the cancellation takes effect at the next stage boundary.
func (o *Orchestrator) CancelRun(runID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[runID]
	o.mu.Unlock()
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "unknown run %s", runID)
	}
	cancel()
	return nil
}

// Wait blocks until the run reaches a terminal status or the context ends.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (StatusSnapshot, error) {
	o.mu.Lock()
	run, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return StatusSnapshot{}, errors.Newf(errors.ErrorTypeNotFound, "unknown run %s", runID)
	}

	select {
	case <-run.Done():
		return run.Snapshot(), nil
	case <-ctx.Done():
		return run.Snapshot(), errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "wait canceled")
	}
}

// runData carries the materialized output of each stage to the next within
// one run. It never outlives the run.
type runData struct {
	sourceRecords []*models.SourceRecord
	rawRecords    []*models.UnifiedRecord
	bronzeRecords []*models.UnifiedRecord
	martsRecords  []*models.UnifiedRecord
	bronzeKeys    map[models.IdentityKey]struct{}
}

func (o *Orchestrator) execute(ctx context.Context, run *PipelineRun) {
	logger := o.logger.With(zap.String("run_id", run.RunID))
	ctx, span := observability.StartSpan(ctx, "pipeline_run",
		attribute.String("run_id", run.RunID))
	defer span.End()

	run.setStatus(RunRunning)
	logger.Info("run started")

	data := &runData{}
	stages := []struct {
		name string
		fn   func(context.Context, *PipelineRun, *runData) error
	}{
		{StageRawBuild, o.stageRawBuild},
		{StageGateRaw, o.stageGateRaw},
		{StageBronzeClean, o.stageBronzeClean},
		{StageGateBronze, o.stageGateBronze},
		{StageMartsAggregate, o.stageMartsAggregate},
		{StageGateMarts, o.stageGateMarts},
		{StagePublish, o.stagePublish},
	}

	status := RunSucceeded
	for _, stage := range stages {
		// Cancellation is honored here, at the stage boundary; a stage that
		// has started always completes or fails on its own.
		if ctx.Err() != nil {
			logger.Warn("run canceled", zap.String("next_stage", stage.name))
			run.skipFrom(stage.name)
			status = RunFailed
			break
		}
		if err := o.runStage(ctx, run, stage.name, stage.fn, data); err != nil {
			run.skipFrom(nextStage(stage.name))
			status = RunFailed
			break
		}
	}

	o.finishRun(run, status, logger)
}

func (o *Orchestrator) finishRun(run *PipelineRun, status RunStatus, logger *zap.Logger) {
	run.setStatus(status)
	metrics.RunsCompleted.WithLabelValues(string(status)).Inc()

	o.mu.Lock()
	o.activeID = ""
	delete(o.cancels, run.RunID)
	o.mu.Unlock()

	snapshot := run.Snapshot()
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Duration("elapsed", snapshot.FinishedAt.Sub(snapshot.StartedAt)),
		zap.Int("records_ingested", snapshot.Metrics.RecordsIngested),
		zap.Int("records_dropped", snapshot.Metrics.RecordsDropped),
		zap.Int("published_rows", snapshot.Metrics.PublishedRows))
	o.logResourceUsage(logger)

	close(run.done)
}

// logResourceUsage logs the process footprint at run completion.
func (o *Orchestrator) logResourceUsage(logger *zap.Logger) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	fields := []zap.Field{}
	if mem, err := proc.MemoryInfo(); err == nil {
		fields = append(fields, zap.Uint64("rss_bytes", mem.RSS))
	}
	if cpu, err := proc.Times(); err == nil {
		fields = append(fields, zap.Float64("cpu_user_seconds", cpu.User),
			zap.Float64("cpu_system_seconds", cpu.System))
	}
	if len(fields) > 0 {
		logger.Info("run resource usage", fields...)
	}
}

// runStage drives one stage through its state machine. Transient errors
// retry after a fixed delay up to the configured attempt bound; gate,
// integrity, and record-shape errors fail immediately.
func (o *Orchestrator) runStage(ctx context.Context, run *PipelineRun, name string, fn func(context.Context, *PipelineRun, *runData) error, data *runData) error {
	logger := o.logger.With(zap.String("run_id", run.RunID), zap.String("stage", name))
	ctx, span := observability.StartSpan(ctx, name, attribute.String("run_id", run.RunID))
	defer span.End()

	maxAttempts := o.cfg.Reliability.MaxAttempts
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		run.setStage(name, func(s *StageState) {
			s.Status = StageRunning
			s.Attempts = attempt
			if attempt == 1 {
				s.StartedAt = time.Now()
			}
		})

		start := time.Now()
		err := fn(ctx, run, data)
		if err == nil {
			run.setStage(name, func(s *StageState) {
				s.Status = StageSucceeded
				s.FinishedAt = time.Now()
				s.Error = ""
			})
			metrics.ObserveStage(name, "succeeded", time.Since(start))
			logger.Info("stage succeeded", zap.Int("attempt", attempt), zap.Duration("elapsed", time.Since(start)))
			return nil
		}

		lastErr = err
		metrics.ObserveStage(name, "failed", time.Since(start))

		if !errors.IsRetryable(err) || attempt == maxAttempts {
			break
		}

		run.setStage(name, func(s *StageState) {
			s.Status = StageRetrying
			s.Error = err.Error()
		})
		logger.Warn("stage retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))

		select {
		case <-time.After(o.cfg.Reliability.RetryDelay):
		case <-ctx.Done():
			lastErr = errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry delay interrupted")
		}
		if ctx.Err() != nil {
			break
		}
	}

	run.setStage(name, func(s *StageState) {
		s.Status = StageFailed
		s.FinishedAt = time.Now()
		s.Error = lastErr.Error()
	})
	logger.Error("stage failed", zap.Error(lastErr))
	return lastErr
}

// nextStage returns the stage after name in the fixed order, or "" at the end.
func nextStage(name string) string {
	for i, stage := range StageOrder {
		if stage == name && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return ""
}

func (o *Orchestrator) stageRawBuild(ctx context.Context, run *PipelineRun, data *runData) error {
	records, err := source.ReadAll(ctx, o.sources)
	if err != nil {
		return err
	}
	data.sourceRecords = records

	rawRecords, stats, err := o.builder.Build(ctx, records)
	if err != nil {
		return err
	}
	data.rawRecords = rawRecords

	run.updateMetrics(func(m *RunMetrics) {
		m.RecordsIngested = stats.Ingested
		m.RecordsDropped = stats.Dropped
		for src, n := range stats.DropsBySource {
			m.DropsBySource[src] += n
		}
		m.RawEmitted = stats.Emitted
	})
	for src, n := range stats.DropsBySource {
		metrics.RecordsDropped.WithLabelValues(src).Add(float64(n))
	}
	bySource := make(map[string]int)
	for _, rec := range records {
		bySource[rec.SourceSystem]++
	}
	for src, n := range bySource {
		metrics.RecordsIngested.WithLabelValues(src).Add(float64(n))
	}
	metrics.RecordsEmitted.WithLabelValues(string(models.LayerRaw)).Add(float64(stats.Emitted))

	return assertUniqueIdentities(data.rawRecords, models.LayerRaw)
}

func (o *Orchestrator) stageGateRaw(_ context.Context, _ *PipelineRun, data *runData) error {
	return o.evaluateGate(data.rawRecords, models.LayerRaw, nil)
}

func (o *Orchestrator) stageBronzeClean(_ context.Context, run *PipelineRun, data *runData) error {
	cleaned, stats := o.cleaner.Clean(data.rawRecords)
	data.bronzeRecords = cleaned
	data.bronzeKeys = make(map[models.IdentityKey]struct{}, len(cleaned))
	for _, rec := range cleaned {
		data.bronzeKeys[rec.IdentityKey] = struct{}{}
	}

	run.updateMetrics(func(m *RunMetrics) {
		m.BronzeEmitted = stats.Output
		m.BronzeDropped = stats.DroppedNoName
	})
	metrics.RecordsEmitted.WithLabelValues(string(models.LayerBronze)).Add(float64(stats.Output))

	return assertUniqueIdentities(cleaned, models.LayerBronze)
}

func (o *Orchestrator) stageGateBronze(_ context.Context, _ *PipelineRun, data *runData) error {
	return o.evaluateGate(data.bronzeRecords, models.LayerBronze, nil)
}

func (o *Orchestrator) stageMartsAggregate(_ context.Context, run *PipelineRun, data *runData) error {
	aggregated, stats := o.aggregator.Aggregate(data.bronzeRecords, data.bronzeRecords)
	data.martsRecords = aggregated

	run.updateMetrics(func(m *RunMetrics) {
		m.MartsEmitted = stats.Emitted
	})
	metrics.RecordsEmitted.WithLabelValues(string(models.LayerMarts)).Add(float64(stats.Emitted))

	return assertUniqueIdentities(aggregated, models.LayerMarts)
}

func (o *Orchestrator) stageGateMarts(_ context.Context, _ *PipelineRun, data *runData) error {
	return o.evaluateGate(data.martsRecords, models.LayerMarts, data.bronzeKeys)
}

func (o *Orchestrator) stagePublish(ctx context.Context, run *PipelineRun, data *runData) error {
	if err := o.publisher.Publish(ctx, data.martsRecords); err != nil {
		return err
	}

	run.updateMetrics(func(m *RunMetrics) {
		m.PublishedRows = len(data.martsRecords)
	})
	metrics.PublishedRows.Set(float64(len(data.martsRecords)))

	if o.exporter != nil {
		if _, err := o.exporter.Export(ctx, data.martsRecords); err != nil {
			return err
		}
	}
	return nil
}

// evaluateGate runs the layer's rules. A hard failure is a data problem, not
// an infrastructure problem, so it is never retried.
func (o *Orchestrator) evaluateGate(records []*models.UnifiedRecord, layer models.Layer, reference map[models.IdentityKey]struct{}) error {
	rules := o.cfg.Rules
	if len(rules) == 0 {
		rules = quality.DefaultRules(layer)
	}

	report := o.gate.Evaluate(records, rules, reference)
	metrics.RecordGate(string(layer), report.GatePassed)

	if !report.GatePassed {
		err := errors.Newf(errors.ErrorTypeValidationGate, "%s quality gate failed", layer)
		for _, result := range report.Results {
			if !result.Passed && result.Rule.Severity == quality.SeverityHard {
				err = err.WithDetail(result.Rule.Name, result.PassRatio)
			}
		}
		return err
	}
	return nil
}

// assertUniqueIdentities guards the per-layer uniqueness invariant. A
// duplicate here is a merge defect, not a data issue, and aborts the run.
func assertUniqueIdentities(records []*models.UnifiedRecord, layer models.Layer) error {
	seen := make(map[models.IdentityKey]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.IdentityKey]; dup {
			return errors.Newf(errors.ErrorTypeDataIntegrity, "duplicate identity in %s layer", layer).
				WithDetail("identity_key", string(rec.IdentityKey))
		}
		seen[rec.IdentityKey] = struct{}{}
	}
	return nil
}
