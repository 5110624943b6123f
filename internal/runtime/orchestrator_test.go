package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/companyatlas/atlas/pkg/config"
	"github.com/companyatlas/atlas/pkg/errors"
	"github.com/companyatlas/atlas/pkg/models"
	"github.com/companyatlas/atlas/pkg/publish"
	"github.com/companyatlas/atlas/pkg/quality"
	"github.com/companyatlas/atlas/pkg/source"
	"github.com/companyatlas/atlas/pkg/testutil"
)

// stubSource serves canned records and can fail a fixed number of reads.
type stubSource struct {
	name     string
	records  []*models.SourceRecord
	mu       sync.Mutex
	failures int
	reads    int
	block    chan struct{}
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Read(ctx context.Context) ([]*models.SourceRecord, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "read canceled")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New(errors.ErrorTypeTransient, "feed temporarily unavailable")
	}
	return s.records, nil
}

func (s *stubSource) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func testConfig() *config.PipelineConfig {
	cfg := config.DefaultPipelineConfig()
	cfg.Reliability.RetryDelay = 10 * time.Millisecond
	cfg.Shards = 2
	return cfg
}

func goodRecords() []*models.SourceRecord {
	return []*models.SourceRecord{
		testutil.SourceRecord("fortune1000", "Apple Inc", "USA", map[string]interface{}{
			models.FieldEmployeeCount: int64(160000),
			models.FieldFortuneRank:   int64(3),
		}),
		testutil.SourceRecord("global_companies", "APPLE INC", "usa", map[string]interface{}{
			models.FieldFoundedYear: int64(1976),
			models.FieldIndustry:    "Technology",
		}),
		testutil.SourceRecord("fortune1000", "Acme Corp", "USA", map[string]interface{}{
			models.FieldEmployeeCount: int64(500),
		}),
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.PipelineConfig, sources []source.Source) (*Orchestrator, *publish.MemoryPublisher) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	publisher := publish.NewMemoryPublisher(logger)
	o, err := NewOrchestrator(cfg, sources, publisher, nil, logger)
	require.NoError(t, err)
	return o, publisher
}

func runToCompletion(t *testing.T, o *Orchestrator) StatusSnapshot {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	runID, err := o.StartRun(ctx)
	require.NoError(t, err)
	snapshot, err := o.Wait(ctx, runID)
	require.NoError(t, err)
	return snapshot
}

func TestRunSucceedsEndToEnd(t *testing.T) {
	src := &stubSource{name: "fortune1000", records: goodRecords()}
	o, publisher := newTestOrchestrator(t, testConfig(), []source.Source{src})

	snapshot := runToCompletion(t, o)

	assert.Equal(t, RunSucceeded, snapshot.Status)
	for _, stage := range StageOrder {
		assert.Equal(t, StageSucceeded, snapshot.Stages[stage].Status, stage)
	}
	assert.Equal(t, 3, snapshot.Metrics.RecordsIngested)
	assert.Equal(t, 2, snapshot.Metrics.MartsEmitted, "the two Apple spellings merge")
	assert.Equal(t, 2, snapshot.Metrics.PublishedRows)

	table, _ := publisher.Snapshot()
	require.Len(t, table, 2)
	for _, rec := range table {
		assert.Equal(t, models.LayerMarts, rec.Layer)
	}
}

func TestRunIdempotentAcrossRuns(t *testing.T) {
	src := &stubSource{name: "fortune1000", records: goodRecords()}
	o, publisher := newTestOrchestrator(t, testConfig(), []source.Source{src})

	first := runToCompletion(t, o)
	firstTable, _ := publisher.Snapshot()

	second := runToCompletion(t, o)
	secondTable, _ := publisher.Snapshot()

	assert.Equal(t, RunSucceeded, first.Status)
	assert.Equal(t, RunSucceeded, second.Status)
	require.Equal(t, len(firstTable), len(secondTable))
	for i := range firstTable {
		assert.Equal(t, firstTable[i].IdentityKey, secondTable[i].IdentityKey)
		assert.Equal(t, firstTable[i].Fields, secondTable[i].Fields)
	}
}

func TestGateFailureBlocksDownstreamAndKeepsPublishedTable(t *testing.T) {
	goodSrc := &stubSource{name: "fortune1000", records: goodRecords()}
	cfg := testConfig()
	o, publisher := newTestOrchestrator(t, cfg, []source.Source{goodSrc})

	first := runToCompletion(t, o)
	require.Equal(t, RunSucceeded, first.Status)
	before, publishedAt := publisher.Snapshot()

	// A rule no input can satisfy forces the raw gate to fail.
	cfg.Rules = []quality.Rule{{
		Name: "raw_ticker_required", TargetLayer: models.LayerRaw,
		Kind: quality.RuleNotNull, Column: models.FieldTicker,
		Threshold: 1.0, Severity: quality.SeverityHard,
	}}

	second := runToCompletion(t, o)
	assert.Equal(t, RunFailed, second.Status)
	assert.Equal(t, StageFailed, second.Stages[StageGateRaw].Status)
	assert.Equal(t, 1, second.Stages[StageGateRaw].Attempts, "gate failures are never retried")
	assert.Equal(t, StageSkipped, second.Stages[StageBronzeClean].Status)
	assert.Equal(t, StageSkipped, second.Stages[StagePublish].Status)

	after, afterAt := publisher.Snapshot()
	assert.Equal(t, len(before), len(after), "a failed run leaves the published table untouched")
	assert.Equal(t, publishedAt, afterAt)
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	src := &stubSource{name: "fortune1000", records: goodRecords(), failures: 2}
	o, _ := newTestOrchestrator(t, testConfig(), []source.Source{src})

	snapshot := runToCompletion(t, o)

	assert.Equal(t, RunSucceeded, snapshot.Status)
	assert.Equal(t, 3, snapshot.Stages[StageRawBuild].Attempts)
	assert.Equal(t, 3, src.readCount())
}

func TestTransientFailureExhaustsAttempts(t *testing.T) {
	src := &stubSource{name: "fortune1000", records: goodRecords(), failures: 10}
	o, _ := newTestOrchestrator(t, testConfig(), []source.Source{src})

	snapshot := runToCompletion(t, o)

	assert.Equal(t, RunFailed, snapshot.Status)
	assert.Equal(t, StageFailed, snapshot.Stages[StageRawBuild].Status)
	assert.Equal(t, 3, snapshot.Stages[StageRawBuild].Attempts)
	for _, stage := range StageOrder[1:] {
		assert.Equal(t, StageSkipped, snapshot.Stages[stage].Status, stage)
	}
}

func TestSecondTriggerRejectedWhileRunning(t *testing.T) {
	block := make(chan struct{})
	src := &stubSource{name: "fortune1000", records: goodRecords(), block: block}
	o, _ := newTestOrchestrator(t, testConfig(), []source.Source{src})

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	runID, err := o.StartRun(ctx)
	require.NoError(t, err)

	_, err = o.StartRun(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict), "concurrent triggers are rejected, not queued")

	close(block)
	snapshot, err := o.Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, snapshot.Status)

	// A new trigger is accepted once the previous run is terminal.
	_, err = o.StartRun(ctx)
	assert.NoError(t, err)
}

func TestCancelTakesEffectAtStageBoundary(t *testing.T) {
	block := make(chan struct{})
	src := &stubSource{name: "fortune1000", records: goodRecords(), block: block}
	o, _ := newTestOrchestrator(t, testConfig(), []source.Source{src})

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	runID, err := o.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, o.CancelRun(runID))
	close(block)

	snapshot, err := o.Wait(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, snapshot.Status)
	assert.Equal(t, StageSkipped, snapshot.Stages[StagePublish].Status)
}

func TestGetStatusUnknownRun(t *testing.T) {
	src := &stubSource{name: "fortune1000", records: goodRecords()}
	o, _ := newTestOrchestrator(t, testConfig(), []source.Source{src})

	_, err := o.GetStatus("no-such-run")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestMalformedRecordsCountedNotFatal(t *testing.T) {
	records := append(goodRecords(),
		testutil.SourceRecord("fortune1000", "", "USA", nil),
		testutil.SourceRecord("global_companies", "No Country Ltd", "", nil))
	src := &stubSource{name: "fortune1000", records: records}
	o, _ := newTestOrchestrator(t, testConfig(), []source.Source{src})

	snapshot := runToCompletion(t, o)

	assert.Equal(t, RunSucceeded, snapshot.Status)
	assert.Equal(t, 2, snapshot.Metrics.RecordsDropped)
	assert.Equal(t, 1, snapshot.Metrics.DropsBySource["fortune1000"])
	assert.Equal(t, 1, snapshot.Metrics.DropsBySource["global_companies"])
}

func TestConfigErrorPreventsConstruction(t *testing.T) {
	cfg := testConfig()
	cfg.Sources = nil

	logger := zaptest.NewLogger(t)
	_, err := NewOrchestrator(cfg, nil, publish.NewMemoryPublisher(logger), nil, logger)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
