// Package runtime sequences the pipeline: raw build, bronze clean, marts
// aggregate, each behind its quality gate, followed by an atomic publish.
// One run at a time; every stage sees the fully materialized, gated output of
// its predecessor.
package runtime

import (
	"sync"
	"time"
)

// StageStatus is the state of one stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "PENDING"
	StageRunning   StageStatus = "RUNNING"
	StageRetrying  StageStatus = "RETRYING"
	StageSucceeded StageStatus = "SUCCEEDED"
	StageFailed    StageStatus = "FAILED"
	StageSkipped   StageStatus = "SKIPPED"
)

// RunStatus is the whole-run state.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// Stage names, in execution order.
const (
	StageRawBuild       = "raw_build"
	StageGateRaw        = "gate_raw"
	StageBronzeClean    = "bronze_clean"
	StageGateBronze     = "gate_bronze"
	StageMartsAggregate = "marts_aggregate"
	StageGateMarts      = "gate_marts"
	StagePublish        = "publish"
)

// StageOrder is the fixed stage sequence of every run.
var StageOrder = []string{
	StageRawBuild,
	StageGateRaw,
	StageBronzeClean,
	StageGateBronze,
	StageMartsAggregate,
	StageGateMarts,
	StagePublish,
}

// StageState tracks one stage's progress through its state machine.
type StageState struct {
	Status     StageStatus `json:"status"`
	Attempts   int         `json:"attempts"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// RunMetrics accumulates record-level counters over one run. Record-level
// errors land here as drop counts instead of failing the run.
type RunMetrics struct {
	RecordsIngested int            `json:"records_ingested"`
	RecordsDropped  int            `json:"records_dropped"`
	DropsBySource   map[string]int `json:"drops_by_source,omitempty"`
	RawEmitted      int            `json:"raw_emitted"`
	BronzeEmitted   int            `json:"bronze_emitted"`
	BronzeDropped   int            `json:"bronze_dropped"`
	MartsEmitted    int            `json:"marts_emitted"`
	PublishedRows   int            `json:"published_rows"`
}

// PipelineRun is the sole mutable record of one execution. All access goes
// through its mutex; Snapshot returns consistent copies for pollers.
type PipelineRun struct {
	mu sync.Mutex

	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Stages     map[string]*StageState
	Metrics    RunMetrics

	done chan struct{}
}

func newPipelineRun(runID string) *PipelineRun {
	stages := make(map[string]*StageState, len(StageOrder))
	for _, name := range StageOrder {
		stages[name] = &StageState{Status: StagePending}
	}
	return &PipelineRun{
		RunID:     runID,
		StartedAt: time.Now(),
		Status:    RunPending,
		Stages:    stages,
		Metrics:   RunMetrics{DropsBySource: make(map[string]int)},
		done:      make(chan struct{}),
	}
}

// StatusSnapshot is an immutable copy of a run's state, safe to serialize.
type StatusSnapshot struct {
	RunID      string                `json:"run_id"`
	Status     RunStatus             `json:"status"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at,omitempty"`
	Stages     map[string]StageState `json:"stages"`
	StageOrder []string              `json:"stage_order"`
	Metrics    RunMetrics            `json:"metrics"`
}

// Snapshot copies the run state under lock.
func (r *PipelineRun) Snapshot() StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	stages := make(map[string]StageState, len(r.Stages))
	for name, state := range r.Stages {
		stages[name] = *state
	}
	metrics := r.Metrics
	metrics.DropsBySource = make(map[string]int, len(r.Metrics.DropsBySource))
	for k, v := range r.Metrics.DropsBySource {
		metrics.DropsBySource[k] = v
	}

	return StatusSnapshot{
		RunID:      r.RunID,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Stages:     stages,
		StageOrder: StageOrder,
		Metrics:    metrics,
	}
}

// Done closes when the run reaches a terminal status.
func (r *PipelineRun) Done() <-chan struct{} {
	return r.done
}

func (r *PipelineRun) setStatus(status RunStatus) {
	r.mu.Lock()
	r.Status = status
	if status == RunSucceeded || status == RunFailed {
		r.FinishedAt = time.Now()
	}
	r.mu.Unlock()
}

func (r *PipelineRun) setStage(name string, mutate func(*StageState)) {
	r.mu.Lock()
	mutate(r.Stages[name])
	r.mu.Unlock()
}

func (r *PipelineRun) updateMetrics(mutate func(*RunMetrics)) {
	r.mu.Lock()
	mutate(&r.Metrics)
	r.mu.Unlock()
}

// skipFrom marks the named stage and everything after it SKIPPED, leaving
// already-finished stages alone.
func (r *PipelineRun) skipFrom(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	skipping := false
	for _, stage := range StageOrder {
		if stage == name {
			skipping = true
		}
		if skipping && r.Stages[stage].Status == StagePending {
			r.Stages[stage].Status = StageSkipped
		}
	}
}
