package model

import (
	"time"
)

// RunStatus represents the current state of a nightly valuation run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusFeaturing   RunStatus = "featuring"
	RunStatusTraining    RunStatus = "training"
	RunStatusValuing     RunStatus = "valuing"
	RunStatusBacktesting RunStatus = "backtesting"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Run represents a single pipeline run.
type Run struct {
	ID        string     `json:"id"`
	AsOf      time.Time  `json:"as_of"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Athletes    int            `json:"athletes"`
	Features    int            `json:"features"`
	Valuations  int            `json:"valuations"`
	StageARMSE  float64        `json:"stage_a_rmse"`
	StageBRMSE  float64        `json:"stage_b_rmse"`
	ResidualStd float64        `json:"residual_std"`
	StageBRows  int            `json:"stage_b_rows"`
	Backtest    BacktestResult `json:"backtest"`
	Phases      []PhaseResult  `json:"phases"`
	Error       string         `json:"error,omitempty"`
}

// RunPhase represents a stage within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline stage.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline stage.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
