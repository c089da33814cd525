package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

// Workflow is a stored graph. Definition holds the graph wire format.
type Workflow struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string         `gorm:"not null" json:"name"`
	Enabled    bool           `gorm:"not null;default:false" json:"enabled"`
	Definition datatypes.JSON `gorm:"type:jsonb;not null" json:"definition"`
	CreatedBy  string         `gorm:"not null" json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type WorkflowRun struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	WorkflowID    uuid.UUID      `gorm:"type:uuid;index:idx_workflow_runs_workflow_id;not null" json:"workflow_id"`
	Status        string         `gorm:"not null" json:"status"` // running|success|failed
	TriggerEvent  datatypes.JSON `gorm:"type:jsonb" json:"trigger_event,omitempty"`
	Result        datatypes.JSON `gorm:"type:jsonb" json:"result,omitempty"`
	FailedNode    string         `json:"failed_node,omitempty"`
	Error         string         `json:"error,omitempty"`
	NodesExecuted int            `gorm:"not null;default:0" json:"nodes_executed"` // failed node included
	DurationMs    int64          `gorm:"not null;default:0" json:"duration_ms"`
	StartedAt     time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
}

// RunOutcome is the terminal state FinishRun writes.
type RunOutcome struct {
	Status        string
	FailedNode    string
	Error         string
	Result        datatypes.JSON
	NodesExecuted int
	Duration      time.Duration
}

type WorkflowRunStep struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RunID      uuid.UUID      `gorm:"type:uuid;index:idx_workflow_run_steps_run_id;not null" json:"run_id"`
	NodeID     string         `gorm:"not null" json:"node_id"`
	Category   string         `gorm:"not null;default:''" json:"category"` // trigger|action|logic
	NodeType   string         `json:"node_type"`
	Status     string         `gorm:"not null" json:"status"` // running|success|failed
	Input      datatypes.JSON `gorm:"type:jsonb" json:"input,omitempty"`
	Output     datatypes.JSON `gorm:"type:jsonb" json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `gorm:"not null;default:0" json:"duration_ms"`
	StartedAt  time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// StepOutcome is the terminal state FinishStep writes.
type StepOutcome struct {
	Status   string
	Output   datatypes.JSON
	Error    string
	Duration time.Duration
}
