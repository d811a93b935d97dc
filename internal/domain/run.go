package domain

import (
	"time"
)

// RunStatus is the lifecycle state of an agent run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the archived record of one orchestrator run.
type Run struct {
	ID            string     `json:"id"`
	Task          string     `json:"task"`
	Model         string     `json:"model"`
	WorkspaceRoot string     `json:"workspace_root"`
	Status        RunStatus  `json:"status"`
	FinalAnswer   string     `json:"final_answer,omitempty"`
	Error         string     `json:"error,omitempty"`
	Iterations    int        `json:"iterations"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// IsFinished returns true once the run reached a terminal status.
func (r *Run) IsFinished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// Duration returns how long the run took, or has been running so far.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.CreatedAt)
	}
	return time.Since(r.CreatedAt)
}
