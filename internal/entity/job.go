package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/repo-auditor/constants"
)

// Job represents an audit job for data transfer between layers.
type Job struct {
	ID               uuid.UUID           `json:"id"`
	UserID           uuid.UUID           `json:"user_id"`
	RepoPath         string              `json:"repo_path"`
	Query            *string             `json:"query,omitempty"`
	Status           constants.JobStatus `json:"status"`
	ReportPath       *string             `json:"report_path,omitempty"`
	DataFlowPath     *string             `json:"data_flow_path,omitempty"`
	ThreatModelPath  *string             `json:"threat_model_path,omitempty"`
	RiskRegisterPath *string             `json:"risk_register_path,omitempty"`
	ErrorMessage     *string             `json:"error_message,omitempty"`
	RepoName         *string             `json:"repo_name,omitempty"`
	Branch           *string             `json:"branch,omitempty"`
	Commit           *string             `json:"commit,omitempty"`
	DurationSeconds  *int64              `json:"duration_seconds,omitempty"`
	Cost             *string             `json:"cost,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
}
