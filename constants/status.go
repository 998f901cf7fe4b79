package constants

// JobStatus is the canonical status for rows in audit_job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "PENDING"    // accepted, not yet picked up
	JobStatusProcessing JobStatus = "PROCESSING" // agent run in progress
	JobStatusCompleted  JobStatus = "COMPLETED"  // terminal success (reports harvested)
	JobStatusFailed     JobStatus = "FAILED"     // terminal failure
)

// Terminal reports whether s is a final status. completed_at must be set
// exactly for terminal rows.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
