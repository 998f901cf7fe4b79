package entity

import "time"

// Upload describes a staged archive accepted for a job. It only lives for
// the duration of the execution; the orchestrator removes the file when the
// job terminates.
type Upload struct {
	ArchivePath      string    `json:"archive_path"`
	OriginalFilename string    `json:"original_filename"`
	Size             int64     `json:"size"`
	UploadedAt       time.Time `json:"uploaded_at"`
}
