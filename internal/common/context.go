package common

import (
	"context"
)

type contextKey string

const ContextKeyJobID contextKey = "job_id"

// WithJobID tags the context with the job id owning the current execution.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// JobIDFromContext returns the tagged job id, or "" when none is set.
func JobIDFromContext(ctx context.Context) string {
	if jobID, ok := ctx.Value(ContextKeyJobID).(string); ok {
		return jobID
	}
	return ""
}
