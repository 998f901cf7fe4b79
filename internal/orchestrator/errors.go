package orchestrator

import "fmt"

// ExitError is returned when the agent exited non-zero and harvesting found
// nothing. Carries a tail of diagnostic lines from the captured output so
// the failed job record is actionable.
type ExitError struct {
	Code int
	Tail string
}

func (e *ExitError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("analysis agent exited with code %d and produced no reports", e.Code)
	}
	return fmt.Sprintf("analysis agent exited with code %d and produced no reports:\n%s", e.Code, e.Tail)
}
