package runner

import "time"

// Result records the outcome of one executed block.
type Result struct {
	Name        string
	Description string
	Success     bool
	Stdout      string
	Stderr      string
	Duration    time.Duration
	StartTime   time.Time
	EndTime     time.Time
}

// failedResult builds a synthetic Result for a block that never ran.
func failedResult(name, reason string) Result {
	now := time.Now()
	return Result{
		Name:      name,
		Success:   false,
		Stderr:    reason,
		StartTime: now,
		EndTime:   now,
	}
}
