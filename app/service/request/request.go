// Package request contains request types for job event handlers
package request

import (
	"time"
)

// OnJobStart contains parameters for job start event
type OnJobStart struct {
	JobID           string
	Name            string
	Command         string // command as in the table
	ExecutedCommand string // command after day template rendering
	Spec            string
	StartTime       time.Time
}

// OnJobComplete contains parameters for job completion event
type OnJobComplete struct {
	JobID           string
	Name            string
	Command         string
	ExecutedCommand string
	Spec            string
	StartTime       time.Time
	EndTime         time.Time
	ExitCode        int
	Output          string // last lines of the output
	Err             error
}

// OnJobSkip contains parameters for a trigger not executed due to overlap or conditions
type OnJobSkip struct {
	JobID  string
	Spec   string
	Reason string
	Time   time.Time
}
