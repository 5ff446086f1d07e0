// Package enums provides type-safe enumeration types for the status API and history store.
//
// Enum types are declared here as unexported integer types and the go:generate directive
// makes exported types with String, Parse, text marshaling and sql Scan/Value methods
// in *_enum.go files.
//
//	status := enums.JobStatusFailed
//	parsed, err := enums.ParseJobStatus("skipped")
package enums

//go:generate go run github.com/go-pkgz/enum@latest -type jobStatus -lower

// jobStatus is the outcome of a job run, input for the generator only
type jobStatus int

const (
	jobStatusIdle jobStatus = iota
	jobStatusRunning
	jobStatusSuccess
	jobStatusFailed
	jobStatusSkipped
)
