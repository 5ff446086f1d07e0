// Package persistence keeps job execution history for the status API.
// SQLite in WAL mode is the only backend, each run is one row in the executions table
// and history is trimmed per job on every insert.
package persistence
