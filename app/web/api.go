package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/solarray/pipecron/app/crontab"
	"github.com/solarray/pipecron/app/web/enums"
	"github.com/solarray/pipecron/app/web/persistence"
)

// APIStatusResponse is the JSON response for /api/v1/status
type APIStatusResponse struct {
	Version   string    `json:"version"`
	Host      string    `json:"host,omitempty"`
	Source    string    `json:"source"`
	Table     string    `json:"table_version"`
	LoadedAt  time.Time `json:"loaded_at,omitzero"`
	Jobs      []APIJob  `json:"jobs"`
	Stats     APIStats  `json:"stats"`
	Timestamp time.Time `json:"timestamp"`
}

// APIJob represents a job in JSON API response
type APIJob struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Spec         string    `json:"spec"`
	Command      string    `json:"command"`
	Dir          string    `json:"dir,omitempty"`
	Line         int       `json:"line"`
	NextRun      time.Time `json:"next_run,omitzero"`
	LastRun      time.Time `json:"last_run,omitzero"`
	LastStatus   string    `json:"last_status"`
	LastExitCode int       `json:"last_exit_code"`
	IsRunning    bool      `json:"is_running"`
}

// APIStats represents aggregated statistics in JSON API response
type APIStats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Idle    int `json:"idle"`
}

// APIHistoryResponse is the JSON response for job history
type APIHistoryResponse struct {
	JobID      string                  `json:"job_id"`
	Executions []persistence.Execution `json:"executions"`
}

// APILogsResponse is the JSON response for execution logs
type APILogsResponse struct {
	persistence.Execution
	Output string `json:"output"`
}

// APIReloadResponse is the JSON response for successful reload
type APIReloadResponse struct {
	Source  string `json:"source"`
	Version string `json:"table_version"`
	Jobs    int    `json:"jobs"`
}

// handleAPIStatus returns JSON status for all jobs of the active table
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := APIStatusResponse{Version: s.version, Host: s.hostname, Jobs: []APIJob{}, Timestamp: now}

	tbl := s.scheduler.Table()
	if tbl == nil {
		s.writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Source, resp.Table, resp.LoadedAt = tbl.Source(), tbl.Version(), tbl.LoadedAt()

	last, err := s.store.LastExecutions(r.Context())
	if err != nil {
		log.Printf("[WARN] failed to load last executions: %v", err)
		last = map[string]persistence.Execution{}
	}

	for _, e := range tbl.Entries() {
		job := s.toAPIJob(e, last, now)
		resp.Jobs = append(resp.Jobs, job)
		resp.Stats.Total++
		switch {
		case job.IsRunning:
			resp.Stats.Running++
		case job.LastStatus == enums.JobStatusSuccess.String():
			resp.Stats.Success++
		case job.LastStatus == enums.JobStatusFailed.String():
			resp.Stats.Failed++
		case job.LastStatus == enums.JobStatusSkipped.String():
			resp.Stats.Skipped++
		default:
			resp.Stats.Idle++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAPIJobHistory returns recent executions of a job, limit query param caps the number
func (s *Server) handleAPIJobHistory(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	limit := s.maxHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, s.maxHistory)
	}

	execs, err := s.store.Executions(r.Context(), jobID, limit)
	if err != nil {
		log.Printf("[WARN] failed to load history for %s: %v", jobID, err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load execution history")
		return
	}
	if len(execs) == 0 && !s.knownJob(jobID) {
		s.writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, APIHistoryResponse{JobID: jobID, Executions: execs})
}

// handleAPIExecutionLogs returns captured output of a single execution
func (s *Server) handleAPIExecutionLogs(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	execID, err := strconv.ParseInt(r.PathValue("exec_id"), 10, 64)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid execution ID")
		return
	}

	exec, err := s.store.Execution(r.Context(), execID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "execution not found")
			return
		}
		log.Printf("[WARN] failed to load execution %d: %v", execID, err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}
	if exec.JobID != jobID {
		s.writeJSONError(w, http.StatusNotFound, "execution not found")
		return
	}
	s.writeJSON(w, http.StatusOK, APILogsResponse{Execution: exec, Output: exec.Output})
}

// handleAPIReload re-reads the job table, a malformed table is reported with its line and the active one kept
func (s *Server) handleAPIReload(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Reload(r.Context()); err != nil {
		var merr *crontab.MalformedError
		if errors.As(err, &merr) {
			s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": merr.Reason, "source": merr.Source, "line": merr.Line, "text": merr.Text})
			return
		}
		log.Printf("[WARN] reload failed: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := APIReloadResponse{}
	if tbl := s.scheduler.Table(); tbl != nil {
		resp = APIReloadResponse{Source: tbl.Source(), Version: tbl.Version(), Jobs: tbl.Len()}
	}
	log.Printf("[INFO] job table reloaded via api, %d jobs, version %s", resp.Jobs, resp.Version)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) toAPIJob(e crontab.Entry, last map[string]persistence.Execution, now time.Time) APIJob {
	res := APIJob{
		ID:         e.ID(),
		Name:       e.Name,
		Spec:       e.Spec,
		Command:    e.Command,
		Dir:        e.Dir,
		Line:       e.Line,
		NextRun:    e.Predicate.Next(now),
		LastStatus: enums.JobStatusIdle.String(),
		IsRunning:  s.scheduler.Running(e.ID()),
	}
	if ex, ok := last[res.ID]; ok {
		res.LastRun = ex.StartedAt
		res.LastStatus = ex.Status.String()
		res.LastExitCode = ex.ExitCode
	}
	if res.IsRunning {
		res.LastStatus = enums.JobStatusRunning.String()
	}
	return res
}

func (s *Server) knownJob(jobID string) bool {
	tbl := s.scheduler.Table()
	if tbl == nil {
		return false
	}
	_, ok := tbl.Find(jobID)
	return ok
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
