package web

import (
	"context"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/solarray/pipecron/app/service/request"
	"github.com/solarray/pipecron/app/web/enums"
	"github.com/solarray/pipecron/app/web/persistence"
)

// OnJobStart is called by the scheduler when a job begins, running state comes from the scheduler itself
func (s *Server) OnJobStart(req request.OnJobStart) {
	log.Printf("[DEBUG] job %s started: %s", req.JobID, req.ExecutedCommand)
}

// OnJobComplete records the finished run and trims the job's history
func (s *Server) OnJobComplete(req request.OnJobComplete) {
	status := enums.JobStatusSuccess
	if req.Err != nil {
		status = enums.JobStatusFailed
	}
	s.record(persistence.Execution{
		JobID:           req.JobID,
		Spec:            req.Spec,
		Command:         req.Command,
		ExecutedCommand: req.ExecutedCommand,
		StartedAt:       req.StartTime,
		FinishedAt:      req.EndTime,
		Status:          status,
		ExitCode:        req.ExitCode,
		Output:          req.Output,
	})
}

// OnJobSkip records a trigger which was not executed, the reason goes to the output
func (s *Server) OnJobSkip(req request.OnJobSkip) {
	var cmd string
	if tbl := s.scheduler.Table(); tbl != nil {
		if e, ok := tbl.Find(req.JobID); ok {
			cmd = e.Command
		}
	}
	s.record(persistence.Execution{
		JobID:      req.JobID,
		Spec:       req.Spec,
		Command:    cmd,
		StartedAt:  req.Time,
		FinishedAt: req.Time,
		Status:     enums.JobStatusSkipped,
		Output:     req.Reason,
	})
}

func (s *Server) record(e persistence.Execution) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.store.RecordExecution(ctx, e); err != nil {
		log.Printf("[WARN] failed to record execution of %s: %v", e.JobID, err)
		return
	}
	if n, err := s.store.Cleanup(ctx, e.JobID, s.maxHistory); err != nil {
		log.Printf("[WARN] failed to cleanup history of %s: %v", e.JobID, err)
	} else if n > 0 {
		log.Printf("[DEBUG] removed %d old executions of %s", n, e.JobID)
	}
}
