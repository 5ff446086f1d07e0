// Package service provides top level scheduler. Combined all elements (cron, resumer, job table loader and locks) together
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"
	"github.com/robfig/cron/v3"

	"github.com/solarray/pipecron/app/conditions"
	"github.com/solarray/pipecron/app/crontab"
	"github.com/solarray/pipecron/app/daytmpl"
	"github.com/solarray/pipecron/app/resumer"
	"github.com/solarray/pipecron/app/service/request"
)

//go:generate moq -out mocks/resumer.go -pkg mocks -skip-ensure -fmt goimports . Resumer
//go:generate moq -out mocks/table_loader.go -pkg mocks -skip-ensure -fmt goimports . TableLoader
//go:generate moq -out mocks/cron.go -pkg mocks -skip-ensure -fmt goimports . Cron
//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier
//go:generate moq -out mocks/condition_checker.go -pkg mocks -skip-ensure -fmt goimports . ConditionChecker
//go:generate moq -out mocks/job_event_handler.go -pkg mocks -skip-ensure -fmt goimports . JobEventHandler

// Scheduler is a top-level service wiring cron, resumer and table loader and providing the main entry point (blocking)
// to start the process
type Scheduler struct {
	Cron
	Resumer           Resumer
	ResumeConcurrency int
	TableLoader       TableLoader
	UpdatesEnabled    bool
	Locks             *Locks
	Jitter            time.Duration
	Notifier          Notifier
	ConditionChecker  ConditionChecker
	HostName          string
	NotifyMaxLogLines int // notification output capture size
	ExecMaxLogLines   int // history output capture size, 0 disables
	EnableLogPrefix   bool
	Repeater          Repeater
	RepeaterDefaults  struct {
		Attempts int
		Duration time.Duration
		Factor   float64
		Jitter   bool
	}
	Stdout          io.Writer
	NotifyTimeout   time.Duration
	JobEventHandler JobEventHandler
	AltTemplate     bool // [[.YYYYMMDD]] instead of {{.YYYYMMDD}}

	table     atomic.Pointer[crontab.Table]
	applyMu   sync.Mutex
	jobCtx    context.Context // scheduled jobs run with it, set by Do
	locksOnce sync.Once

	runMu   sync.Mutex
	running map[string]int
}

// Resumer defines interface for resumer.Resumer providing auto-restart for interrupted jobs
type Resumer interface {
	OnStart(cmd resumer.Cmd) (string, error)
	OnFinish(fname string) error
	List() (res []resumer.Cmd)
	String() string
}

// TableLoader loads the job table and provides freshly loaded tables on reload requests
type TableLoader interface {
	String() string
	Load() (*crontab.Table, error)
	Changes(ctx context.Context) (<-chan *crontab.Table, error)
}

// Cron interface defines basic robfig/cron methods used by service
type Cron interface {
	Start()
	Stop() context.Context
	Entries() []cron.Entry
	Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID
	Remove(id cron.EntryID)
}

// Notifier interface defines notification delivery on failed executions
type Notifier interface {
	Send(ctx context.Context, subj, text string) error
	IsOnError() bool
	IsOnCompletion() bool
	MakeErrorHTML(spec, command, errorLog string) (string, error)
	MakeCompletionHTML(spec, command string) (string, error)
}

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// ConditionChecker defines interface for checking job execution conditions
type ConditionChecker interface {
	Check(conditions conditions.Config) (bool, string)
}

// JobEventHandler defines interface for handling job execution events
type JobEventHandler interface {
	OnJobStart(req request.OnJobStart)
	OnJobComplete(req request.OnJobComplete)
	OnJobSkip(req request.OnJobSkip)
}

// execRequest is a single command execution, rendered and ready to run
type execRequest struct {
	jobID   string
	name    string
	spec    string
	raw     string // command as written in the table
	command string
	dir     string
	env     []string
	output  crontab.Output
	rfile   string // resume file of an interrupted run, empty for a fresh one
}

// Do runs blocking scheduler. Returns error if the job table can't be loaded on start. If UpdatesEnabled is true
// and the table file doesn't exist yet, the scheduler starts with zero jobs and waits for reload.
func (s *Scheduler) Do(ctx context.Context) error {
	if s.ResumeConcurrency <= 0 {
		s.ResumeConcurrency = 1
	}
	if s.Stdout == nil {
		s.Stdout = os.Stdout
	}
	if s.NotifyTimeout <= 0 {
		s.NotifyTimeout = 30 * time.Second
	}
	s.applyMu.Lock()
	s.jobCtx = ctx
	s.applyMu.Unlock()

	s.resumeInterrupted(ctx, s.ResumeConcurrency)

	if err := s.Reload(ctx); err != nil {
		if !s.UpdatesEnabled || !errors.Is(err, os.ErrNotExist) {
			return err
		}
		log.Printf("[INFO] job table doesn't exist yet, running with zero jobs, waiting for reload")
	}

	if s.UpdatesEnabled {
		log.Printf("[INFO] reload activated for %s", s.TableLoader.String())
		go s.reload(ctx)
	}
	s.Start()
	<-ctx.Done()
	log.Print("[DEBUG] terminate, waiting for running jobs")
	<-s.Stop().Done()
	return nil
}

// Reload loads the table and replaces scheduled jobs with its entries.
// On error the current table stays active. ctx limits the reload request only, jobs scheduled by it
// live as long as the context passed to Do.
func (s *Scheduler) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tbl, err := s.TableLoader.Load()
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", s.TableLoader.String(), err)
	}
	s.apply(tbl)
	return nil
}

// Table returns active job table, nil if nothing loaded yet
func (s *Scheduler) Table() *crontab.Table {
	return s.table.Load()
}

// Running returns true if any run of the job is in flight
func (s *Scheduler) Running(jobID string) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running[jobID] > 0
}

// apply swaps the active table and schedules all its entries
func (s *Scheduler) apply(tbl *crontab.Table) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	ctx := s.jobCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, entry := range s.Entries() {
		s.Remove(entry.ID)
	}
	for _, e := range tbl.Entries() {
		s.schedule(ctx, e)
	}
	s.table.Store(tbl)
	log.Printf("[INFO] job table %s version %s activated, %d jobs", tbl.Source(), tbl.Version(), tbl.Len())
}

// schedule adds entry to cron, the entry's predicate is the cron schedule
func (s *Scheduler) schedule(ctx context.Context, e crontab.Entry) {
	jobDesc := e.String()
	id := s.Schedule(e.Predicate, s.jobFunc(ctx, e))
	log.Printf("[INFO] new job %s, first: %s (%v)", jobDesc, e.Predicate.Next(time.Now()).Format(time.RFC3339), id)
}

func (s *Scheduler) jobFunc(ctx context.Context, e crontab.Entry) cron.FuncJob {
	return func() {
		jobDesc := e.String()

		if e.Conditions != nil && !s.waitForConditions(ctx, *e.Conditions, jobDesc) {
			s.onSkip(e.ID(), e.Spec, jobDesc, "conditions not met")
			return
		}

		log.Printf("[INFO] executing: %s", jobDesc)
		if err := s.runJob(ctx, e, time.Now(), s.getJobRepeater(e.Repeater)); err != nil {
			log.Printf("[WARN] job failed: %s, %v", jobDesc, err)
		} else {
			log.Printf("[INFO] completed %s", jobDesc)
		}
		log.Printf("[INFO] next: %s, %s", e.Predicate.Next(time.Now()).Format(time.RFC3339), jobDesc)
	}
}

// runJob renders the entry for ts, takes the overlap lock and executes it
func (s *Scheduler) runJob(ctx context.Context, e crontab.Entry, ts time.Time, rptr Repeater) error {
	tmpl := daytmpl.New(ts, daytmpl.AltDelims(s.AltTemplate))
	command, err := tmpl.Parse(e.Command)
	if err != nil {
		return fmt.Errorf("can't render command: %w", err)
	}
	output, err := renderOutput(e.Output, tmpl)
	if err != nil {
		return err
	}
	return s.run(ctx, execRequest{jobID: e.ID(), name: e.Name, spec: e.Spec, raw: e.Command, command: command,
		dir: e.Dir, env: e.Env, output: output}, rptr)
}

// run takes the overlap lock of the job and executes req, reporting job events and notifications
func (s *Scheduler) run(ctx context.Context, req execRequest, rptr Repeater) error {
	release, err := s.locks().Acquire(ctx, req.jobID)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			s.onSkip(req.jobID, req.spec, fmt.Sprintf("%q", req.raw), err.Error())
		}
		return fmt.Errorf("job %s not started: %w", req.jobID, err)
	}
	defer release()
	s.markRunning(req.jobID, 1)
	defer s.markRunning(req.jobID, -1)

	rfile := req.rfile
	if rfile == "" {
		rfile, err = s.Resumer.OnStart(resumer.Cmd{JobID: req.jobID, Spec: req.spec, Command: req.command, Dir: req.dir,
			Env: req.env, OutputMode: string(req.output.Mode), OutputPath: req.output.Path})
		if err != nil {
			return fmt.Errorf("failed to initiate resumer for %q: %w", req.command, err)
		}
	}

	startTime := time.Now()
	if s.JobEventHandler != nil {
		s.JobEventHandler.OnJobStart(request.OnJobStart{JobID: req.jobID, Name: req.name, Command: req.raw,
			ExecutedCommand: req.command, Spec: req.spec, StartTime: startTime})
	}

	notifyOutput, histOutput, err := s.executeCommand(ctx, req, rptr)

	if s.JobEventHandler != nil {
		s.JobEventHandler.OnJobComplete(request.OnJobComplete{JobID: req.jobID, Name: req.name, Command: req.raw,
			ExecutedCommand: req.command, Spec: req.spec, StartTime: startTime, EndTime: time.Now(),
			ExitCode: exitCode(err), Output: histOutput, Err: err})
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, s.NotifyTimeout)
	defer cancel()
	if nerr := s.notify(ctxTimeout, req.spec, req.command, errMessage(err, notifyOutput)); nerr != nil {
		return fmt.Errorf("failed to notify: %w", nerr)
	}
	// failed fresh runs stay registered and are picked up on restart, resumed ones are not retried again
	if err != nil && req.rfile == "" {
		return err
	}

	if ferr := s.Resumer.OnFinish(rfile); ferr != nil {
		return fmt.Errorf("failed to finish resumer for %s: %w", rfile, ferr)
	}
	return err
}

func (s *Scheduler) executeCommand(ctx context.Context, req execRequest, rptr Repeater) (notifyOutput, histOutput string, err error) {
	if s.Jitter > 0 {
		time.Sleep(time.Millisecond * time.Duration(rand.Intn(int(s.Jitter.Milliseconds())))) //nolint:gosec // jitter only
	}

	label := ""
	if s.EnableLogPrefix {
		label = req.command
	}
	logWriter, closeLog, err := openOutput(req.output, req.dir, s.Stdout, label)
	if err != nil {
		return "", "", err
	}
	defer func() {
		if e := closeLog(); e != nil {
			log.Printf("[WARN] can't close output for %q, %v", req.command, e)
		}
	}()

	notifyCapture := NewOutputCapture(s.NotifyMaxLogLines)
	histCapture := NewOutputCapture(s.ExecMaxLogLines)
	out := io.MultiWriter(notifyCapture, histCapture, logWriter)

	execErr := rptr.Do(ctx, func() error {
		cmd := exec.Command("sh", "-c", req.command) //nolint:gosec // commands come from the job table
		cmd.Dir = req.dir
		cmd.Env = append(os.Environ(), req.env...)
		cmd.Stdout = out
		cmd.Stderr = out
		if e := cmd.Run(); e != nil {
			return fmt.Errorf("failed to execute command %s: %w", req.command, e)
		}
		return nil
	})

	if execErr != nil {
		return notifyCapture.String(), histCapture.String(), fmt.Errorf("command execution failed: %w", execErr)
	}
	return notifyCapture.String(), histCapture.String(), nil
}

func (s *Scheduler) notify(ctx context.Context, spec, command, errMsg string) error {
	if s.Notifier == nil || reflect.ValueOf(s.Notifier).IsNil() {
		return nil
	}

	if errMsg != "" && s.Notifier.IsOnError() {
		msg, err := s.Notifier.MakeErrorHTML(spec, command, errMsg)
		if err != nil {
			return fmt.Errorf("can't make html email: %w", err)
		}
		if err := s.Notifier.Send(ctx, fmt.Sprintf("failed %q on %s", command, s.HostName), msg); err != nil {
			return fmt.Errorf("failed to send error notification: %w", err)
		}
		return nil
	}

	if errMsg == "" && s.Notifier.IsOnCompletion() {
		msg, err := s.Notifier.MakeCompletionHTML(spec, command)
		if err != nil {
			return fmt.Errorf("can't make html email: %w", err)
		}
		if err := s.Notifier.Send(ctx, fmt.Sprintf("completed %q on %s", command, s.HostName), msg); err != nil {
			return fmt.Errorf("failed to send completion notification: %w", err)
		}
	}
	return nil
}

// reload runs blocking loop reacting on reload requests
func (s *Scheduler) reload(ctx context.Context) {
	ch, err := s.TableLoader.Changes(ctx)
	if err != nil {
		log.Printf("[WARN] reload disabled, %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case tbl, ok := <-ch:
			if !ok {
				return
			}
			log.Printf("[DEBUG] reload requested, %d jobs in the new table", tbl.Len())
			s.apply(tbl)
		}
	}
}

func (s *Scheduler) resumeInterrupted(ctx context.Context, concur int) {
	cmds := s.Resumer.List()
	if len(cmds) == 0 {
		return
	}
	log.Printf("[INFO] interrupted commands detected - %d", len(cmds))

	go func() {
		gr := syncs.NewSizedGroup(concur, syncs.Context(ctx))
		for _, cmd := range cmds {
			time.Sleep(time.Millisecond * 100) // keep order if no concurrency
			gr.Go(func(ctx context.Context) {
				log.Printf("[INFO] resume %q, started at %s", cmd.Command, cmd.StartedAt.Format(time.RFC3339))
				jobID := cmd.JobID
				if jobID == "" {
					jobID = cmd.Command
				}
				req := execRequest{jobID: jobID, spec: cmd.Spec, raw: cmd.Command, command: cmd.Command, dir: cmd.Dir,
					env: cmd.Env, output: crontab.Output{Mode: crontab.OutputMode(cmd.OutputMode), Path: cmd.OutputPath},
					rfile: cmd.Fname}
				err := s.run(ctx, req, s.Repeater)
				switch {
				case errors.Is(err, ErrBusy):
					// the job runs already, nothing left to resume
					if e := s.Resumer.OnFinish(cmd.Fname); e != nil {
						log.Printf("[WARN] failed to finish resumer for %s, %s", cmd.Fname, e)
					}
				case err != nil:
					log.Printf("[WARN] resumed job failed: %q, %v", cmd.Command, err)
				default:
					log.Printf("[INFO] resumed %q completed", cmd.Command)
				}
			})
		}
		gr.Wait()
	}()
}

func (s *Scheduler) onSkip(jobID, spec, jobDesc, reason string) {
	log.Printf("[INFO] job skipped: %s, %s", jobDesc, reason)
	if s.JobEventHandler != nil {
		s.JobEventHandler.OnJobSkip(request.OnJobSkip{JobID: jobID, Spec: spec, Reason: reason, Time: time.Now()})
	}
}

func (s *Scheduler) markRunning(jobID string, delta int) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running == nil {
		s.running = map[string]int{}
	}
	s.running[jobID] += delta
	if s.running[jobID] <= 0 {
		delete(s.running, jobID)
	}
}

func (s *Scheduler) locks() *Locks {
	s.locksOnce.Do(func() {
		if s.Locks == nil {
			s.Locks = NewLocks(OverlapSkip, "")
		}
	})
	return s.Locks
}

// getJobRepeater returns a repeater for the job, merging job-specific settings with global defaults
func (s *Scheduler) getJobRepeater(jobConfig *crontab.RepeaterConfig) Repeater {
	if jobConfig == nil {
		return s.Repeater
	}

	backoff := &strategy.Backoff{
		Repeats:  s.RepeaterDefaults.Attempts,
		Duration: s.RepeaterDefaults.Duration,
		Factor:   s.RepeaterDefaults.Factor,
		Jitter:   s.RepeaterDefaults.Jitter,
	}
	if jobConfig.Attempts != nil {
		backoff.Repeats = *jobConfig.Attempts
	}
	if jobConfig.Duration != nil {
		backoff.Duration = *jobConfig.Duration
	}
	if jobConfig.Factor != nil {
		backoff.Factor = *jobConfig.Factor
	}
	if jobConfig.Jitter != nil {
		backoff.Jitter = *jobConfig.Jitter
	}
	return repeater.New(backoff)
}

// waitForConditions checks if conditions are met and optionally waits for them.
// Returns true if the job should execute, false if it should be skipped
func (s *Scheduler) waitForConditions(ctx context.Context, cond conditions.Config, jobDesc string) bool {
	if s.ConditionChecker == nil {
		return true
	}

	met, reason := s.ConditionChecker.Check(cond)
	if met {
		return true
	}

	if cond.MaxPostpone == nil {
		log.Printf("[INFO] conditions not met: %s, reason: %s", jobDesc, reason)
		return false
	}

	deadline := time.Now().Add(*cond.MaxPostpone)
	log.Printf("[INFO] job postponed: %s, reason: %s, deadline: %s", jobDesc, reason, deadline.Format(time.RFC3339))

	checkInterval := 30 * time.Second
	if cond.CheckInterval != nil {
		checkInterval = *cond.CheckInterval
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	deadlineTimer := time.NewTimer(*cond.MaxPostpone)
	defer deadlineTimer.Stop()

	for {
		select {
		case <-ticker.C:
			met, reason = s.ConditionChecker.Check(cond)
			if met {
				log.Printf("[INFO] conditions met, executing postponed job: %s", jobDesc)
				return true
			}
			log.Printf("[DEBUG] conditions not met yet: %s, reason: %s", jobDesc, reason)
		case <-deadlineTimer.C:
			log.Printf("[WARN] max postpone reached, executing anyway: %s", jobDesc)
			return true
		case <-ctx.Done():
			log.Printf("[INFO] postponed job canceled: %s", jobDesc)
			return false
		}
	}
}

// exitCode extracts process exit code, 1 for non-exec errors
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// errMessage combines error with the captured output for notifications
func errMessage(err error, output string) string {
	if err == nil {
		return ""
	}
	if output == "" {
		return err.Error()
	}
	return err.Error() + "\n\n" + output
}
