// Package resumer handles auto-resume of jobs interrupted by scheduler termination.
// Each running job is registered as a json file in location and removed on successful completion,
// files left after a crash are listed on the next start.
package resumer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/go-pkgz/lgr"
)

const (
	fileSuffix = ".pipecron"
	maxAge     = 24 * time.Hour
)

// Resumer keeps track of executed commands in .pipecron files
type Resumer struct {
	location string
	enabled  bool
	seq      uint64
}

// Cmd is a registered run, enough to repeat it
type Cmd struct {
	Fname      string    `json:"-"`
	JobID      string    `json:"job_id"`
	Spec       string    `json:"spec"`
	Command    string    `json:"command"` // rendered, ready to run
	Dir        string    `json:"dir,omitempty"`
	Env        []string  `json:"env,omitempty"`
	OutputMode string    `json:"output_mode,omitempty"`
	OutputPath string    `json:"output_path,omitempty"` // rendered
	StartedAt  time.Time `json:"started_at"`
}

// New makes resumer for given location. Disabled resumer does nothing.
func New(location string, enabled bool) *Resumer {
	if enabled {
		if err := os.MkdirAll(location, 0o700); err != nil {
			log.Printf("[WARN] can't make %s, %s", location, err)
		}
	}
	return &Resumer{location: location, enabled: enabled}
}

// OnStart makes a file for started cmd as ts-seq.pipecron
func (r *Resumer) OnStart(cmd Cmd) (string, error) {
	if !r.enabled {
		return "", nil
	}
	seq := atomic.AddUint64(&r.seq, 1)
	fname := filepath.Join(r.location, fmt.Sprintf("%d-%d%s", time.Now().UnixNano(), seq, fileSuffix))
	if cmd.StartedAt.IsZero() {
		cmd.StartedAt = time.Now()
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("can't marshal %s: %w", cmd.Command, err)
	}
	log.Printf("[DEBUG] create resumer file %s", fname)
	if err := os.WriteFile(fname, data, 0o600); err != nil {
		return "", fmt.Errorf("can't write resumer file: %w", err)
	}
	return fname, nil
}

// OnFinish removes the file
func (r *Resumer) OnFinish(fname string) error {
	if !r.enabled || fname == "" {
		return nil
	}
	log.Printf("[DEBUG] delete resumer file %s", fname)
	return os.Remove(fname)
}

// List returns interrupted runs. Files older than a day are removed and skipped.
func (r *Resumer) List() (res []Cmd) {
	if !r.enabled {
		return []Cmd{}
	}

	entries, err := os.ReadDir(r.location)
	if err != nil {
		log.Printf("[WARN] can't get resume list for %s, %s", r.location, err)
		return []Cmd{}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}

		finfo, err := entry.Info()
		if err != nil {
			log.Printf("[WARN] can't get resume info for %s, %s", entry.Name(), err)
			continue
		}

		fileName := filepath.Join(r.location, finfo.Name())
		if finfo.ModTime().Add(maxAge).Before(time.Now()) {
			log.Printf("[DEBUG] resume file %s too old", fileName)
			if err := os.Remove(fileName); err != nil {
				log.Printf("[WARN] can't delete %s, %s", fileName, err)
			}
			continue
		}

		data, err := os.ReadFile(fileName) //nolint:gosec // file from resumer location
		if err != nil {
			log.Printf("[WARN] failed to read resume file %s, %s", fileName, err)
			continue
		}
		var cmd Cmd
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Command == "" {
			log.Printf("[WARN] bad resume file %s, removed", fileName)
			if err := os.Remove(fileName); err != nil {
				log.Printf("[WARN] can't delete %s, %s", fileName, err)
			}
			continue
		}
		cmd.Fname = fileName
		log.Printf("[DEBUG] resume entry %s %q", cmd.JobID, cmd.Command)
		res = append(res, cmd)
	}
	return res
}

func (r *Resumer) String() string {
	return fmt.Sprintf("enabled:%v, location:%s", r.enabled, r.location)
}
