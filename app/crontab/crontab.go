// Package crontab loads the job table: time predicates bound to shell commands. Two formats are supported,
// the standard 5-fields crontab lines and yaml (.yml/.yaml). A table is loaded once into an immutable Table and
// replaced only on an explicit reload request.
package crontab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/solarray/pipecron/app/conditions"
)

// ErrMalformed is matched (errors.Is) by every MalformedError
var ErrMalformed = errors.New("malformed job table")

// MalformedError reports a job table line which can't be parsed as predicate+command
type MalformedError struct {
	Source string
	Line   int
	Text   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s:%d: %s, %q", e.Source, e.Line, e.Reason, e.Text)
}

// Is makes errors.Is(err, ErrMalformed) work
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// OutputMode defines where job's stdout and stderr go
type OutputMode string

// output modes
const (
	OutputInherit  OutputMode = "inherit"  // scheduler's stdout, prefixed
	OutputAppend   OutputMode = "append"   // append to Output.Path
	OutputTruncate OutputMode = "truncate" // truncate Output.Path on each run
	OutputDiscard  OutputMode = "discard"  // drop everything
)

// Output is the redirection policy of a job
type Output struct {
	Mode OutputMode `yaml:"mode" json:"mode" jsonschema:"enum=inherit,enum=append,enum=truncate,enum=discard"`
	Path string     `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"description=log file path with optional day templates"`
}

// RepeaterConfig overrides default retry settings for a job
type RepeaterConfig struct {
	Attempts *int           `yaml:"attempts,omitempty" json:"attempts,omitempty" jsonschema:"minimum=1,maximum=100"`
	Duration *time.Duration `yaml:"duration,omitempty" json:"duration,omitempty" jsonschema:"type=string"`
	Factor   *float64       `yaml:"factor,omitempty" json:"factor,omitempty" jsonschema:"minimum=1,maximum=10"`
	Jitter   *bool          `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// Entry is a single scheduled job
type Entry struct {
	Line       int    // line in the source, 1-based
	Name       string // optional, yaml only
	Spec       string // predicate as written
	Predicate  Predicate
	Dir        string // working directory, empty for the scheduler's one
	Command    string // shell command without extracted "cd dir &&" and output redirection
	Output     Output
	Env        []string // KEY=value pairs added to the process environment
	Repeater   *RepeaterConfig
	Conditions *conditions.Config

	dup int // n-th repeat of an identical entry in the table, 0 for the first one
}

// ID is a stable identity of the entry. Entries differing in any of spec, name, dir, command, output or env
// get different ids, identical repeats in one table are told apart by their order.
func (e Entry) ID() string {
	h := sha256.New()
	for _, v := range []string{e.Spec, e.Name, e.Dir, e.Command, string(e.Output.Mode), e.Output.Path} {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	for _, v := range e.Env {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	if e.dup > 0 {
		fmt.Fprintf(h, "#%d", e.dup)
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// String returns job description for logs
func (e Entry) String() string {
	if e.Name != "" {
		return fmt.Sprintf("%q (%s)", e.Command, e.Name)
	}
	return fmt.Sprintf("%q", e.Command)
}

// Table is an immutable, versioned set of entries
type Table struct {
	source   string
	version  string
	loadedAt time.Time
	entries  []Entry
}

// NewTable makes a Table from entries, version is derived from the raw content
func NewTable(source string, content []byte, entries []Entry) *Table {
	h := sha256.Sum256(content)
	res := &Table{source: source, version: hex.EncodeToString(h[:6]), loadedAt: time.Now()}
	seen := map[string]int{}
	for _, e := range entries {
		e.dup = 0
		id := e.ID()
		e.dup = seen[id]
		seen[id]++
		res.entries = append(res.entries, e)
	}
	return res
}

// Entries returns a copy of all entries in the table order
func (t *Table) Entries() []Entry {
	res := make([]Entry, len(t.entries))
	copy(res, t.entries)
	return res
}

// Match returns entries with predicates matching ts
func (t *Table) Match(ts time.Time) []Entry {
	var res []Entry
	for _, e := range t.entries {
		if e.Predicate.Match(ts) {
			res = append(res, e)
		}
	}
	return res
}

// Find returns entry by ID
func (t *Table) Find(id string) (Entry, bool) {
	for _, e := range t.entries {
		if e.ID() == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Len returns number of entries
func (t *Table) Len() int { return len(t.entries) }

// Version is a short content hash, changes when the source changes
func (t *Table) Version() string { return t.version }

// Source is the file name or the single command
func (t *Table) Source() string { return t.source }

// LoadedAt returns load time
func (t *Table) LoadedAt() time.Time { return t.loadedAt }

// Parser loads a job table file. Reloads are triggered via the reload channel only.
type Parser struct {
	file        string
	reloadCh    <-chan struct{}
	altTemplate bool
}

// New creates Parser for file, but not parsing yet. reloadCh may be nil if reloads are not needed.
// altTemplate switches day templates in commands to [[.YYYY]] delimiters.
func New(file string, reloadCh <-chan struct{}, altTemplate bool) *Parser {
	log.Printf("[INFO] job table %s", file)
	return &Parser{file: file, reloadCh: reloadCh, altTemplate: altTemplate}
}

// Load reads and parses the file, format detected by extension.
// Any malformed entry fails the whole load with *MalformedError.
func (p *Parser) Load() (*Table, error) {
	data, err := os.ReadFile(p.file)
	if err != nil {
		return nil, fmt.Errorf("can't read job table: %w", err)
	}
	if isYAML(p.file) {
		return ParseYAML(p.file, data, p.altTemplate)
	}
	return ParseLines(p.file, data, p.altTemplate)
}

func (p *Parser) String() string {
	return p.file
}

// Changes returns a channel receiving a freshly loaded table on each reload request.
// Tables failing to load are logged and skipped, so the consumer keeps the previous one.
func (p *Parser) Changes(ctx context.Context) (<-chan *Table, error) {
	if p.reloadCh == nil {
		return nil, errors.New("reload channel not set")
	}
	ch := make(chan *Table)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.reloadCh:
				log.Printf("[INFO] reload requested for %s", p.file)
				tbl, err := p.Load()
				if err != nil {
					log.Printf("[WARN] can't reload %s, keep previous table, %v", p.file, err)
					continue
				}
				select {
				case ch <- tbl:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func isYAML(file string) bool {
	ext := strings.ToLower(filepath.Ext(file))
	return ext == ".yml" || ext == ".yaml"
}
