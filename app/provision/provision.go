// Package provision creates the year-stamped directory set used by the pipeline (IFDB, UFDB, UDB text and
// FITS trees). All paths are attempted even if some fail; failures are collected into a single error.
package provision

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/solarray/pipecron/app/daytmpl"
)

// error kinds, match with errors.Is
var (
	ErrPathExists     = errors.New("path already exists")
	ErrPathUnwritable = errors.New("path unwritable")
	ErrBadYear        = errors.New("year must be 4 digits")
)

var reYear = regexp.MustCompile(`^[0-9]{4}$`)

// Dir is a logical directory role with path template, i.e. ifdb=/data1/IFDB/{{.YYYY}}
type Dir struct {
	Role     string
	Template string
}

// ParseDir makes Dir from "role=template"
func ParseDir(s string) (Dir, error) {
	role, tmpl, ok := strings.Cut(s, "=")
	role, tmpl = strings.TrimSpace(role), strings.TrimSpace(tmpl)
	if !ok || role == "" || tmpl == "" {
		return Dir{}, fmt.Errorf("invalid dir %q, expected role=template", s)
	}
	return Dir{Role: role, Template: tmpl}, nil
}

func (d Dir) String() string {
	return d.Role + "=" + d.Template
}

// PathError is a failed creation of a single path
type PathError struct {
	Role string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Role, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Error aggregates all failed paths of a single run
type Error struct {
	Year   string
	Failed []*PathError
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d path(s) failed for %s: %s", len(e.Failed), e.Year, strings.Join(msgs, "; "))
}

// Unwrap exposes every path error to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	res := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		res = append(res, f)
	}
	return res
}

// Result is the outcome of a single path
type Result struct {
	Role    string
	Path    string
	Created bool
	Err     error
}

// Report lists all attempted paths in the set order
type Report struct {
	Year    string
	Results []Result
}

// Created returns number of created directories
func (r Report) Created() int {
	res := 0
	for _, rr := range r.Results {
		if rr.Created {
			res++
		}
	}
	return res
}

// Params for New
type Params struct {
	Dirs        []Dir
	Perm        os.FileMode      // 0o755 if not set
	Now         func() time.Time // time.Now if not set
	AltTemplate bool             // [[.YYYY]] delimiters in templates
}

// Provisioner creates directory sets
type Provisioner struct {
	Params
}

// New makes Provisioner with defaults applied
func New(p Params) *Provisioner {
	res := &Provisioner{Params: p}
	if res.Perm == 0 {
		res.Perm = 0o755
	}
	if res.Now == nil {
		res.Now = time.Now
	}
	return res
}

// Paths renders all templates for the year without touching filesystem. Empty year means the next one.
func (p *Provisioner) Paths(year string) ([]Result, error) {
	y, _, err := p.year(year)
	if err != nil {
		return nil, err
	}
	return p.paths(y)
}

func (p *Provisioner) paths(y int) ([]Result, error) {
	tmpl := daytmpl.ForYear(y, daytmpl.AltDelims(p.AltTemplate))
	res := make([]Result, 0, len(p.Dirs))
	for _, d := range p.Dirs {
		path, err := tmpl.Parse(d.Template)
		if err != nil {
			return nil, fmt.Errorf("bad template for %s: %w", d.Role, err)
		}
		if path == d.Template {
			return nil, fmt.Errorf("template for %s has no year placeholder: %s", d.Role, d.Template)
		}
		res = append(res, Result{Role: d.Role, Path: path})
	}
	return res, nil
}

// Provision creates all directories for the year. Empty year means the next one.
// Every path is attempted, the returned *Error lists all failures.
func (p *Provisioner) Provision(year string) (Report, error) {
	y, ys, err := p.year(year)
	if err != nil {
		return Report{}, err
	}
	paths, err := p.paths(y)
	if err != nil {
		return Report{}, err
	}
	report := Report{Year: ys, Results: paths}
	var failed []*PathError
	for i, r := range report.Results {
		if err := p.mkdir(r.Path); err != nil {
			perr := &PathError{Role: r.Role, Path: r.Path, Err: err}
			report.Results[i].Err = perr
			failed = append(failed, perr)
			log.Printf("[WARN] can't create %s, %v", r.Path, err)
			continue
		}
		report.Results[i].Created = true
		log.Printf("[INFO] created %s (%s)", r.Path, r.Role)
	}

	if len(failed) > 0 {
		return report, &Error{Year: report.Year, Failed: failed}
	}
	return report, nil
}

// mkdir creates a single level directory, parent must exist
func (p *Provisioner) mkdir(path string) error {
	err := os.Mkdir(path, p.Perm)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %w", ErrPathExists, err)
	}
	return fmt.Errorf("%w: %w", ErrPathUnwritable, err)
}

// year resolves requested year, empty means the next one
func (p *Provisioner) year(year string) (int, string, error) {
	if year == "" {
		y := p.Now().Year() + 1
		return y, fmt.Sprintf("%04d", y), nil
	}
	if !reYear.MatchString(year) {
		return 0, "", fmt.Errorf("%w, got %q", ErrBadYear, year)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return 0, "", fmt.Errorf("%w, got %q", ErrBadYear, year)
	}
	return y, year, nil
}
