// Package daytmpl expands date placeholders like {{.YYYY}} or {{.PYYYYMMDD}} in job commands, log paths
// and directory templates. Alternative delimiters [[.YYYY]] can be used when the command itself contains
// go-template like text.
package daytmpl

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Parser renders templates for a fixed point in time
type Parser struct {
	timeZone *time.Location
	alt      bool
	vars     Vars
}

// Vars are the values available to a template. P* fields refer to the previous day (the pipeline usually
// processes yesterday's data), N* to the next one.
type Vars struct {
	YYYY     string
	YY       string
	MM       string
	DD       string
	DOY      string // day of year, 001-366
	YYYYMM   string
	YYYYMMDD string
	YYMMDD   string
	ISODATE  string

	PYYYY     string
	PMM       string
	PDD       string
	PYYYYMMDD string

	NYYYY     string
	NYYYYMMDD string

	UNIX     int64
	UNIXMSEC int64
}

// Option func type
type Option func(p *Parser)

// TimeZone sets timezone used to calculate the day
func TimeZone(tz *time.Location) Option {
	return func(p *Parser) {
		if tz != nil {
			p.timeZone = tz
		}
	}
}

// AltDelims switches to [[.YYYY]] delimiters
func AltDelims(enabled bool) Option {
	return func(p *Parser) {
		p.alt = enabled
	}
}

// New makes a parser for the given time
func New(ts time.Time, options ...Option) *Parser {
	res := &Parser{timeZone: time.Local}
	for _, opt := range options {
		opt(res)
	}

	day := res.toMidnight(ts)
	prev, next := day.AddDate(0, 0, -1), day.AddDate(0, 0, 1)

	res.vars = Vars{
		YYYY:     day.Format("2006"),
		YY:       day.Format("06"),
		MM:       day.Format("01"),
		DD:       day.Format("02"),
		DOY:      fmt.Sprintf("%03d", day.YearDay()),
		YYYYMM:   day.Format("200601"),
		YYYYMMDD: day.Format("20060102"),
		YYMMDD:   day.Format("060102"),
		ISODATE:  day.Format("2006-01-02T00:00:00.000Z"),

		PYYYY:     prev.Format("2006"),
		PMM:       prev.Format("01"),
		PDD:       prev.Format("02"),
		PYYYYMMDD: prev.Format("20060102"),

		NYYYY:     next.Format("2006"),
		NYYYYMMDD: next.Format("20060102"),

		UNIX:     ts.Unix(),
		UNIXMSEC: ts.UnixMilli(),
	}
	return res
}

// ForYear makes a parser for January 1st of the given year, used to render year-stamped paths
func ForYear(year int, options ...Option) *Parser {
	p := &Parser{timeZone: time.Local}
	for _, opt := range options {
		opt(p)
	}
	return New(time.Date(year, time.January, 1, 12, 0, 0, 0, p.timeZone), options...)
}

// Parse renders the template. Strings without delimiters are returned as is.
func (p *Parser) Parse(src string) (string, error) {
	if !p.hasDelims(src) {
		return src, nil
	}
	tmpl, err := p.template(src)
	if err != nil {
		return "", err
	}
	buf := bytes.Buffer{}
	if err := tmpl.Execute(&buf, p.vars); err != nil {
		return "", fmt.Errorf("failed to render %q: %w", src, err)
	}
	return buf.String(), nil
}

// Validate checks the template syntax and field names without a specific day
func Validate(src string, alt bool) error {
	_, err := New(time.Now(), AltDelims(alt)).Parse(src)
	return err
}

func (p *Parser) template(src string) (*template.Template, error) {
	tmpl := template.New("day").Option("missingkey=error")
	if p.alt {
		tmpl = tmpl.Delims("[[", "]]")
	}
	res, err := tmpl.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", src, err)
	}
	return res, nil
}

func (p *Parser) hasDelims(src string) bool {
	if p.alt {
		return strings.Contains(src, "[[")
	}
	return strings.Contains(src, "{{")
}

// toMidnight gets midnight in parser's timezone
func (p *Parser) toMidnight(tm time.Time) time.Time {
	yy, mm, dd := tm.In(p.timeZone).Date()
	return time.Date(yy, mm, dd, 0, 0, 0, 0, p.timeZone)
}
