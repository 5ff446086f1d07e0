package service

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/solarray/pipecron/app/crontab"
	"github.com/solarray/pipecron/app/daytmpl"
)

const (
	prefixMaxLen    = 16
	prefixCutSuffix = "..."
)

// renderOutput expands day templates in the log path
func renderOutput(out crontab.Output, tmpl *daytmpl.Parser) (crontab.Output, error) {
	if out.Path == "" {
		return out, nil
	}
	path, err := tmpl.Parse(out.Path)
	if err != nil {
		return out, fmt.Errorf("can't render log path: %w", err)
	}
	out.Path = path
	return out, nil
}

// openOutput makes the writer for job's stdout and stderr according to its output policy.
// Relative log paths are resolved against the job dir. The returned close func must be called after the run.
func openOutput(out crontab.Output, dir string, stdout io.Writer, label string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch out.Mode {
	case crontab.OutputDiscard:
		return io.Discard, noop, nil
	case crontab.OutputAppend, crontab.OutputTruncate:
		path := out.Path
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if out.Mode == crontab.OutputTruncate {
			flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		}
		fh, err := os.OpenFile(path, flags, 0o644) //nolint:gosec // log path comes from the job table
		if err != nil {
			return nil, nil, fmt.Errorf("can't open log %s: %w", path, err)
		}
		return fh, fh.Close, nil
	default:
		if label == "" {
			return stdout, noop, nil
		}
		pw := NewLogPrefixer(stdout, label)
		return pw, pw.Flush, nil
	}
}

// LogPrefixer adds {label} prefix to each line written to the underlying writer.
// Partial lines are kept until the newline or Flush.
type LogPrefixer struct {
	mu      sync.Mutex
	writer  io.Writer
	prefix  []byte
	pending []byte
}

// NewLogPrefixer makes LogPrefixer, long labels are shortened
func NewLogPrefixer(writer io.Writer, label string) *LogPrefixer {
	if len(label) > prefixMaxLen {
		label = label[:prefixMaxLen] + prefixCutSuffix
	}
	return &LogPrefixer{writer: writer, prefix: []byte("{" + label + "} ")}
}

func (p *LogPrefixer) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, data...)
	for {
		idx := bytes.IndexByte(p.pending, '\n')
		if idx < 0 {
			break
		}
		if err := p.writeLine(p.pending[:idx+1]); err != nil {
			return 0, err
		}
		p.pending = p.pending[idx+1:]
	}
	return len(data), nil
}

// Flush writes the incomplete last line, if any
func (p *LogPrefixer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	line := append(p.pending, '\n')
	p.pending = nil
	return p.writeLine(line)
}

func (p *LogPrefixer) writeLine(line []byte) error {
	buf := make([]byte, 0, len(p.prefix)+len(line))
	buf = append(buf, p.prefix...)
	buf = append(buf, line...)
	_, err := p.writer.Write(buf)
	return err
}

// OutputCapture keeps the last N non-empty lines of the output, used for notifications and history.
// Thread safe, zero size disables capture.
type OutputCapture struct {
	mu      sync.Mutex
	size    int
	lines   []string
	next    int // ring position for the next line
	full    bool
	pending strings.Builder
}

// NewOutputCapture makes OutputCapture for up to size lines
func NewOutputCapture(size int) *OutputCapture {
	if size < 0 {
		size = 0
	}
	return &OutputCapture{size: size, lines: make([]string, size)}
}

func (o *OutputCapture) Write(p []byte) (int, error) {
	if o.size == 0 {
		return len(p), nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range p {
		if b != '\n' {
			o.pending.WriteByte(b)
			continue
		}
		o.push()
	}
	return len(p), nil
}

// String returns captured lines, the incomplete last line included
func (o *OutputCapture) String() string {
	if o.size == 0 {
		return ""
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	var res []string
	if o.full {
		res = append(res, o.lines[o.next:]...)
	}
	res = append(res, o.lines[:o.next]...)
	if o.pending.Len() > 0 {
		res = append(res, o.pending.String())
		if len(res) > o.size {
			res = res[1:]
		}
	}
	return strings.Join(res, "\n")
}

func (o *OutputCapture) push() {
	line := o.pending.String()
	o.pending.Reset()
	if strings.TrimSpace(line) == "" {
		return
	}
	o.lines[o.next] = line
	o.next++
	if o.next == o.size {
		o.next, o.full = 0, true
	}
}
