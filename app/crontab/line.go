package crontab

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/solarray/pipecron/app/daytmpl"
)

var (
	reFields     = regexp.MustCompile(`^\s*((?:(?:CRON_)?TZ=\S+\s+)?\S+\s+\S+\s+\S+\s+\S+\s+\S+)\s+(\S.*?)\s*$`)
	reDescriptor = regexp.MustCompile(`^\s*((?:(?:CRON_)?TZ=\S+\s+)?@\S+)\s+(\S.*?)\s*$`)
	reEnv        = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.*?)\s*$`)
	reTZPrefix   = regexp.MustCompile(`^\s*(?:CRON_)?TZ=\S+\s+\S`)

	reCd       = regexp.MustCompile(`^cd\s+(\S+)\s*(?:&&|;)\s*(\S.*)$`)
	reDiscard  = regexp.MustCompile(`^(.+?)\s*(?:>\s*/dev/null\s+2>&1|&>\s*/dev/null)$`)
	reAppend   = regexp.MustCompile(`^(.+?)\s*>>\s*(\S+)\s+2>&1$`)
	reTruncate = regexp.MustCompile(`^(.+?)\s*>\s*(\S+)\s+2>&1$`)
)

// ParseLines parses plain crontab-like content. Comments (#) and blank lines are skipped,
// NAME=value lines set environment for all entries below.
func ParseLines(source string, data []byte, altTemplate bool) (*Table, error) {
	var entries []Entry
	var env []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	num := 0
	for scanner.Scan() {
		num++
		text := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if kv, ok := envLine(trimmed); ok {
			env = append(env, kv)
			continue
		}

		entry, err := ParseLine(trimmed)
		if err != nil {
			return nil, &MalformedError{Source: source, Line: num, Text: text, Reason: err.Error()}
		}
		if err := daytmpl.Validate(entry.Command, altTemplate); err != nil {
			return nil, &MalformedError{Source: source, Line: num, Text: text, Reason: err.Error()}
		}
		entry.Line = num
		if len(env) > 0 {
			entry.Env = append([]string{}, env...)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("can't read %s: %w", source, err)
	}
	return NewTable(source, data, entries), nil
}

// ParseLine parses a single "spec command" line into Entry. Leading "cd dir &&" goes to Entry.Dir,
// trailing output redirection to Entry.Output.
func ParseLine(line string) (Entry, error) {
	line = strings.TrimSpace(line)
	re := reFields
	if strings.HasPrefix(line, "@") || strings.HasPrefix(tzStripped(line), "@") {
		re = reDescriptor
	}
	m := re.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, fmt.Errorf("expected 5 time fields and a command")
	}

	spec := strings.Join(strings.Fields(m[1]), " ")
	pred, err := ParsePredicate(spec)
	if err != nil {
		return Entry{}, err
	}

	res := Entry{Spec: spec, Predicate: pred, Output: Output{Mode: OutputInherit}}
	res.Dir, res.Command = splitDir(m[2])
	res.Command, res.Output = splitOutput(res.Command)
	return res, nil
}

// envLine detects NAME=value, but not a "CRON_TZ=UTC 0 * * * * cmd" entry
func envLine(line string) (string, bool) {
	if reTZPrefix.MatchString(line) && len(strings.Fields(line)) > 2 {
		return "", false
	}
	m := reEnv.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	val := m[2]
	if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
		if val[0] == '"' {
			if uq, err := strconv.Unquote(val); err == nil {
				val = uq
			}
		} else {
			val = val[1 : len(val)-1]
		}
	}
	return m[1] + "=" + val, true
}

func tzStripped(line string) string {
	if !strings.HasPrefix(line, "CRON_TZ=") && !strings.HasPrefix(line, "TZ=") {
		return line
	}
	if _, rest, ok := strings.Cut(line, " "); ok {
		return strings.TrimSpace(rest)
	}
	return line
}

// splitDir extracts working directory from "cd /some/dir && cmd". Dirs needing shell expansion stay inline.
func splitDir(command string) (dir, cmd string) {
	m := reCd.FindStringSubmatch(command)
	if m == nil || strings.ContainsAny(m[1], "$~`\"'") {
		return "", command
	}
	return m[1], m[2]
}

// splitOutput extracts the trailing redirection of both stdout and stderr. Compound commands
// (with ; & | or other redirects) are left to the shell and keep inherited output.
func splitOutput(command string) (string, Output) {
	simple := func(head string) bool {
		return !strings.ContainsAny(head, ";&|>`")
	}
	if m := reDiscard.FindStringSubmatch(command); m != nil && simple(m[1]) {
		return m[1], Output{Mode: OutputDiscard}
	}
	if m := reAppend.FindStringSubmatch(command); m != nil && simple(m[1]) && !strings.ContainsAny(m[2], "$~`&") {
		return m[1], Output{Mode: OutputAppend, Path: m[2]}
	}
	if m := reTruncate.FindStringSubmatch(command); m != nil && simple(m[1]) && !strings.ContainsAny(m[2], "$~`&>") {
		return m[1], Output{Mode: OutputTruncate, Path: m[2]}
	}
	return command, Output{Mode: OutputInherit}
}
