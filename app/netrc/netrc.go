// Package netrc reads and checks the credential file used by the calibration database client.
// Records follow the usual netrc syntax: "machine host login user account acct password pwd" with an
// optional "default" record, macdef blocks are skipped.
package netrc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrInsecure returned when the file is readable or writable by group or others
var ErrInsecure = errors.New("credential file permissions too open")

// Entry is a single machine (or default) record
type Entry struct {
	Machine  string // empty for the default record
	Login    string
	Account  string
	Password string
}

// IsDefault returns true for the "default" record
func (e Entry) IsDefault() bool { return e.Machine == "" }

func (e Entry) String() string {
	name := e.Machine
	if e.IsDefault() {
		name = "default"
	}
	// password is never printed
	return fmt.Sprintf("%s login:%q account:%q", name, e.Login, e.Account)
}

// Load reads and parses the file
func Load(path string) ([]Entry, error) {
	fh, err := os.Open(path) //nolint:gosec // path from config
	if err != nil {
		return nil, fmt.Errorf("can't open %s: %w", path, err)
	}
	defer fh.Close() //nolint:errcheck // read-only

	res, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("can't parse %s: %w", path, err)
	}
	return res, nil
}

// Parse reads netrc records from r
func Parse(r io.Reader) ([]Entry, error) {
	var res []Entry
	var cur *Entry
	inMacro := false

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if inMacro {
			// macro body ends with an empty line
			if line == "" {
				inMacro = false
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens := strings.Fields(line)
		for i := 0; i < len(tokens); i++ {
			tok := tokens[i]
			switch tok {
			case "default":
				res = append(res, Entry{})
				cur = &res[len(res)-1]
				continue
			case "macdef":
				inMacro = true
				i = len(tokens) // rest of the line is the macro name
				continue
			}

			if i+1 >= len(tokens) {
				return nil, fmt.Errorf("line %d: missing value for %q", lineNum, tok)
			}
			val := tokens[i+1]
			i++

			if tok == "machine" {
				res = append(res, Entry{Machine: val})
				cur = &res[len(res)-1]
				continue
			}
			if cur == nil {
				return nil, fmt.Errorf("line %d: %q outside of machine record", lineNum, tok)
			}
			switch tok {
			case "login":
				cur.Login = val
			case "account":
				cur.Account = val
			case "password":
				cur.Password = val
			default:
				return nil, fmt.Errorf("line %d: unknown token %q", lineNum, tok)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	return res, nil
}

// Find returns the record for machine, the default record if no exact match
func Find(entries []Entry, machine string) (Entry, bool) {
	var def *Entry
	for i, e := range entries {
		if e.Machine == machine && !e.IsDefault() {
			return e, true
		}
		if e.IsDefault() && def == nil {
			def = &entries[i]
		}
	}
	if def != nil {
		return *def, true
	}
	return Entry{}, false
}

// Check fails with ErrInsecure if the file mode grants any permission to group or others
func Check(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("can't stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("%s has mode %04o: %w", path, mode, ErrInsecure)
	}
	return nil
}

// Secure sets file mode to 0600
func Secure(path string) error {
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("can't chmod %s: %w", path, err)
	}
	return nil
}
