package crontab

import (
	"context"
	"errors"
)

// Single is a table of one job given as "spec command" line, i.e. --command
type Single struct {
	Line        string
	AltTemplate bool
}

// Load parses the line and returns a table with a single entry
func (s Single) Load() (*Table, error) {
	tbl, err := ParseLines("command", []byte(s.Line), s.AltTemplate)
	if err != nil {
		return nil, err
	}
	if tbl.Len() == 0 {
		return nil, &MalformedError{Source: "command", Line: 1, Text: s.Line, Reason: "no job in command"}
	}
	return tbl, nil
}

func (s Single) String() string {
	return s.Line
}

// Changes not supported, single line can't be reloaded
func (s Single) Changes(context.Context) (<-chan *Table, error) {
	return nil, errors.New("not supported")
}
