package crontab

import (
	"errors"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/solarray/pipecron/app/daytmpl"
)

const (
	// repeater validation limits
	minAttempts = 1
	maxAttempts = 100
	minFactor   = 1.0
	maxFactor   = 10.0
	minDuration = time.Millisecond
	maxDuration = time.Hour
)

func validateJob(j JobSpec) error {
	if j.Command == "" {
		return errors.New("command is required")
	}

	hasSpec, hasSched := j.Spec != "", !j.Sched.IsZero()
	if !hasSpec && !hasSched {
		return errors.New("either 'spec' or 'sched' field is required")
	}
	if hasSpec && hasSched {
		return errors.New("'spec' and 'sched' fields are mutually exclusive")
	}

	if j.Repeater != nil {
		if err := validateRepeater(j.Repeater); err != nil {
			return err
		}
	}
	return nil
}

func validateRepeater(cfg *RepeaterConfig) error {
	if cfg.Attempts != nil {
		if *cfg.Attempts < minAttempts || *cfg.Attempts > maxAttempts {
			return fmt.Errorf("repeater.attempts must be between %d and %d", minAttempts, maxAttempts)
		}
	}

	if cfg.Duration != nil {
		if *cfg.Duration < minDuration {
			return fmt.Errorf("repeater.duration must be at least %v", minDuration)
		}
		if *cfg.Duration > maxDuration {
			return fmt.Errorf("repeater.duration must not exceed %v", maxDuration)
		}
	}

	if cfg.Factor != nil {
		if *cfg.Factor < minFactor || *cfg.Factor > maxFactor {
			return fmt.Errorf("repeater.factor must be between %.1f and %.1f", minFactor, maxFactor)
		}
	}
	return nil
}

func validateOutput(out Output, altTemplate bool) error {
	switch out.Mode {
	case OutputAppend, OutputTruncate:
		if out.Path == "" {
			return fmt.Errorf("output.path is required for %s mode", out.Mode)
		}
		if err := daytmpl.Validate(out.Path, altTemplate); err != nil {
			return fmt.Errorf("bad output.path: %w", err)
		}
	case OutputDiscard, OutputInherit:
		if out.Path != "" {
			return fmt.Errorf("output.path not allowed for %s mode", out.Mode)
		}
	default:
		return fmt.Errorf("unknown output mode %q", out.Mode)
	}
	return nil
}

// GenerateSchema generates a JSON schema for the YamlConfig struct
func GenerateSchema() *jsonschema.Schema {
	schema := jsonschema.Reflect(&YamlConfig{})
	schema.Title = "pipecron job table"
	schema.Description = "Schema for pipecron yaml job table"
	return schema
}
