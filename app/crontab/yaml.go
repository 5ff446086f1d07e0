package crontab

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solarray/pipecron/app/conditions"
	"github.com/solarray/pipecron/app/daytmpl"
)

// YamlConfig is the yaml job table
type YamlConfig struct {
	Env  map[string]string `yaml:"env,omitempty" json:"env,omitempty" jsonschema:"description=environment for all jobs"`
	Jobs []JobSpec         `yaml:"jobs" json:"jobs" jsonschema:"required,minItems=1"`
}

// JobSpec is a single job in yaml format. Either Spec or Sched should be set.
type JobSpec struct {
	Name       string             `yaml:"name,omitempty" json:"name,omitempty"`
	Spec       string             `yaml:"spec,omitempty" json:"spec,omitempty" jsonschema:"description=5 fields predicate or @descriptor"`
	Sched      Schedule           `yaml:"sched,omitempty" json:"sched,omitempty"`
	Dir        string             `yaml:"dir,omitempty" json:"dir,omitempty" jsonschema:"description=working directory"`
	Command    string             `yaml:"command" json:"command" jsonschema:"required,minLength=1"`
	Output     *Output            `yaml:"output,omitempty" json:"output,omitempty"`
	Env        map[string]string  `yaml:"env,omitempty" json:"env,omitempty"`
	Repeater   *RepeaterConfig    `yaml:"repeater,omitempty" json:"repeater,omitempty"`
	Conditions *conditions.Config `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Schedule is a per-field form of the predicate, missing fields are "*"
type Schedule struct {
	Minute  string `yaml:"minute,omitempty" json:"minute,omitempty"`
	Hour    string `yaml:"hour,omitempty" json:"hour,omitempty"`
	Day     string `yaml:"day,omitempty" json:"day,omitempty"`
	Month   string `yaml:"month,omitempty" json:"month,omitempty"`
	Weekday string `yaml:"weekday,omitempty" json:"weekday,omitempty"`
}

// IsZero reports if no field set
func (s Schedule) IsZero() bool {
	return s == Schedule{}
}

// String makes 5-fields spec
func (s Schedule) String() string {
	def := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "*"
		}
		return strings.TrimSpace(v)
	}
	return strings.Join([]string{def(s.Minute), def(s.Hour), def(s.Day), def(s.Month), def(s.Weekday)}, " ")
}

var reYamlLine = regexp.MustCompile(`line (\d+)`)

// ParseYAML parses yaml job table. Errors point to the line of the offending job.
func ParseYAML(source string, data []byte, altTemplate bool) (*Table, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, yamlError(source, err)
	}

	var cfg YamlConfig
	if err := root.Decode(&cfg); err != nil {
		return nil, yamlError(source, err)
	}
	if len(cfg.Jobs) == 0 {
		return nil, &MalformedError{Source: source, Line: 1, Reason: "at least one job is required"}
	}

	lines := jobLines(&root)
	entries := make([]Entry, 0, len(cfg.Jobs))
	for i, js := range cfg.Jobs {
		line := 0
		if i < len(lines) {
			line = lines[i]
		}
		entry, err := js.entry(altTemplate)
		if err != nil {
			return nil, &MalformedError{Source: source, Line: line, Text: js.label(i), Reason: err.Error()}
		}
		entry.Line = line
		entry.Env = mergeEnv(cfg.Env, js.Env)
		entries = append(entries, entry)
	}
	return NewTable(source, data, entries), nil
}

func (j JobSpec) entry(altTemplate bool) (Entry, error) {
	if err := validateJob(j); err != nil {
		return Entry{}, err
	}

	spec := strings.TrimSpace(j.Spec)
	if spec == "" {
		spec = j.Sched.String()
	}
	pred, err := ParsePredicate(spec)
	if err != nil {
		return Entry{}, err
	}

	res := Entry{Name: j.Name, Spec: spec, Predicate: pred, Dir: j.Dir, Command: strings.TrimSpace(j.Command),
		Repeater: j.Repeater, Conditions: j.Conditions}
	if res.Dir == "" {
		res.Dir, res.Command = splitDir(res.Command)
	}
	if j.Output != nil {
		res.Output = *j.Output
		if res.Output.Mode == "" {
			res.Output.Mode = OutputAppend
		}
	} else {
		res.Command, res.Output = splitOutput(res.Command)
	}
	if err := validateOutput(res.Output, altTemplate); err != nil {
		return Entry{}, err
	}
	if err := daytmpl.Validate(res.Command, altTemplate); err != nil {
		return Entry{}, err
	}
	return res, nil
}

func (j JobSpec) label(idx int) string {
	if j.Name != "" {
		return j.Name
	}
	if j.Command != "" {
		return j.Command
	}
	return "job #" + strconv.Itoa(idx+1)
}

// jobLines returns line numbers of items in jobs sequence
func jobLines(root *yaml.Node) []int {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "jobs" {
			continue
		}
		res := make([]int, 0, len(doc.Content[i+1].Content))
		for _, n := range doc.Content[i+1].Content {
			res = append(res, n.Line)
		}
		return res
	}
	return nil
}

func yamlError(source string, err error) error {
	res := &MalformedError{Source: source, Reason: err.Error()}
	var te *yaml.TypeError
	if errors.As(err, &te) && len(te.Errors) > 0 {
		res.Reason = te.Errors[0]
	}
	if m := reYamlLine.FindStringSubmatch(res.Reason); m != nil {
		res.Line, _ = strconv.Atoi(m[1])
	}
	return res
}

// mergeEnv combines global and job env, job wins. Keys sorted for stable order.
func mergeEnv(global, job map[string]string) []string {
	if len(global) == 0 && len(job) == 0 {
		return nil
	}
	all := map[string]string{}
	for k, v := range global {
		all[k] = v
	}
	for k, v := range job {
		all[k] = v
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	res := make([]string, 0, len(keys))
	for _, k := range keys {
		res = append(res, fmt.Sprintf("%s=%s", k, all[k]))
	}
	return res
}
