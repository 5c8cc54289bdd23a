package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/querydoc"
	"github.com/roach88/qexp/internal/store"
)

// Scenario defines a query conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mapping is the mapping file the queries are written against,
	// relative to the scenario file. When empty the runner must be given
	// a repository.
	Mapping string `yaml:"mapping,omitempty"`

	// Dialects lists the dialects every step is compiled for.
	// Default: the default dialect only.
	Dialects []string `yaml:"dialects,omitempty"`

	// Fixtures are loaded into an in-memory SQLite database. Without
	// fixtures no statement is executed.
	Fixtures store.Fixtures `yaml:"fixtures,omitempty"`

	// Objects are the candidates for in-memory evaluation.
	Objects []map[string]any `yaml:"objects,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is one query of a scenario.
type Step struct {
	Name  string            `yaml:"name"`
	Query querydoc.Document `yaml:"query"`

	// Params are bound over the query's own defaults.
	Params map[string]any `yaml:"params,omitempty"`

	// Expect is checked against the step's outcome. A step without
	// expectations must still translate and compile.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies what a step must produce.
type Expect struct {
	// SQL is the expected statement text keyed by dialect name.
	SQL map[string]string `yaml:"sql,omitempty"`

	// Args are the expected bind arguments.
	Args []any `yaml:"args,omitempty"`

	// Rows are the rows expected from the fixtures, in order.
	Rows [][]any `yaml:"rows,omitempty"`

	// Matched lists the id of every object the filter keeps, in order.
	Matched []any `yaml:"matched,omitempty"`

	// Error is the expected error code, such as Q102.
	Error string `yaml:"error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. The mapping path is
// resolved relative to the file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Mapping != "" && !filepath.IsAbs(scenario.Mapping) {
		scenario.Mapping = filepath.Join(filepath.Dir(path), scenario.Mapping)
	}
	return scenario, nil
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "step:" vs "steps:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, name := range s.Dialects {
		if _, err := dialect.Lookup(name); err != nil {
			return fmt.Errorf("dialects: %w", err)
		}
	}
	for i, t := range s.Fixtures {
		if t.Table == "" {
			return fmt.Errorf("fixtures[%d]: table is required", i)
		}
	}

	seen := make(map[string]bool, len(s.Steps))
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		if seen[step.Name] {
			return fmt.Errorf("steps[%d]: duplicate step name %q", i, step.Name)
		}
		seen[step.Name] = true
		if err := step.Query.Validate(); err != nil {
			return fmt.Errorf("steps[%d].query: %w", i, err)
		}
		if step.Expect == nil {
			continue
		}
		if step.Expect.Error != "" && (len(step.Expect.Rows) > 0 || len(step.Expect.Matched) > 0 || len(step.Expect.SQL) > 0) {
			return fmt.Errorf("steps[%d].expect: error excludes sql, rows and matched", i)
		}
		if len(step.Expect.Rows) > 0 && len(s.Fixtures) == 0 {
			return fmt.Errorf("steps[%d].expect: rows need fixtures", i)
		}
		if step.Expect.Matched != nil && len(s.Objects) == 0 {
			return fmt.Errorf("steps[%d].expect: matched needs objects", i)
		}
	}
	return nil
}

// dialects returns the dialects steps are compiled for.
func (s *Scenario) dialects() []string {
	if len(s.Dialects) == 0 {
		return []string{dialect.DefaultName}
	}
	return s.Dialects
}
