package dialect

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
)

//go:embed dialects/*.yaml
var builtinFS embed.FS

// DefaultName is the dialect used when none is selected.
const DefaultName = "sqlite"

// Definition is the YAML form of a dialect.
type Definition struct {
	Name                string            `yaml:"name"`
	Description         string            `yaml:"description"`
	JoinSyntax          string            `yaml:"join_syntax"`
	Range               string            `yaml:"range"`
	NoLimit             string            `yaml:"no_limit"`
	Subselect           bool              `yaml:"subselect"`
	CorrelatedSubselect bool              `yaml:"correlated_subselect"`
	Placeholder         string            `yaml:"placeholder"`
	Booleans            []string          `yaml:"booleans"`
	Functions           map[string]string `yaml:"functions"`
	Types               map[string]string `yaml:"types"`
}

// Parse decodes and validates a YAML dialect definition.
func Parse(data []byte) (*Dictionary, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode dialect: %w", err)
	}
	return def.Build()
}

// Build validates the definition and parses its templates.
func (def Definition) Build() (*Dictionary, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("dialect definition has no name")
	}
	d := &Dictionary{
		Name:                        def.Name,
		Description:                 def.Description,
		NoLimit:                     def.NoLimit,
		Placeholder:                 def.Placeholder,
		SupportsSubselect:           def.Subselect,
		SupportsCorrelatedSubselect: def.Subselect && def.CorrelatedSubselect,
		BooleanTrue:                 "1",
		BooleanFalse:                "0",
		templates:                   make(map[string]Template, len(def.Functions)),
		typeNames:                   make(map[mapping.TypeCode]string, len(def.Types)),
	}

	switch def.JoinSyntax {
	case "", "ansi":
		d.JoinSyntax = SyntaxANSI
	case "traditional":
		d.JoinSyntax = SyntaxTraditional
	default:
		return nil, fmt.Errorf("dialect %s: unknown join_syntax %q", def.Name, def.JoinSyntax)
	}

	switch def.Range {
	case "", "limit_offset":
		d.RangeStyle = RangeLimitOffset
	case "offset_fetch":
		d.RangeStyle = RangeOffsetFetch
	case "none":
		d.RangeStyle = RangeNone
	default:
		return nil, fmt.Errorf("dialect %s: unknown range %q", def.Name, def.Range)
	}

	if len(def.Booleans) != 0 {
		if len(def.Booleans) != 2 {
			return nil, fmt.Errorf("dialect %s: booleans needs exactly two literals", def.Name)
		}
		d.BooleanTrue, d.BooleanFalse = def.Booleans[0], def.Booleans[1]
	}

	for name, raw := range def.Functions {
		arity, ok := templateArity[name]
		if !ok {
			return nil, fmt.Errorf("dialect %s: unknown function %q", def.Name, name)
		}
		t, err := ParseTemplate(name, raw, arity)
		if err != nil {
			return nil, fmt.Errorf("dialect %s: %w", def.Name, err)
		}
		d.templates[name] = t
	}

	for name, sqlType := range def.Types {
		code, err := mapping.ParseTypeCode(name)
		if err != nil {
			return nil, fmt.Errorf("dialect %s: %w", def.Name, err)
		}
		d.typeNames[code] = sqlType
	}
	return d, nil
}

var (
	builtinOnce sync.Once
	builtins    map[string]*Dictionary
	builtinErr  error
)

func loadBuiltins() {
	builtins = make(map[string]*Dictionary)
	entries, err := builtinFS.ReadDir("dialects")
	if err != nil {
		builtinErr = err
		return
	}
	for _, e := range entries {
		data, err := builtinFS.ReadFile(path.Join("dialects", e.Name()))
		if err != nil {
			builtinErr = err
			return
		}
		d, err := Parse(data)
		if err != nil {
			builtinErr = fmt.Errorf("%s: %w", e.Name(), err)
			return
		}
		builtins[d.Name] = d
	}
}

// Lookup returns the built-in dialect with the given name. An empty name
// selects DefaultName.
func Lookup(name string) (*Dictionary, error) {
	builtinOnce.Do(loadBuiltins)
	if builtinErr != nil {
		return nil, builtinErr
	}
	if name == "" {
		name = DefaultName
	}
	d, ok := builtins[name]
	if !ok {
		return nil, qerr.User(qerr.CodeUnknownDialect, name, "unknown dialect, known: %v", Names())
	}
	return d, nil
}

// MustLookup is like Lookup but panics on error.
func MustLookup(name string) *Dictionary {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Names returns the built-in dialect names, sorted.
func Names() []string {
	builtinOnce.Do(loadBuiltins)
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
