// Package querydoc reads query documents: YAML descriptions of a query
// tree that are translated into factory calls.
//
// A document names the candidate class and its alias, and gives the
// filter, projections, grouping, having, ordering and range as nested
// YAML nodes:
//
//	name: senior-engineers
//	candidate: Person
//	alias: p
//	filter:
//	  and:
//	    - {">": [p.age, $min]}
//	    - {"=": [p.dept.name, Eng]}
//	select: [p.name, {count: p.id, as: n}]
//	order: [{by: p.name, desc: true}]
//	limit: 10
//	params: {min: 30}
//
// Plain strings whose first segment is a scope in reach (the alias, an
// enclosing query's alias or a declared variable) are paths; a trailing
// "?" on a segment navigates it with an outer join. Strings starting with
// "$" (or ":" outside flow collections) are parameters. Any other string,
// and every quoted string, is a literal. Mappings hold exactly one
// operator key plus its modifiers.
package querydoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is one query document.
type Document struct {
	// Name identifies the query in output and errors.
	Name string `yaml:"name"`

	// Candidate is the class the query selects from. A subquery ranging
	// over a path may leave it empty.
	Candidate string `yaml:"candidate"`

	// Alias names the candidate in paths.
	Alias string `yaml:"alias"`

	// Subclasses includes instances of subclasses. Default: true.
	Subclasses *bool `yaml:"subclasses,omitempty"`

	// From is a path of an enclosing query the subquery ranges over.
	From string `yaml:"from,omitempty"`

	// Variables declares collection element variables and their types.
	Variables map[string]string `yaml:"variables,omitempty"`

	Filter   yaml.Node   `yaml:"filter,omitempty"`
	Select   []yaml.Node `yaml:"select,omitempty"`
	Group    []yaml.Node `yaml:"group,omitempty"`
	Having   yaml.Node   `yaml:"having,omitempty"`
	Order    []yaml.Node `yaml:"order,omitempty"`
	Distinct bool        `yaml:"distinct,omitempty"`
	Offset   yaml.Node   `yaml:"offset,omitempty"`
	Limit    yaml.Node   `yaml:"limit,omitempty"`

	// Params are default parameter values, used when the caller binds
	// none.
	Params map[string]any `yaml:"params,omitempty"`
}

// IncludeSubclasses reports the effective subclasses setting.
func (d *Document) IncludeSubclasses() bool {
	return d.Subclasses == nil || *d.Subclasses
}

// Parse reads every document in data. Unknown top-level keys are
// rejected.
func Parse(data []byte) ([]*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var docs []*Document
	for {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse query document %d: %w", len(docs)+1, err)
		}
		if err := doc.Validate(); err != nil {
			return nil, fmt.Errorf("invalid query document %d: %w", len(docs)+1, err)
		}
		docs = append(docs, &doc)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no query documents")
	}
	return docs, nil
}

// LoadFile reads the query documents of a file.
func LoadFile(path string) ([]*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query file: %w", err)
	}
	docs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}

// Validate checks the document's own fields; the tree is checked when it
// is translated.
func (d *Document) Validate() error {
	if d.Alias == "" {
		return fmt.Errorf("alias is required")
	}
	if d.Candidate == "" && d.From == "" {
		return fmt.Errorf("candidate is required")
	}
	for name, typ := range d.Variables {
		if name == d.Alias {
			return fmt.Errorf("variable %s shadows the alias", name)
		}
		if typ == "" {
			return fmt.Errorf("variable %s: type is required", name)
		}
	}
	return nil
}
