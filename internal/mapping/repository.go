// Package mapping holds the object-relational metadata the query compiler
// reads while it resolves paths: classes and their tables, fields and their
// columns, relations and their foreign keys, inheritance and discriminators.
//
// Metadata is read-only once a Repository is built. Repositories are built
// from a Model, which is decoded from YAML (LoadYAML) or CUE (LoadCUE).
package mapping

import (
	"sort"

	"github.com/roach88/qexp/internal/qerr"
)

// Repository is the set of mapped classes.
type Repository struct {
	classes map[string]*Class
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{classes: make(map[string]*Class)}
}

// Add registers c under its name, replacing any previous class.
func (r *Repository) Add(c *Class) {
	r.classes[c.Name] = c
}

// Class returns the named class.
func (r *Repository) Class(name string) (*Class, error) {
	c, ok := r.classes[name]
	if !ok {
		return nil, qerr.User(qerr.CodeUnknownClass, name, "no mapping for class %q", name)
	}
	return c, nil
}

// MustClass is like Class but panics when the class is missing.
// Use only in tests or with names known to be mapped.
func (r *Repository) MustClass(name string) *Class {
	c, err := r.Class(name)
	if err != nil {
		panic(err)
	}
	return c
}

// Classes returns every class sorted by name.
func (r *Repository) Classes() []*Class {
	out := make([]*Class, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entities returns the non-embeddable classes sorted by name.
func (r *Repository) Entities() []*Class {
	var out []*Class
	for _, c := range r.Classes() {
		if !c.Embeddable {
			out = append(out, c)
		}
	}
	return out
}
