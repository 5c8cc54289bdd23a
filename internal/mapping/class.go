package mapping

import (
	"sort"

	"github.com/roach88/qexp/internal/qerr"
)

// Strategy is the inheritance strategy of a class hierarchy.
type Strategy int

const (
	// StrategySingleTable stores the whole hierarchy in the root's table,
	// told apart by the discriminator column.
	StrategySingleTable Strategy = iota

	// StrategyJoined stores each class's declared fields in its own table,
	// joined to the superclass table on the primary key.
	StrategyJoined
)

func (s Strategy) String() string {
	if s == StrategyJoined {
		return "joined"
	}
	return "single"
}

// Column is a named database column.
type Column struct {
	Name string
	Type TypeCode
}

// Class maps an entity or embeddable type onto its table.
type Class struct {
	Name       string
	Table      string
	Embeddable bool

	// PK lists the primary key columns of Table. Subclass tables of a
	// joined hierarchy reuse the root's key column names.
	PK []Column

	// PKFields names the basic fields that make up the identity.
	PKFields []string

	Super      *Class
	Subclasses []*Class
	Strategy   Strategy

	// Discriminator is the class-indicator column of the hierarchy, nil
	// when the hierarchy has a single class.
	Discriminator      *Column
	DiscriminatorValue string

	fields []*Field
	byName map[string]*Field
}

// NewClass returns an empty class mapped to table.
func NewClass(name, table string) *Class {
	return &Class{Name: name, Table: table, byName: make(map[string]*Field)}
}

// AddField declares f on the class.
func (c *Class) AddField(f *Field) {
	f.Owner = c
	if c.byName == nil {
		c.byName = make(map[string]*Field)
	}
	c.byName[f.Name] = f
	c.fields = append(c.fields, f)
}

// DeclaredFields returns the fields declared on c itself, sorted by name.
func (c *Class) DeclaredFields() []*Field {
	out := append([]*Field(nil), c.fields...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllFields returns declared and inherited fields, superclass fields first.
func (c *Class) AllFields() []*Field {
	if c.Super == nil {
		return c.DeclaredFields()
	}
	return append(c.Super.AllFields(), c.DeclaredFields()...)
}

// Field looks name up on c and its superclasses.
func (c *Class) Field(name string) (*Field, error) {
	for cur := c; cur != nil; cur = cur.Super {
		if f, ok := cur.byName[name]; ok {
			return f, nil
		}
	}
	return nil, qerr.User(qerr.CodeUnknownField, c.Name+"."+name, "class %s has no field %q", c.Name, name)
}

// Root returns the least-derived class of c's hierarchy.
func (c *Class) Root() *Class {
	cur := c
	for cur.Super != nil {
		cur = cur.Super
	}
	return cur
}

// IsA reports whether c is other or one of its subclasses.
func (c *Class) IsA(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Super {
		if cur == other {
			return true
		}
	}
	return false
}

// SuperChain returns the classes from c up to (and including) ancestor,
// most-derived first. It returns nil when ancestor is not an ancestor of c.
func (c *Class) SuperChain(ancestor *Class) []*Class {
	var chain []*Class
	for cur := c; cur != nil; cur = cur.Super {
		chain = append(chain, cur)
		if cur == ancestor {
			return chain
		}
	}
	return nil
}

// Descendants returns c followed by every subclass, depth first.
func (c *Class) Descendants() []*Class {
	out := []*Class{c}
	for _, sub := range c.Subclasses {
		out = append(out, sub.Descendants()...)
	}
	return out
}

// DiscriminatorValues returns the indicator values selecting c, and its
// subclasses when subclasses is set.
func (c *Class) DiscriminatorValues(subclasses bool) []string {
	classes := []*Class{c}
	if subclasses {
		classes = c.Descendants()
	}
	var vals []string
	for _, cls := range classes {
		if cls.DiscriminatorValue != "" {
			vals = append(vals, cls.DiscriminatorValue)
		}
	}
	return vals
}

// Type returns the entity (or embeddable) type of c.
func (c *Class) Type() Type {
	if c.Embeddable {
		return Type{Code: TypeEmbeddable, Class: c.Name}
	}
	return EntityOf(c.Name)
}

// PKColumnNames returns the names of the primary key columns.
func (c *Class) PKColumnNames() []string {
	names := make([]string, len(c.PK))
	for i, col := range c.PK {
		names[i] = col.Name
	}
	return names
}

// FieldKind tells how a field is stored.
type FieldKind int

const (
	FieldBasic FieldKind = iota
	FieldEmbedded
	FieldRelation
	FieldCollection
	FieldMap
)

func (k FieldKind) String() string {
	switch k {
	case FieldBasic:
		return "basic"
	case FieldEmbedded:
		return "embedded"
	case FieldRelation:
		return "relation"
	case FieldCollection:
		return "collection"
	case FieldMap:
		return "map"
	}
	return "unknown"
}

// Enum describes an enum-typed basic field's stored representation.
type Enum struct {
	Name    string
	Values  []string
	Ordinal bool
}

// OrdinalOf returns the index of name in the enum, or -1.
func (e *Enum) OrdinalOf(name string) int {
	for i, v := range e.Values {
		if v == name {
			return i
		}
	}
	return -1
}

// Field maps one persistent attribute.
type Field struct {
	Name  string
	Owner *Class
	Kind  FieldKind
	Type  Type

	// Column stores a basic field.
	Column Column
	Enum   *Enum

	// Embedded is the embeddable class whose columns live in Owner's table.
	Embedded *Class

	// Target is the related entity of a relation, or the element entity of
	// a collection or map. Nil for collections of scalar values.
	Target *Class

	// FKColumns are the owning-side foreign key columns on Owner's table
	// referencing Target's primary key.
	FKColumns []string

	// MappedBy names the relation field on Target holding the foreign key
	// back to Owner (inverse side).
	MappedBy string

	// Table is the collection or join table. Empty when the collection is
	// mapped by a foreign key in Target's table.
	Table string

	// OwnerColumns are the columns of Table referencing Owner's key.
	OwnerColumns []string

	// ElementColumn holds scalar collection elements and map values.
	ElementColumn Column

	// InverseColumns are the columns of a join table referencing Target.
	InverseColumns []string

	// KeyColumn holds map keys.
	KeyColumn Column

	targetName   string
	embeddedName string
	enumName     string
}

// IsToMany reports whether navigating the field can multiply rows.
func (f *Field) IsToMany() bool {
	return f.Kind == FieldCollection || f.Kind == FieldMap
}

// QualifiedName returns Owner.Name.
func (f *Field) QualifiedName() string {
	if f.Owner == nil {
		return f.Name
	}
	return f.Owner.Name + "." + f.Name
}
