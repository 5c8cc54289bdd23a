package mapping

import (
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Model is the declarative form of a mapping, as written in YAML or CUE.
type Model struct {
	Entities    map[string]EntityDoc    `yaml:"entities" json:"entities"`
	Embeddables map[string]EmbeddableDoc `yaml:"embeddables" json:"embeddables"`
	Enums       map[string]EnumDoc       `yaml:"enums" json:"enums"`
}

// EntityDoc declares one entity class.
type EntityDoc struct {
	Table       string              `yaml:"table" json:"table"`
	Extends     string              `yaml:"extends" json:"extends"`
	Inheritance string              `yaml:"inheritance" json:"inheritance"`
	ID          []string            `yaml:"id" json:"id"`
	Indicator   *IndicatorDoc       `yaml:"discriminator" json:"discriminator"`
	Fields      map[string]FieldDoc `yaml:"fields" json:"fields"`
}

// IndicatorDoc declares the discriminator column (on a root) and the value
// naming this class.
type IndicatorDoc struct {
	Column string `yaml:"column" json:"column"`
	Value  string `yaml:"value" json:"value"`
}

// EmbeddableDoc declares an embeddable class.
type EmbeddableDoc struct {
	Fields map[string]FieldDoc `yaml:"fields" json:"fields"`
}

// EnumDoc declares an enum's constants in ordinal order.
type EnumDoc struct {
	Values []string `yaml:"values" json:"values"`
}

// FieldDoc declares one field. Exactly one of Type, Enum, Embedded,
// Relation, Collection or Map selects the field kind.
type FieldDoc struct {
	Type       string `yaml:"type" json:"type"`
	Column     string `yaml:"column" json:"column"`
	Enum       string `yaml:"enum" json:"enum"`
	Ordinal    bool   `yaml:"ordinal" json:"ordinal"`
	Embedded   string `yaml:"embedded" json:"embedded"`
	Relation   string `yaml:"relation" json:"relation"`
	Collection string `yaml:"collection" json:"collection"`
	Map        string `yaml:"map" json:"map"`

	Join      []string `yaml:"join" json:"join"`
	MappedBy  string   `yaml:"mapped_by" json:"mapped_by"`
	Table     string   `yaml:"table" json:"table"`
	Owner     []string `yaml:"owner" json:"owner"`
	Inverse   []string `yaml:"inverse" json:"inverse"`
	Element   string   `yaml:"element" json:"element"`
	Key       string   `yaml:"key" json:"key"`
	KeyColumn string   `yaml:"key_column" json:"key_column"`
}

// ident normalizes identifiers so that visually equal names written in
// different Unicode forms map to the same class, field or column.
func ident(s string) string {
	return norm.NFC.String(s)
}

// Build resolves the model into a Repository, linking superclasses,
// relation targets and embeddables, and validating foreign keys.
func (m *Model) Build() (*Repository, error) {
	repo := NewRepository()
	b := &builder{model: m, repo: repo, enums: make(map[string]*Enum)}

	for name, doc := range m.Enums {
		name = ident(name)
		b.enums[name] = &Enum{Name: name, Values: doc.Values}
	}
	for _, name := range sortedKeys(m.Embeddables) {
		cls := NewClass(ident(name), "")
		cls.Embeddable = true
		repo.Add(cls)
	}
	for _, name := range sortedKeys(m.Entities) {
		doc := m.Entities[name]
		table := doc.Table
		if table == "" {
			table = name
		}
		repo.Add(NewClass(ident(name), ident(table)))
	}

	if err := b.linkHierarchy(); err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(m.Embeddables) {
		if err := b.addFields(repo.classes[ident(name)], m.Embeddables[name].Fields); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(m.Entities) {
		if err := b.addFields(repo.classes[ident(name)], m.Entities[name].Fields); err != nil {
			return nil, err
		}
	}
	if err := b.linkFields(); err != nil {
		return nil, err
	}
	if err := b.resolveKeys(); err != nil {
		return nil, err
	}
	return repo, nil
}

type builder struct {
	model *Model
	repo  *Repository
	enums map[string]*Enum
}

func (b *builder) linkHierarchy() error {
	// parents before children so strategy and indicator are inherited
	var link func(name string, seen map[string]bool) error
	done := make(map[string]bool)
	link = func(name string, seen map[string]bool) error {
		if done[name] {
			return nil
		}
		if seen[name] {
			return fmt.Errorf("entity %s: inheritance cycle", name)
		}
		seen[name] = true
		doc := b.model.Entities[name]
		cls := b.repo.classes[ident(name)]
		if doc.Extends != "" {
			if _, ok := b.model.Entities[doc.Extends]; !ok {
				return fmt.Errorf("entity %s: extends unknown entity %q", name, doc.Extends)
			}
			if err := link(doc.Extends, seen); err != nil {
				return err
			}
			super := b.repo.classes[ident(doc.Extends)]
			cls.Super = super
			super.Subclasses = append(super.Subclasses, cls)
			cls.Strategy = super.Strategy
			cls.Discriminator = super.Discriminator
			if cls.Strategy == StrategySingleTable {
				cls.Table = super.Table
			}
		} else {
			switch doc.Inheritance {
			case "", "single":
				cls.Strategy = StrategySingleTable
			case "joined":
				cls.Strategy = StrategyJoined
			default:
				return fmt.Errorf("entity %s: unknown inheritance %q", name, doc.Inheritance)
			}
			if doc.Indicator != nil && doc.Indicator.Column != "" {
				cls.Discriminator = &Column{Name: ident(doc.Indicator.Column), Type: TypeString}
			}
		}
		if doc.Indicator != nil {
			cls.DiscriminatorValue = doc.Indicator.Value
		}
		if cls.Discriminator != nil && cls.DiscriminatorValue == "" {
			cls.DiscriminatorValue = cls.Name
		}
		done[name] = true
		return nil
	}
	for _, name := range sortedKeys(b.model.Entities) {
		if err := link(name, make(map[string]bool)); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) addFields(cls *Class, docs map[string]FieldDoc) error {
	for _, name := range sortedKeys(docs) {
		f, err := b.newField(ident(name), docs[name])
		if err != nil {
			return fmt.Errorf("field %s.%s: %w", cls.Name, name, err)
		}
		cls.AddField(f)
	}
	return nil
}

func (b *builder) newField(name string, doc FieldDoc) (*Field, error) {
	f := &Field{Name: name}
	column := doc.Column
	if column == "" {
		column = name
	}
	switch {
	case doc.Type != "":
		code, err := ParseTypeCode(doc.Type)
		if err != nil {
			return nil, err
		}
		f.Kind = FieldBasic
		f.Type = Of(code)
		f.Column = Column{Name: ident(column), Type: code}
	case doc.Enum != "":
		e, ok := b.enums[ident(doc.Enum)]
		if !ok {
			return nil, fmt.Errorf("unknown enum %q", doc.Enum)
		}
		f.Kind = FieldBasic
		f.Enum = &Enum{Name: e.Name, Values: e.Values, Ordinal: doc.Ordinal}
		f.Type = Type{Code: TypeEnum, Class: e.Name}
		colType := TypeString
		if doc.Ordinal {
			colType = TypeInt
		}
		f.Column = Column{Name: ident(column), Type: colType}
	case doc.Embedded != "":
		f.Kind = FieldEmbedded
		f.embeddedName = ident(doc.Embedded)
	case doc.Relation != "":
		f.Kind = FieldRelation
		f.targetName = ident(doc.Relation)
		f.FKColumns = idents(doc.Join)
		f.MappedBy = ident(doc.MappedBy)
		if len(f.FKColumns) == 0 && f.MappedBy == "" {
			return nil, fmt.Errorf("relation needs join columns or mapped_by")
		}
	case doc.Collection != "" || doc.Map != "":
		f.Kind = FieldCollection
		elem := doc.Collection
		if doc.Map != "" {
			f.Kind = FieldMap
			elem = doc.Map
		}
		f.Table = ident(doc.Table)
		f.OwnerColumns = idents(doc.Owner)
		f.InverseColumns = idents(doc.Inverse)
		f.MappedBy = ident(doc.MappedBy)
		if code, err := ParseTypeCode(elem); err == nil {
			f.ElementColumn = Column{Name: ident(doc.Element), Type: code}
			if doc.Element == "" {
				return nil, fmt.Errorf("scalar collection needs an element column")
			}
			et := Of(code)
			f.Type = Type{Code: TypeCollection, Elem: &et}
			if f.Kind == FieldMap {
				f.Type.Code = TypeMap
			}
		} else {
			f.targetName = ident(elem)
		}
		if f.Kind == FieldMap {
			code := TypeString
			if doc.Key != "" {
				kc, err := ParseTypeCode(doc.Key)
				if err != nil {
					return nil, err
				}
				code = kc
			}
			if doc.KeyColumn == "" {
				return nil, fmt.Errorf("map needs a key_column")
			}
			f.KeyColumn = Column{Name: ident(doc.KeyColumn), Type: code}
		}
		if f.MappedBy == "" && (f.Table == "" || len(f.OwnerColumns) == 0) {
			return nil, fmt.Errorf("collection needs table and owner columns, or mapped_by")
		}
	default:
		return nil, fmt.Errorf("field kind not declared")
	}
	return f, nil
}

func (b *builder) linkFields() error {
	for _, cls := range b.repo.Classes() {
		for _, f := range cls.fields {
			if f.embeddedName != "" {
				emb, ok := b.repo.classes[f.embeddedName]
				if !ok || !emb.Embeddable {
					return fmt.Errorf("field %s: unknown embeddable %q", f.QualifiedName(), f.embeddedName)
				}
				f.Embedded = emb
				f.Type = emb.Type()
			}
			if f.targetName == "" {
				continue
			}
			target, ok := b.repo.classes[f.targetName]
			if !ok || target.Embeddable {
				return fmt.Errorf("field %s: unknown entity %q", f.QualifiedName(), f.targetName)
			}
			f.Target = target
			switch f.Kind {
			case FieldRelation:
				f.Type = target.Type()
			default:
				et := target.Type()
				f.Type = Type{Code: TypeCollection, Elem: &et}
				if f.Kind == FieldMap {
					f.Type.Code = TypeMap
				}
			}
			if f.MappedBy != "" {
				inv, ok := target.byName[f.MappedBy]
				if !ok || inv.Kind != FieldRelation || len(inv.FKColumns) == 0 {
					return fmt.Errorf("field %s: mapped_by %q must name an owning relation declared on %s",
						f.QualifiedName(), f.MappedBy, target.Name)
				}
			} else if f.Kind != FieldRelation && f.Table != "" && len(f.InverseColumns) == 0 {
				return fmt.Errorf("field %s: join table needs inverse columns", f.QualifiedName())
			}
		}
	}
	return nil
}

func (b *builder) resolveKeys() error {
	for _, cls := range b.repo.Entities() {
		root := cls.Root()
		doc := b.model.Entities[root.Name]
		if len(doc.ID) == 0 {
			return fmt.Errorf("entity %s: id fields required on %s", cls.Name, root.Name)
		}
		cls.PK = nil
		cls.PKFields = nil
		for _, name := range doc.ID {
			f, ok := root.byName[ident(name)]
			if !ok || f.Kind != FieldBasic {
				return fmt.Errorf("entity %s: id field %q must be a basic field", root.Name, name)
			}
			cls.PK = append(cls.PK, f.Column)
			cls.PKFields = append(cls.PKFields, f.Name)
		}
	}
	for _, cls := range b.repo.Entities() {
		for _, f := range cls.fields {
			if f.Kind == FieldRelation && len(f.FKColumns) > 0 && len(f.FKColumns) != len(f.Target.PK) {
				return fmt.Errorf("field %s: %d join columns for %d key columns of %s",
					f.QualifiedName(), len(f.FKColumns), len(f.Target.PK), f.Target.Name)
			}
		}
	}
	return nil
}

func idents(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = ident(s)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
