package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/qexp/internal/mapping"
)

// Table is the definition of one table a mapping stores rows in.
type Table struct {
	Name    string
	Columns []Column
	PK      []string
}

// Column is a column definition with its SQLite type affinity.
type Column struct {
	Name string
	Type string
}

func (t *Table) add(name, typ string) {
	for _, c := range t.Columns {
		if c.Name == name {
			return
		}
	}
	t.Columns = append(t.Columns, Column{Name: name, Type: typ})
}

// DDL returns the CREATE TABLE statement of t.
func (t *Table) DDL() string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(t.Name)
	sb.WriteString(" (")
	for i, c := range t.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(c.Name)
		if c.Type != "" {
			sb.WriteString(" ")
			sb.WriteString(c.Type)
		}
	}
	if len(t.PK) > 0 {
		sb.WriteString(", PRIMARY KEY (")
		sb.WriteString(strings.Join(t.PK, ", "))
		sb.WriteString(")")
	}
	sb.WriteString(")")
	return sb.String()
}

// Tables derives the tables of repo: one per entity table, holding the
// columns of every class stored in it, and one per collection or join
// table. Tables come in the order of the entities that first use them.
func Tables(repo *mapping.Repository) []*Table {
	s := &schema{byName: map[string]*Table{}}
	for _, cls := range repo.Entities() {
		t := s.table(cls.Table)
		if cls.Super == nil || cls.Strategy == mapping.StrategyJoined {
			for _, col := range cls.PK {
				t.add(col.Name, affinity(col.Type))
			}
			if t.PK == nil {
				t.PK = cls.PKColumnNames()
			}
		}
		if cls.Super == nil && cls.Discriminator != nil {
			t.add(cls.Discriminator.Name, affinity(cls.Discriminator.Type))
		}
		for _, f := range cls.DeclaredFields() {
			s.field(t, cls, f)
		}
	}
	return s.tables
}

type schema struct {
	tables []*Table
	byName map[string]*Table
}

func (s *schema) table(name string) *Table {
	if t, ok := s.byName[name]; ok {
		return t
	}
	t := &Table{Name: name}
	s.byName[name] = t
	s.tables = append(s.tables, t)
	return t
}

// field adds the columns of f, a field of entity owner, to t and the
// tables f owns.
func (s *schema) field(t *Table, owner *mapping.Class, f *mapping.Field) {
	switch f.Kind {
	case mapping.FieldBasic:
		t.add(f.Column.Name, affinity(f.Column.Type))
	case mapping.FieldEmbedded:
		for _, ef := range f.Embedded.DeclaredFields() {
			s.field(t, owner, ef)
		}
	case mapping.FieldRelation:
		for i, col := range f.FKColumns {
			t.add(col, keyAffinity(f.Target, i))
		}
	case mapping.FieldCollection, mapping.FieldMap:
		if f.Table == "" || f.MappedBy != "" {
			return
		}
		ct := s.table(f.Table)
		for i, col := range f.OwnerColumns {
			ct.add(col, keyAffinity(owner, i))
		}
		if f.Kind == mapping.FieldMap {
			ct.add(f.KeyColumn.Name, affinity(f.KeyColumn.Type))
		}
		if f.Target != nil {
			for i, col := range f.InverseColumns {
				ct.add(col, keyAffinity(f.Target, i))
			}
			return
		}
		ct.add(f.ElementColumn.Name, affinity(f.ElementColumn.Type))
	}
}

func keyAffinity(cls *mapping.Class, i int) string {
	if i < len(cls.PK) {
		return affinity(cls.PK[i].Type)
	}
	return ""
}

// affinity maps a column type onto a SQLite type affinity.
func affinity(code mapping.TypeCode) string {
	switch code {
	case mapping.TypeInt, mapping.TypeLong, mapping.TypeBool, mapping.TypeEnum:
		return "INTEGER"
	case mapping.TypeFloat, mapping.TypeDouble:
		return "REAL"
	case mapping.TypeDecimal:
		return "NUMERIC"
	case mapping.TypeBytes:
		return "BLOB"
	}
	return "TEXT"
}

// CreateSchema creates the tables of repo that do not exist yet, in one
// transaction.
func (s *Store) CreateSchema(ctx context.Context, repo *mapping.Repository) error {
	tables := Tables(repo)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, t.DDL()); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	s.logger.Info("schema created", "tables", len(tables))
	return nil
}
