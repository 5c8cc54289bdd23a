// Package dialect holds the SQL dictionary: the vendor hooks the expression
// tree calls while rendering (comparison, math, string functions, casts,
// ranges) and the capability flags checked before a construct is emitted.
//
// Dictionaries are data. Each built-in dialect is a YAML document embedded
// in the binary; its function templates are parsed once at load and a
// template missing a required placeholder is rejected there.
package dialect

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
)

// FilterValue is the view of an expression operand handed to dialect hooks.
type FilterValue interface {
	// AppendTo renders the index-th scalar column of the operand.
	AppendTo(buf *sqlbuf.Buffer, index int) error

	// Length is the number of scalar columns the operand expands to.
	Length() int

	// IsConstant reports whether the operand is a literal or parameter.
	IsConstant() bool

	// IsNull reports whether the operand is known to be SQL NULL.
	IsNull() bool

	Type() mapping.Type
}

// JoinSyntax selects how joins are written.
type JoinSyntax int

const (
	// SyntaxANSI writes INNER JOIN / LEFT OUTER JOIN ... ON.
	SyntaxANSI JoinSyntax = iota

	// SyntaxTraditional lists tables in FROM and puts join conditions in WHERE.
	SyntaxTraditional
)

func (s JoinSyntax) String() string {
	if s == SyntaxTraditional {
		return "traditional"
	}
	return "ansi"
}

// RangeStyle selects how offset and limit are written.
type RangeStyle int

const (
	RangeNone RangeStyle = iota
	RangeLimitOffset
	RangeOffsetFetch
)

func (r RangeStyle) String() string {
	switch r {
	case RangeLimitOffset:
		return "limit_offset"
	case RangeOffsetFetch:
		return "offset_fetch"
	default:
		return "none"
	}
}

// TrimSpec is the side a TRIM applies to.
type TrimSpec int

const (
	TrimBoth TrimSpec = iota
	TrimLeading
	TrimTrailing
)

func (t TrimSpec) String() string {
	switch t {
	case TrimLeading:
		return "leading"
	case TrimTrailing:
		return "trailing"
	default:
		return "both"
	}
}

// Template names and their arity.
var templateArity = map[string]int{
	"concat":             2,
	"lower":              1,
	"upper":              1,
	"length":             1,
	"abs":                1,
	"sqrt":               1,
	"mod":                2,
	"index_of":           2,
	"index_of_from":      3,
	"substring":          3,
	"substring_from":     2,
	"trim_both":          1,
	"trim_leading":       1,
	"trim_trailing":      1,
	"trim_both_char":     2,
	"trim_leading_char":  2,
	"trim_trailing_char": 2,
	"cast":               2,
	"current_date":       0,
	"current_time":       0,
	"current_timestamp":  0,
}

// Dictionary is one loaded dialect.
type Dictionary struct {
	Name        string
	Description string
	JoinSyntax  JoinSyntax
	RangeStyle  RangeStyle

	SupportsSubselect           bool
	SupportsCorrelatedSubselect bool

	// NoLimit is written as the limit when only an offset is given and the
	// dialect cannot write OFFSET alone. Empty means OFFSET alone is valid.
	NoLimit string

	// Placeholder is "?" or a prefix such as "$" for numbered markers.
	Placeholder string

	BooleanTrue  string
	BooleanFalse string

	templates map[string]Template
	typeNames map[mapping.TypeCode]string
}

// HasFunction reports whether the named template is defined.
func (d *Dictionary) HasFunction(name string) bool {
	_, ok := d.templates[name]
	return ok
}

// Functions returns the defined template names and patterns.
func (d *Dictionary) Functions() map[string]string {
	out := make(map[string]string, len(d.templates))
	for k, t := range d.templates {
		out[k] = t.String()
	}
	return out
}

// AssertSupport returns a capability error naming capability when ok is false.
func (d *Dictionary) AssertSupport(ok bool, capability string) error {
	if ok {
		return nil
	}
	return qerr.Unsupported(d.Name, capability)
}

// Text returns the SQL text of buf with this dialect's placeholder markers.
func (d *Dictionary) Text(buf *sqlbuf.Buffer) string {
	if d.Placeholder == "" || d.Placeholder == "?" {
		return buf.SQL()
	}
	return buf.Numbered(d.Placeholder)
}

func (d *Dictionary) template(name, capability string) (Template, error) {
	t, ok := d.templates[name]
	if !ok {
		return Template{}, qerr.Unsupported(d.Name, capability)
	}
	return t, nil
}

// Comparison writes lhs op rhs. A comparison with a NULL operand becomes
// IS [NOT] NULL; multi-column operands compare column by column.
func (d *Dictionary) Comparison(buf *sqlbuf.Buffer, op string, lhs, rhs FilterValue) error {
	if rhs.IsNull() || lhs.IsNull() {
		target := lhs
		if lhs.IsNull() {
			target = rhs
		}
		return d.nullTest(buf, op, target)
	}
	n := lhs.Length()
	if m := rhs.Length(); m != n {
		if n != 1 && m != 1 {
			return qerr.User(qerr.CodeIncompatibleTypes, op, "cannot compare %d columns with %d columns", n, m)
		}
		n = max(n, m)
	}
	if n == 1 {
		return d.compareColumn(buf, op, lhs, rhs, 0)
	}

	join := " AND "
	switch op {
	case "=":
	case "<>":
		join = " OR "
	default:
		return qerr.User(qerr.CodeInvalidQuery, op, "operator cannot compare multi-column values")
	}
	buf.Append("(")
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.Append(join)
		}
		if err := d.compareColumn(buf, op, lhs, rhs, i); err != nil {
			return err
		}
	}
	buf.Append(")")
	return nil
}

func (d *Dictionary) compareColumn(buf *sqlbuf.Buffer, op string, lhs, rhs FilterValue, i int) error {
	if err := lhs.AppendTo(buf, min(i, lhs.Length()-1)); err != nil {
		return err
	}
	buf.Append(" ").Append(op).Append(" ")
	return rhs.AppendTo(buf, min(i, rhs.Length()-1))
}

func (d *Dictionary) nullTest(buf *sqlbuf.Buffer, op string, v FilterValue) error {
	test, join := " IS NULL", " AND "
	switch op {
	case "=":
	case "<>":
		test, join = " IS NOT NULL", " OR "
	default:
		return qerr.User(qerr.CodeInvalidQuery, op, "operator cannot compare with NULL")
	}
	if v.IsNull() {
		// NULL compared with NULL
		if op == "=" {
			buf.Append("1 = 1")
		} else {
			buf.Append("1 <> 1")
		}
		return nil
	}
	n := v.Length()
	if n > 1 {
		buf.Append("(")
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.Append(join)
		}
		if err := v.AppendTo(buf, i); err != nil {
			return err
		}
		buf.Append(test)
	}
	if n > 1 {
		buf.Append(")")
	}
	return nil
}

// MathFunction writes an arithmetic operation. op is one of + - * / or MOD.
func (d *Dictionary) MathFunction(buf *sqlbuf.Buffer, op string, lhs, rhs FilterValue) error {
	if op == "MOD" {
		t, err := d.template("mod", "MOD")
		if err != nil {
			return err
		}
		return t.Render(buf, Value(lhs, 0), Value(rhs, 0))
	}
	buf.Append("(")
	if err := lhs.AppendTo(buf, 0); err != nil {
		return err
	}
	buf.Append(" ").Append(op).Append(" ")
	if err := rhs.AppendTo(buf, 0); err != nil {
		return err
	}
	buf.Append(")")
	return nil
}

// Concat writes string concatenation.
func (d *Dictionary) Concat(buf *sqlbuf.Buffer, lhs, rhs FilterValue) error {
	t, err := d.template("concat", "CONCAT")
	if err != nil {
		return err
	}
	return t.Render(buf, Value(lhs, 0), Value(rhs, 0))
}

// Function writes a one-argument function: lower, upper, length, abs, sqrt.
func (d *Dictionary) Function(buf *sqlbuf.Buffer, name string, v FilterValue) error {
	t, err := d.template(name, strings.ToUpper(name))
	if err != nil {
		return err
	}
	return t.Render(buf, Value(v, 0))
}

// Substring writes SUBSTRING(str, start[, length]); length may be nil.
func (d *Dictionary) Substring(buf *sqlbuf.Buffer, str, start, length FilterValue) error {
	if length == nil {
		t, err := d.template("substring_from", "SUBSTRING")
		if err != nil {
			return err
		}
		return t.Render(buf, Value(str, 0), Value(start, 0))
	}
	t, err := d.template("substring", "SUBSTRING")
	if err != nil {
		return err
	}
	return t.Render(buf, Value(str, 0), Value(start, 0), Value(length, 0))
}

// IndexOf writes the 1-based position of find in str, 0 when absent. start,
// if not nil, is the 1-based position the search begins at. Dialects with no
// three-argument form search the substring from start and shift the result.
func (d *Dictionary) IndexOf(buf *sqlbuf.Buffer, str, find, start FilterValue) error {
	if start == nil {
		t, err := d.template("index_of", "LOCATE")
		if err != nil {
			return err
		}
		return t.Render(buf, Value(str, 0), Value(find, 0))
	}
	if t, ok := d.templates["index_of_from"]; ok {
		return t.Render(buf, Value(str, 0), Value(find, 0), Value(start, 0))
	}
	idx, err := d.template("index_of", "LOCATE")
	if err != nil {
		return err
	}
	sub, err := d.template("substring_from", "LOCATE")
	if err != nil {
		return err
	}
	tail := func(b *sqlbuf.Buffer) error {
		return sub.Render(b, Value(str, 0), Value(start, 0))
	}
	search := func(b *sqlbuf.Buffer) error {
		return idx.Render(b, tail, Value(find, 0))
	}
	buf.Append("(CASE WHEN ")
	if err := search(buf); err != nil {
		return err
	}
	buf.Append(" = 0 THEN 0 ELSE ")
	if err := search(buf); err != nil {
		return err
	}
	buf.Append(" + ")
	if err := start.AppendTo(buf, 0); err != nil {
		return err
	}
	buf.Append(" - 1 END)")
	return nil
}

// Trim writes TRIM of v on the given side. char, if not nil, is the
// character trimmed instead of blanks.
func (d *Dictionary) Trim(buf *sqlbuf.Buffer, spec TrimSpec, v, char FilterValue) error {
	name := "trim_" + spec.String()
	if char == nil {
		t, err := d.template(name, "TRIM")
		if err != nil {
			return err
		}
		return t.Render(buf, Value(v, 0))
	}
	t, err := d.template(name+"_char", "TRIM with character")
	if err != nil {
		return err
	}
	return t.Render(buf, Value(v, 0), Value(char, 0))
}

// Cast writes a conversion of v to the named type.
func (d *Dictionary) Cast(buf *sqlbuf.Buffer, v FilterValue, to mapping.TypeCode) error {
	name, ok := d.typeNames[to]
	if !ok {
		return qerr.Unsupported(d.Name, "CAST to "+to.String())
	}
	t, err := d.template("cast", "CAST")
	if err != nil {
		return err
	}
	return t.Render(buf, Value(v, 0), Text(name))
}

// CurrentTemporal writes CURRENT_DATE, CURRENT_TIME or CURRENT_TIMESTAMP.
func (d *Dictionary) CurrentTemporal(buf *sqlbuf.Buffer, code mapping.TypeCode) error {
	var name string
	switch code {
	case mapping.TypeDate:
		name = "current_date"
	case mapping.TypeTime:
		name = "current_time"
	case mapping.TypeTimestamp:
		name = "current_timestamp"
	default:
		return qerr.Internal(qerr.CodeBadState, code.String(), "not a temporal type")
	}
	t, err := d.template(name, strings.ToUpper(name))
	if err != nil {
		return err
	}
	return t.Render(buf)
}

// AppendRange writes the offset/limit clause. Either value may be nil.
func (d *Dictionary) AppendRange(buf *sqlbuf.Buffer, offset, limit FilterValue) error {
	if offset == nil && limit == nil {
		return nil
	}
	switch d.RangeStyle {
	case RangeLimitOffset:
		if limit != nil {
			buf.Append(" LIMIT ")
			if err := limit.AppendTo(buf, 0); err != nil {
				return err
			}
		} else if d.NoLimit != "" {
			buf.Append(" LIMIT ").Append(d.NoLimit)
		}
		if offset != nil {
			buf.Append(" OFFSET ")
			if err := offset.AppendTo(buf, 0); err != nil {
				return err
			}
		}
		return nil
	case RangeOffsetFetch:
		buf.Append(" OFFSET ")
		if offset != nil {
			if err := offset.AppendTo(buf, 0); err != nil {
				return err
			}
		} else {
			buf.Append("0")
		}
		buf.Append(" ROWS")
		if limit != nil {
			buf.Append(" FETCH NEXT ")
			if err := limit.AppendTo(buf, 0); err != nil {
				return err
			}
			buf.Append(" ROWS ONLY")
		}
		return nil
	default:
		return qerr.Unsupported(d.Name, "result range")
	}
}

// Literal formats v as a SQL literal. It is used for display of compiled
// statements only; executed statements always bind values.
func (d *Dictionary) Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return d.BooleanTrue
		}
		return d.BooleanFalse
	case time.Time:
		return "'" + x.Format("2006-01-02 15:04:05") + "'"
	case []byte:
		return fmt.Sprintf("X'%X'", x)
	default:
		return fmt.Sprint(x)
	}
}
