package dialect

import (
	"fmt"
	"strings"

	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
)

// Template is a function pattern such as "CONCAT({0}, {1})". The text is
// split around each "{n}" token once, when the template is parsed; rendering
// then appends the literal parts and the n-th argument in turn.
type Template struct {
	raw   string
	parts []string // len(parts) == len(args)+1
	args  []int
}

// ParseTemplate parses raw and checks that every placeholder {0} through
// {arity-1} occurs at least once and that no other placeholder does.
func ParseTemplate(name, raw string, arity int) (Template, error) {
	t := Template{raw: raw}
	seen := make([]bool, arity)
	rest := raw
	var cur strings.Builder
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			cur.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			cur.WriteString(rest)
			break
		}
		end += open
		var n int
		if _, err := fmt.Sscanf(rest[open+1:end], "%d", &n); err != nil || fmt.Sprint(n) != rest[open+1:end] {
			// not a placeholder, keep the brace literally
			cur.WriteString(rest[:open+1])
			rest = rest[open+1:]
			continue
		}
		if n < 0 || n >= arity {
			return Template{}, &qerr.Error{
				Kind:      qerr.KindCapability,
				Code:      qerr.CodeBadTemplate,
				Construct: name,
				Message:   fmt.Sprintf("template %q uses placeholder {%d}, only %d argument(s) available", raw, n, arity),
			}
		}
		cur.WriteString(rest[:open])
		t.parts = append(t.parts, cur.String())
		cur.Reset()
		t.args = append(t.args, n)
		seen[n] = true
		rest = rest[end+1:]
	}
	t.parts = append(t.parts, cur.String())
	for i, ok := range seen {
		if !ok {
			return Template{}, &qerr.Error{
				Kind:      qerr.KindCapability,
				Code:      qerr.CodeBadTemplate,
				Construct: name,
				Message:   fmt.Sprintf("template %q is missing placeholder {%d}", raw, i),
			}
		}
	}
	return t, nil
}

// MustParseTemplate is like ParseTemplate but panics on error.
func MustParseTemplate(name, raw string, arity int) Template {
	t, err := ParseTemplate(name, raw, arity)
	if err != nil {
		panic(err)
	}
	return t
}

// IsZero reports whether the template was never set.
func (t Template) IsZero() bool {
	return t.raw == ""
}

func (t Template) String() string {
	return t.raw
}

// Arg renders one template argument.
type Arg func(buf *sqlbuf.Buffer) error

// Render appends the template to buf, rendering args in placeholder order.
func (t Template) Render(buf *sqlbuf.Buffer, args ...Arg) error {
	for i, n := range t.args {
		buf.Append(t.parts[i])
		if n >= len(args) {
			return qerr.Internal(qerr.CodeBadTemplate, t.raw, "template needs argument {%d}", n)
		}
		if err := args[n](buf); err != nil {
			return err
		}
	}
	buf.Append(t.parts[len(t.parts)-1])
	return nil
}

// Text returns an Arg appending raw text.
func Text(s string) Arg {
	return func(buf *sqlbuf.Buffer) error {
		buf.Append(s)
		return nil
	}
}

// Value returns an Arg appending column index of v.
func Value(v FilterValue, index int) Arg {
	return func(buf *sqlbuf.Buffer) error {
		return v.AppendTo(buf, index)
	}
}
