// Package sqlbuf provides the SQL text buffer the compiler renders into.
//
// A Buffer never interpolates values into SQL text: every value is a "?"
// placeholder backed by a Slot. A slot holds either a literal value fixed at
// render time or the name of a query parameter resolved when the buffer is
// bound. Late binding is what lets a cached statement template be executed
// again with different parameter values.
package sqlbuf

import (
	"fmt"
	"strings"

	"github.com/roach88/qexp/internal/qerr"
)

// Converter turns a bound parameter value into its datastore form
// (enum to ordinal, entity to key column value, and so on).
type Converter func(any) (any, error)

// Slot is one "?" placeholder.
type Slot struct {
	// Param names the query parameter bound at execution. Empty for
	// literal slots.
	Param string

	// Value is the literal value of a literal slot.
	Value any

	// Convert, if set, is applied to the parameter or literal value.
	Convert Converter

	offset int
}

// IsParam reports whether the slot is resolved from query parameters.
func (s Slot) IsParam() bool {
	return s.Param != ""
}

// Buffer accumulates SQL text and its bind slots.
type Buffer struct {
	sb    strings.Builder
	slots []Slot
}

// New returns a buffer holding s.
func New(s ...string) *Buffer {
	b := &Buffer{}
	for _, part := range s {
		b.sb.WriteString(part)
	}
	return b
}

// Append appends raw SQL text.
func (b *Buffer) Append(s string) *Buffer {
	b.sb.WriteString(s)
	return b
}

// Appendf appends formatted raw SQL text.
func (b *Buffer) Appendf(format string, args ...any) *Buffer {
	fmt.Fprintf(&b.sb, format, args...)
	return b
}

// AppendBuffer appends the text and slots of o.
func (b *Buffer) AppendBuffer(o *Buffer) *Buffer {
	if o == nil {
		return b
	}
	base := b.sb.Len()
	b.sb.WriteString(o.sb.String())
	for _, s := range o.slots {
		s.offset += base
		b.slots = append(b.slots, s)
	}
	return b
}

// AppendValue appends a placeholder bound to a literal value.
func (b *Buffer) AppendValue(v any) *Buffer {
	return b.addSlot(Slot{Value: v})
}

// AppendConverted appends a placeholder bound to a literal value passed
// through conv at bind time.
func (b *Buffer) AppendConverted(v any, conv Converter) *Buffer {
	return b.addSlot(Slot{Value: v, Convert: conv})
}

// AppendParam appends a placeholder bound to the named parameter.
func (b *Buffer) AppendParam(name string, conv Converter) *Buffer {
	return b.addSlot(Slot{Param: name, Convert: conv})
}

func (b *Buffer) addSlot(s Slot) *Buffer {
	s.offset = b.sb.Len()
	b.sb.WriteByte('?')
	b.slots = append(b.slots, s)
	return b
}

// SQL returns the text with placeholders.
func (b *Buffer) SQL() string {
	if b == nil {
		return ""
	}
	return b.sb.String()
}

func (b *Buffer) String() string {
	return b.SQL()
}

// Len returns the text length in bytes.
func (b *Buffer) Len() int {
	return b.sb.Len()
}

// IsEmpty reports whether no text has been appended.
func (b *Buffer) IsEmpty() bool {
	return b == nil || b.sb.Len() == 0
}

// Slots returns the placeholders in text order.
func (b *Buffer) Slots() []Slot {
	return append([]Slot(nil), b.slots...)
}

// Clone returns an independent copy.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	c := &Buffer{slots: append([]Slot(nil), b.slots...)}
	c.sb.WriteString(b.sb.String())
	return c
}

// Bind resolves every slot against params, returning the driver
// arguments in placeholder order.
func (b *Buffer) Bind(params map[string]any) ([]any, error) {
	args := make([]any, 0, len(b.slots))
	for _, s := range b.slots {
		v, err := s.resolve(params)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func (s Slot) resolve(params map[string]any) (any, error) {
	v := s.Value
	if s.Param != "" {
		pv, ok := params[s.Param]
		if !ok {
			return nil, qerr.User(qerr.CodeUnboundParameter, ":"+s.Param, "no value bound for parameter %q", s.Param)
		}
		v = pv
	}
	if s.Convert == nil {
		return v, nil
	}
	cv, err := s.Convert(v)
	if err != nil {
		name := s.Param
		if name == "" {
			name = fmt.Sprint(s.Value)
		} else {
			name = ":" + name
		}
		return nil, qerr.Wrap(qerr.KindUser, qerr.CodeBadParameter, name, err, "cannot convert value %v", v)
	}
	return cv, nil
}

// Inline renders the text with each placeholder replaced by its bound
// value formatted by literal. It is meant for display, never execution.
func (b *Buffer) Inline(params map[string]any, literal func(any) string) (string, error) {
	text := b.sb.String()
	var out strings.Builder
	last := 0
	for _, s := range b.slots {
		v, err := s.resolve(params)
		if err != nil {
			return "", err
		}
		out.WriteString(text[last:s.offset])
		out.WriteString(literal(v))
		last = s.offset + 1
	}
	out.WriteString(text[last:])
	return out.String(), nil
}

// Numbered returns the text with the n-th placeholder written as prefix
// followed by n, counting from 1. Used by dialects with "$1" markers.
func (b *Buffer) Numbered(prefix string) string {
	text := b.sb.String()
	var out strings.Builder
	last := 0
	for i, s := range b.slots {
		out.WriteString(text[last:s.offset])
		fmt.Fprintf(&out, "%s%d", prefix, i+1)
		last = s.offset + 1
	}
	out.WriteString(text[last:])
	return out.String()
}
