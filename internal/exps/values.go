package exps

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cast"

	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
	"github.com/roach88/qexp/internal/sqlbuild"
)

// conversion turns a constant into the stored form of its comparison
// partner. n is the number of columns the partner spans; conv extracts and
// converts the i-th of them.
type conversion struct {
	n    int
	conv func(v any, i int) (any, error)
}

func (c conversion) apply(v any, i int) (any, error) {
	if c.conv == nil {
		return v, nil
	}
	return c.conv(v, i)
}

// converter returns the i-th component conversion as a bind-time converter.
func (c conversion) converter(i int) sqlbuf.Converter {
	if c.conv == nil {
		return nil
	}
	return func(v any) (any, error) { return c.conv(v, i) }
}

// conversionFor derives the conversion a constant compared with other uses.
func conversionFor(ctx *Context, other Val, otherState State) conversion {
	if other == nil {
		return conversion{n: 1}
	}
	switch other.(type) {
	case *Path, *Variable, *ObjectID:
		if ps, ok := otherState.(*pathState); ok {
			return ps.conversion()
		}
	case *TypeVal:
		return conversion{n: 1, conv: discriminatorConv(ctx.Repo)}
	case *Lit, *Param, *Null, *CollectionParam:
		// constants do not convert each other
		return conversion{n: 1}
	}
	code := other.Type().Code
	return conversion{n: 1, conv: func(v any, _ int) (any, error) { return coerce(v, code) }}
}

// coerce converts v to the Go representation of a column of type code.
// nil passes through; values the conversion would lose precision on are
// left alone.
func coerce(v any, code mapping.TypeCode) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch code {
	case mapping.TypeInt, mapping.TypeLong:
		switch v.(type) {
		case float32, float64:
			return v, nil
		}
		return cast.ToInt64E(v)
	case mapping.TypeFloat, mapping.TypeDouble, mapping.TypeDecimal:
		return cast.ToFloat64E(v)
	case mapping.TypeString, mapping.TypeChar:
		return cast.ToStringE(v)
	case mapping.TypeBool:
		return cast.ToBoolE(v)
	case mapping.TypeDate, mapping.TypeTime, mapping.TypeTimestamp:
		if s, ok := v.(string); ok {
			if _, err := cast.ToTimeE(s); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
	return v, nil
}

func enumConv(e *mapping.Enum) func(any, int) (any, error) {
	return func(v any, _ int) (any, error) {
		if v == nil {
			return nil, nil
		}
		if s, ok := v.(string); ok {
			idx := e.OrdinalOf(s)
			if idx < 0 {
				return nil, fmt.Errorf("%q is not a value of enum %s", s, e.Name)
			}
			if e.Ordinal {
				return int64(idx), nil
			}
			return s, nil
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, err
		}
		if n < 0 || n >= len(e.Values) {
			return nil, fmt.Errorf("ordinal %d out of range for enum %s", n, e.Name)
		}
		if e.Ordinal {
			return int64(n), nil
		}
		return e.Values[n], nil
	}
}

// componentConv extracts the i-th named component of a multi-column value:
// an entity given by its key fields, or an embeddable given by its fields.
// Values arrive as maps keyed by name, as slices in column order, or as a
// bare scalar for single-column values.
func componentConv(names []string, types []mapping.TypeCode) func(any, int) (any, error) {
	n := len(types)
	return func(v any, i int) (any, error) {
		if v == nil {
			return nil, nil
		}
		var part any
		switch x := v.(type) {
		case map[string]any:
			p, ok := x[names[i]]
			if !ok {
				return nil, fmt.Errorf("value has no %q component", names[i])
			}
			part = p
		case []any:
			if len(x) != n {
				return nil, fmt.Errorf("value has %d components, want %d", len(x), n)
			}
			part = x[i]
		default:
			if n != 1 {
				return nil, fmt.Errorf("value %v needs %d components", v, n)
			}
			part = v
		}
		return coerce(part, types[i])
	}
}

func discriminatorConv(repo *mapping.Repository) func(any, int) (any, error) {
	return func(v any, _ int) (any, error) {
		name, ok := v.(string)
		if !ok || repo == nil {
			return v, nil
		}
		if cls, err := repo.Class(name); err == nil && cls.DiscriminatorValue != "" {
			return cls.DiscriminatorValue, nil
		}
		return name, nil
	}
}

// toSlice returns the elements of a slice or array value.
func toSlice(v any) ([]any, error) {
	if out, err := cast.ToSliceE(v); err == nil {
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%T is not a collection", v)
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("%T is not a collection", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// typeOfValue infers the static type of a Go literal.
func typeOfValue(v any) mapping.Type {
	switch v.(type) {
	case nil:
		return mapping.Of(mapping.TypeNull)
	case string:
		return mapping.Of(mapping.TypeString)
	case rune:
		return mapping.Of(mapping.TypeInt)
	case int, int8, int16, uint8, uint16:
		return mapping.Of(mapping.TypeInt)
	case int64, uint32, uint64, uint:
		return mapping.Of(mapping.TypeLong)
	case float32:
		return mapping.Of(mapping.TypeFloat)
	case float64:
		return mapping.Of(mapping.TypeDouble)
	case bool:
		return mapping.Of(mapping.TypeBool)
	case time.Time:
		return mapping.Of(mapping.TypeTimestamp)
	case []byte:
		return mapping.Of(mapping.TypeBytes)
	}
	return mapping.Of(mapping.TypeObject)
}

// Lit is a literal value. It is bound as a statement argument, converted
// to the stored form of its comparison partner.
type Lit struct {
	Value any
	typ   mapping.Type
}

type litState struct {
	baseState
	values []any
}

func (l *Lit) Type() mapping.Type { return l.typ }

func (l *Lit) Initialize(*sqlbuild.Select, *Context, Flags) (State, error) {
	return &litState{}, nil
}

func (l *Lit) Calculate(_ *sqlbuild.Select, ctx *Context, st State, other Val, otherState State) error {
	ls, err := stateOf[*litState](st, "literal")
	if err != nil {
		return err
	}
	c := conversionFor(ctx, other, otherState)
	ls.values = make([]any, c.n)
	for i := range ls.values {
		v, err := c.apply(l.Value, i)
		if err != nil {
			return qerr.Wrap(qerr.KindUser, qerr.CodeIncompatibleTypes, fmt.Sprint(l.Value), err,
				"literal cannot be compared with %s", other.Type())
		}
		ls.values[i] = v
	}
	ls.calculated = true
	return nil
}

func (l *Lit) Length(st State) int {
	if ls, ok := st.(*litState); ok && len(ls.values) > 0 {
		return len(ls.values)
	}
	return 1
}

func (l *Lit) AppendTo(_ *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, index int) error {
	ls, err := calculatedState[*litState](st, "literal")
	if err != nil {
		return err
	}
	if l.Value == nil {
		buf.Append("NULL")
		return nil
	}
	buf.AppendValue(ls.values[min(index, len(ls.values)-1)])
	return nil
}

// Param is a named query parameter, bound when the statement executes.
type Param struct {
	Name string
	typ  mapping.Type
}

type paramState struct {
	baseState
	conv conversion
	null bool
}

func (p *Param) Type() mapping.Type { return p.typ }

func (p *Param) Initialize(*sqlbuild.Select, *Context, Flags) (State, error) {
	return &paramState{}, nil
}

func (p *Param) Calculate(_ *sqlbuild.Select, ctx *Context, st State, other Val, otherState State) error {
	ps, err := stateOf[*paramState](st, ":"+p.Name)
	if err != nil {
		return err
	}
	ps.conv = conversionFor(ctx, other, otherState)
	v, ok := ctx.Param(p.Name)
	ps.null = ok && v == nil
	ps.calculated = true
	return nil
}

func (p *Param) Length(st State) int {
	if ps, ok := st.(*paramState); ok && ps.conv.n > 0 {
		return ps.conv.n
	}
	return 1
}

func (p *Param) AppendTo(_ *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, index int) error {
	ps, err := calculatedState[*paramState](st, ":"+p.Name)
	if err != nil {
		return err
	}
	buf.AppendParam(p.Name, ps.conv.converter(index))
	return nil
}

// Null is the NULL literal.
type Null struct{}

func (*Null) Type() mapping.Type { return mapping.Of(mapping.TypeNull) }

func (*Null) Initialize(*sqlbuild.Select, *Context, Flags) (State, error) {
	return &baseState{}, nil
}

func (*Null) Calculate(_ *sqlbuild.Select, _ *Context, st State, _ Val, _ State) error {
	bs, err := stateOf[*baseState](st, "NULL")
	if err != nil {
		return err
	}
	bs.calculated = true
	return nil
}

func (*Null) Length(State) int { return 1 }

func (*Null) AppendTo(_ *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	if _, err := calculatedState[*baseState](st, "NULL"); err != nil {
		return err
	}
	buf.Append("NULL")
	return nil
}

// CollectionParam is a parameter bound to a list of values, usable only as
// the right side of IN. The number of placeholders follows the number of
// values bound, so statements using it depend on parameter values.
type CollectionParam struct {
	Name string
	Elem mapping.Type
}

type collectionState struct {
	baseState
	elems []any
	conv  conversion
}

func (p *CollectionParam) Type() mapping.Type { return mapping.CollectionOf(p.Elem) }

func (p *CollectionParam) Initialize(*sqlbuild.Select, *Context, Flags) (State, error) {
	return &collectionState{}, nil
}

func (p *CollectionParam) Calculate(_ *sqlbuild.Select, ctx *Context, st State, other Val, otherState State) error {
	cs, err := stateOf[*collectionState](st, ":"+p.Name)
	if err != nil {
		return err
	}
	v, ok := ctx.Param(p.Name)
	if !ok {
		return qerr.User(qerr.CodeUnboundParameter, ":"+p.Name, "no value bound for parameter %q", p.Name)
	}
	elems, err := toSlice(v)
	if err != nil {
		return qerr.Wrap(qerr.KindUser, qerr.CodeBadParameter, ":"+p.Name, err, "parameter is not a collection")
	}
	ctx.MarkValueDependent()
	cs.elems = elems
	cs.conv = conversionFor(ctx, other, otherState)
	cs.calculated = true
	return nil
}

// Length is the element count; an IN list writes one placeholder each.
func (p *CollectionParam) Length(st State) int {
	if cs, ok := st.(*collectionState); ok {
		return len(cs.elems)
	}
	return 0
}

func (p *CollectionParam) AppendTo(_ *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, index int) error {
	cs, err := calculatedState[*collectionState](st, ":"+p.Name)
	if err != nil {
		return err
	}
	if index >= len(cs.elems) {
		return qerr.Internal(qerr.CodeBadState, ":"+p.Name, "element %d of %d", index, len(cs.elems))
	}
	buf.AppendConverted(cs.elems[index], cs.conv.converter(0))
	return nil
}
