package inmem

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/spf13/cast"

	"github.com/roach88/qexp/internal/qerr"
)

// functions are the helpers generated programs call. Every helper follows
// SQL null semantics: a nil operand makes the result nil (unknown), and
// conditions are true, false or nil.
func functions() []expr.Option {
	fns := map[string]func(args ...any) (any, error){
		"sqlTrue":      func(args ...any) (any, error) { return args[0] == true, nil },
		"sqlAnd":       sqlAnd,
		"sqlOr":        sqlOr,
		"sqlNot":       sqlNot,
		"sqlCmp":       sqlCmp,
		"sqlLike":      sqlLike,
		"sqlIn":        sqlIn,
		"sqlMember":    sqlMember,
		"sqlEmpty":     sqlEmpty,
		"sqlSize":      sqlSize,
		"sqlMath":      sqlMath,
		"sqlFunc":      sqlFunc,
		"sqlConcat":    sqlConcat,
		"sqlSubstring": sqlSubstring,
		"sqlLocate":    sqlLocate,
		"sqlTrim":      sqlTrim,
		"sqlCast":      sqlCast,
		"sqlCoalesce":  sqlCoalesce,
		"sqlNullIf":    sqlNullIf,
	}
	opts := make([]expr.Option, 0, len(fns))
	for name, fn := range fns {
		opts = append(opts, expr.Function(name, fn))
	}
	return opts
}

func sqlAnd(args ...any) (any, error) {
	if args[0] == false || args[1] == false {
		return false, nil
	}
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	return true, nil
}

func sqlOr(args ...any) (any, error) {
	if args[0] == true || args[1] == true {
		return true, nil
	}
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	return false, nil
}

func sqlNot(args ...any) (any, error) {
	switch args[0] {
	case nil:
		return nil, nil
	case true:
		return false, nil
	}
	return true, nil
}

func sqlCmp(args ...any) (any, error) {
	op, a, b := args[0].(string), args[1], args[2]
	if a == nil || b == nil {
		return nil, nil
	}
	c, err := compare(a, b)
	if err != nil {
		return nil, err
	}
	switch op {
	case "=":
		return c == 0, nil
	case "<>":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return nil, qerr.Internal(qerr.CodeAbstract, op, "unknown comparison %s", op)
}

// compare orders two non-nil values of compatible kinds.
func compare(a, b any) (int, error) {
	if isNumber(a) && isNumber(b) {
		x, err := cast.ToFloat64E(a)
		if err != nil {
			return 0, err
		}
		y, err := cast.ToFloat64E(b)
		if err != nil {
			return 0, err
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case y:
				return -1, nil
			}
			return 1, nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	}
	return 0, qerr.User(qerr.CodeIncompatibleTypes, fmt.Sprintf("%v", a), "cannot compare %T with %T", a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// likePattern compiles a LIKE pattern with an optional escape character.
func likePattern(pattern, escape string) (*regexp.Regexp, error) {
	esc, _ := utf8.DecodeRuneInString(escape)
	var sb strings.Builder
	sb.WriteString("(?s)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			sb.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case escape != "" && r == esc:
			escaped = true
		case r == '%':
			sb.WriteString(".*")
		case r == '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		return nil, qerr.User(qerr.CodeInvalidQuery, pattern, "LIKE pattern ends with its escape character")
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

func sqlLike(args ...any) (any, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	s, err := cast.ToStringE(args[0])
	if err != nil {
		return nil, err
	}
	pattern, err := cast.ToStringE(args[1])
	if err != nil {
		return nil, err
	}
	re, err := likePattern(pattern, args[2].(string))
	if err != nil {
		return nil, err
	}
	return re.MatchString(s), nil
}

// elements returns the elements of a slice, array or map's values.
func elements(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	case reflect.Map:
		out := make([]any, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out = append(out, iter.Value().Interface())
		}
		return out, nil
	}
	return nil, qerr.User(qerr.CodeBadParameter, fmt.Sprintf("%v", v), "%T is not a collection", v)
}

// contains reports whether v equals an element of elems; nil when it is
// not found but an element is null.
func contains(v any, elems []any) (any, error) {
	unknown := false
	for _, e := range elems {
		if e == nil {
			unknown = true
			continue
		}
		c, err := compare(v, e)
		if err != nil {
			return nil, err
		}
		if c == 0 {
			return true, nil
		}
	}
	if unknown {
		return nil, nil
	}
	return false, nil
}

func sqlIn(args ...any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	elems, err := elements(args[1])
	if err != nil {
		return nil, err
	}
	return contains(args[0], elems)
}

// sqlMember tests membership in a collection field; entity elements are
// matched by their identity field pk.
func sqlMember(args ...any) (any, error) {
	coll, pk, v := args[0], args[1].(string), args[2]
	if v == nil {
		return nil, nil
	}
	elems, err := elements(coll)
	if err != nil {
		return nil, err
	}
	if pk != "" {
		for i, e := range elems {
			if m, ok := e.(map[string]any); ok {
				elems[i] = m[pk]
			}
		}
	}
	found, err := contains(v, elems)
	if err != nil || found == true {
		return found, err
	}
	return false, nil
}

func sqlSize(args ...any) (any, error) {
	elems, err := elements(args[0])
	if err != nil {
		return nil, err
	}
	return len(elems), nil
}

func sqlEmpty(args ...any) (any, error) {
	n, err := sqlSize(args...)
	if err != nil {
		return nil, err
	}
	return n == 0, nil
}

func sqlMath(args ...any) (any, error) {
	op, a, b := args[0].(string), args[1], args[2]
	if a == nil || b == nil {
		return nil, nil
	}
	if !isNumber(a) || !isNumber(b) {
		return nil, qerr.User(qerr.CodeIncompatibleTypes, op, "arithmetic on %T and %T", a, b)
	}
	if isInteger(a) && isInteger(b) {
		x, y := cast.ToInt64(a), cast.ToInt64(b)
		switch op {
		case "+":
			return x + y, nil
		case "-":
			return x - y, nil
		case "*":
			return x * y, nil
		case "/", "MOD":
			if y == 0 {
				return nil, qerr.User(qerr.CodeInvalidQuery, op, "division by zero")
			}
			if op == "/" {
				return x / y, nil
			}
			return x % y, nil
		}
	}
	x, y := cast.ToFloat64(a), cast.ToFloat64(b)
	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/":
		if y == 0 {
			return nil, qerr.User(qerr.CodeInvalidQuery, op, "division by zero")
		}
		return x / y, nil
	case "MOD":
		return math.Mod(x, y), nil
	}
	return nil, qerr.Internal(qerr.CodeAbstract, op, "unknown operator %s", op)
}

func sqlFunc(args ...any) (any, error) {
	name, v := args[0].(string), args[1]
	if v == nil {
		return nil, nil
	}
	switch name {
	case "lower", "upper", "length":
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		switch name {
		case "lower":
			return strings.ToLower(s), nil
		case "upper":
			return strings.ToUpper(s), nil
		}
		return utf8.RuneCountInString(s), nil
	case "abs":
		if isInteger(v) {
			n := cast.ToInt64(v)
			if n < 0 {
				n = -n
			}
			return n, nil
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, err
		}
		return math.Abs(f), nil
	case "sqrt":
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, err
		}
		return math.Sqrt(f), nil
	}
	return nil, qerr.Unsupported(engine, name)
}

func sqlConcat(args ...any) (any, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	a, err := cast.ToStringE(args[0])
	if err != nil {
		return nil, err
	}
	b, err := cast.ToStringE(args[1])
	if err != nil {
		return nil, err
	}
	return a + b, nil
}

// ints converts the optional integer arguments of a string function.
func ints(args []any) ([]int, bool, error) {
	out := make([]int, len(args))
	for i, a := range args {
		if a == nil {
			return nil, false, nil
		}
		n, err := cast.ToIntE(a)
		if err != nil {
			return nil, false, err
		}
		out[i] = n
	}
	return out, true, nil
}

// sqlSubstring is SUBSTRING(s, start[, length]) with 1-based positions.
func sqlSubstring(args ...any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	s, err := cast.ToStringE(args[0])
	if err != nil {
		return nil, err
	}
	n, ok, err := ints(args[1:])
	if err != nil || !ok {
		return nil, err
	}
	r := []rune(s)
	start := max(n[0]-1, 0)
	if start > len(r) {
		return "", nil
	}
	end := len(r)
	if len(n) > 1 {
		end = min(start+max(n[1], 0), len(r))
	}
	return string(r[start:end]), nil
}

// sqlLocate is LOCATE(find, s[, start]): the 1-based position of find in
// s at or after start, 0 when absent.
func sqlLocate(args ...any) (any, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	find, err := cast.ToStringE(args[0])
	if err != nil {
		return nil, err
	}
	s, err := cast.ToStringE(args[1])
	if err != nil {
		return nil, err
	}
	from := 0
	if len(args) > 2 {
		n, ok, err := ints(args[2:])
		if err != nil || !ok {
			return nil, err
		}
		from = max(n[0]-1, 0)
	}
	r := []rune(s)
	if from > len(r) {
		return 0, nil
	}
	i := strings.Index(string(r[from:]), find)
	if i < 0 {
		return 0, nil
	}
	return from + utf8.RuneCountInString(string(r[from:])[:i]) + 1, nil
}

func sqlTrim(args ...any) (any, error) {
	spec := args[0].(string)
	if args[1] == nil {
		return nil, nil
	}
	s, err := cast.ToStringE(args[1])
	if err != nil {
		return nil, err
	}
	char := " "
	if len(args) > 2 {
		if args[2] == nil {
			return nil, nil
		}
		if char, err = cast.ToStringE(args[2]); err != nil {
			return nil, err
		}
	}
	switch spec {
	case "leading":
		return strings.TrimLeft(s, char), nil
	case "trailing":
		return strings.TrimRight(s, char), nil
	}
	return strings.Trim(s, char), nil
}

func sqlCast(args ...any) (any, error) {
	v, to := args[0], args[1].(string)
	if v == nil {
		return nil, nil
	}
	switch to {
	case "string", "char":
		return cast.ToStringE(v)
	case "int", "long":
		return cast.ToInt64E(v)
	case "float", "double", "decimal":
		return cast.ToFloat64E(v)
	case "bool":
		return cast.ToBoolE(v)
	}
	return nil, qerr.Unsupported(engine, "CAST AS "+to)
}

func sqlCoalesce(args ...any) (any, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func sqlNullIf(args ...any) (any, error) {
	eq, err := sqlCmp("=", args[0], args[1])
	if err != nil {
		return nil, err
	}
	if eq == true {
		return nil, nil
	}
	return args[0], nil
}
