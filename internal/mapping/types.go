package mapping

import (
	"fmt"
	"strings"
)

// TypeCode is the static type category of a mapped value.
type TypeCode int

const (
	TypeUnknown TypeCode = iota
	TypeString
	TypeChar
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeDecimal
	TypeBool
	TypeDate
	TypeTime
	TypeTimestamp
	TypeEnum
	TypeBytes
	TypeEntity
	TypeEmbeddable
	TypeCollection
	TypeMap
	TypeNull
	TypeObject
)

var typeNames = map[TypeCode]string{
	TypeUnknown:    "unknown",
	TypeString:     "string",
	TypeChar:       "char",
	TypeInt:        "int",
	TypeLong:       "long",
	TypeFloat:      "float",
	TypeDouble:     "double",
	TypeDecimal:    "decimal",
	TypeBool:       "bool",
	TypeDate:       "date",
	TypeTime:       "time",
	TypeTimestamp:  "timestamp",
	TypeEnum:       "enum",
	TypeBytes:      "bytes",
	TypeEntity:     "entity",
	TypeEmbeddable: "embeddable",
	TypeCollection: "collection",
	TypeMap:        "map",
	TypeNull:       "null",
	TypeObject:     "object",
}

func (c TypeCode) String() string {
	if s, ok := typeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("TypeCode(%d)", int(c))
}

// ParseTypeCode maps a scalar type name used in mapping files to its code.
// Only scalar names are accepted; entity, collection and map types are
// declared with their own field keys.
func ParseTypeCode(name string) (TypeCode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string", "text":
		return TypeString, nil
	case "char":
		return TypeChar, nil
	case "int", "integer", "short":
		return TypeInt, nil
	case "long", "bigint":
		return TypeLong, nil
	case "float":
		return TypeFloat, nil
	case "double":
		return TypeDouble, nil
	case "decimal", "numeric":
		return TypeDecimal, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "date":
		return TypeDate, nil
	case "time":
		return TypeTime, nil
	case "timestamp", "datetime":
		return TypeTimestamp, nil
	case "bytes", "blob":
		return TypeBytes, nil
	}
	return TypeUnknown, fmt.Errorf("unknown scalar type %q", name)
}

// IsNumeric reports whether values of this code take part in arithmetic.
func (c TypeCode) IsNumeric() bool {
	switch c {
	case TypeInt, TypeLong, TypeFloat, TypeDouble, TypeDecimal:
		return true
	}
	return false
}

// IsTemporal reports whether the code is a date/time type.
func (c TypeCode) IsTemporal() bool {
	return c == TypeDate || c == TypeTime || c == TypeTimestamp
}

// IsStringLike reports whether the code compares as character data.
func (c TypeCode) IsStringLike() bool {
	return c == TypeString || c == TypeChar
}

// Type is the static type of a value: a code plus the class name for
// entity, embeddable and enum types, and the element type of collections
// and maps.
type Type struct {
	Code  TypeCode
	Class string
	Elem  *Type
}

// Of returns the scalar type for a code.
func Of(code TypeCode) Type {
	return Type{Code: code}
}

// EntityOf returns the entity type of the named class.
func EntityOf(class string) Type {
	return Type{Code: TypeEntity, Class: class}
}

// CollectionOf returns a collection type with the given element type.
func CollectionOf(elem Type) Type {
	return Type{Code: TypeCollection, Elem: &elem}
}

// IsUnknown reports whether the type is not statically known.
func (t Type) IsUnknown() bool {
	return t.Code == TypeUnknown || t.Code == TypeObject
}

// IsEntity reports whether values of the type are entity instances.
func (t Type) IsEntity() bool {
	return t.Code == TypeEntity
}

func (t Type) String() string {
	switch t.Code {
	case TypeEntity, TypeEmbeddable, TypeEnum:
		if t.Class != "" {
			return t.Code.String() + "<" + t.Class + ">"
		}
	case TypeCollection, TypeMap:
		if t.Elem != nil {
			return t.Code.String() + "<" + t.Elem.String() + ">"
		}
	}
	return t.Code.String()
}

// Promote returns the numeric type arithmetic over a and b produces.
func Promote(a, b TypeCode) TypeCode {
	rank := func(c TypeCode) int {
		switch c {
		case TypeInt:
			return 1
		case TypeLong:
			return 2
		case TypeFloat:
			return 3
		case TypeDouble:
			return 4
		case TypeDecimal:
			return 5
		}
		return 0
	}
	if rank(a) >= rank(b) {
		if rank(a) == 0 {
			return TypeUnknown
		}
		return a
	}
	return b
}

// Comparable reports whether a value of type a can be compared to a value
// of type b, allowing for conversion in either direction. Unknown types
// (parameters, untyped nulls) compare with anything; the check is repeated
// against actual values when they are bound.
func Comparable(a, b Type) bool {
	if a.IsUnknown() || b.IsUnknown() || a.Code == TypeNull || b.Code == TypeNull {
		return true
	}
	switch {
	case a.Code.IsNumeric() && b.Code.IsNumeric():
		return true
	case a.Code.IsStringLike() && b.Code.IsStringLike():
		return true
	case a.Code.IsTemporal() && b.Code.IsTemporal():
		return true
	case a.Code == TypeEnum || b.Code == TypeEnum:
		return enumComparable(a, b)
	case a.Code == TypeEntity && b.Code == TypeEntity:
		return true
	}
	return a.Code == b.Code
}

func enumComparable(a, b Type) bool {
	if a.Code == TypeEnum && b.Code == TypeEnum {
		return a.Class == b.Class || a.Class == "" || b.Class == ""
	}
	other := b
	if b.Code == TypeEnum {
		other = a
	}
	return other.Code.IsStringLike() || other.Code == TypeInt || other.Code == TypeLong
}
