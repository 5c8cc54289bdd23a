// Package qerr defines the error taxonomy shared by the query compiler.
//
// Three kinds of failure propagate out of initialize/calculate/append:
//   - KindUser: the query itself is wrong (incompatible comparison, unknown
//     field, object id of a non-entity path). Always names the construct.
//   - KindCapability: the selected dialect lacks a feature the query needs.
//     Raised before any SQL is produced, naming the capability.
//   - KindInternal: a broken invariant inside the compiler, such as rendering
//     a value whose state was never calculated. Never expected for valid trees.
//
// There is no local recovery: a query either compiles or it does not.
package qerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	KindUser Kind = iota
	KindCapability
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindCapability:
		return "capability"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Code identifies the error category within a Kind.
type Code string

const (
	// CodeIncompatibleTypes indicates neither operand converts to the other.
	CodeIncompatibleTypes Code = "Q101"

	// CodeUnknownField indicates a path names a field the class does not have.
	CodeUnknownField Code = "Q102"

	// CodeInvalidPath indicates navigation through a field that cannot be traversed.
	CodeInvalidPath Code = "Q103"

	// CodeNotEntity indicates an entity-only operation on a non-entity value.
	CodeNotEntity Code = "Q104"

	// CodeUnboundParameter indicates a parameter with no bound value.
	CodeUnboundParameter Code = "Q105"

	// CodeBadParameter indicates a parameter value that cannot be converted.
	CodeBadParameter Code = "Q106"

	// CodeUnboundVariable indicates a variable used before it was bound.
	CodeUnboundVariable Code = "Q107"

	// CodeUnknownClass indicates a class name missing from the mapping.
	CodeUnknownClass Code = "Q108"

	// CodeInvalidQuery indicates a structurally invalid query.
	CodeInvalidQuery Code = "Q109"

	// CodeUnknownDialect indicates a dialect name with no definition.
	CodeUnknownDialect Code = "Q110"

	// CodeUnsupported indicates a dialect capability gap.
	CodeUnsupported Code = "Q201"

	// CodeBadTemplate indicates a dialect template missing placeholders.
	CodeBadTemplate Code = "Q202"

	// CodeNotCalculated indicates rendering before calculateValue.
	CodeNotCalculated Code = "Q901"

	// CodeAbstract indicates an operation the node kind does not implement.
	CodeAbstract Code = "Q902"

	// CodeBadState indicates a state of the wrong shape for the node.
	CodeBadState Code = "Q903"
)

// Error is the single error type of the compiler.
type Error struct {
	Kind Kind

	// Code identifies the error category.
	Code Code

	// Construct names the offending query construct (field, operator,
	// capability name), if any.
	Construct string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Construct != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Construct)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// User creates a KindUser error.
func User(code Code, construct, format string, args ...any) *Error {
	return &Error{Kind: KindUser, Code: code, Construct: construct, Message: fmt.Sprintf(format, args...)}
}

// Unsupported creates a KindCapability error for the named capability.
func Unsupported(dialect, capability string) *Error {
	return &Error{
		Kind:      KindCapability,
		Code:      CodeUnsupported,
		Construct: capability,
		Message:   fmt.Sprintf("dialect %q does not support %s", dialect, capability),
	}
}

// Internal creates a KindInternal error.
func Internal(code Code, construct, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Code: code, Construct: construct, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind and code.
func Wrap(kind Kind, code Code, construct string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Construct: construct, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsUser reports whether err is (or wraps) a KindUser error.
func IsUser(err error) bool {
	return hasKind(err, KindUser)
}

// IsCapability reports whether err is (or wraps) a KindCapability error.
func IsCapability(err error) bool {
	return hasKind(err, KindCapability)
}

// IsInternal reports whether err is (or wraps) a KindInternal error.
func IsInternal(err error) bool {
	return hasKind(err, KindInternal)
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

func hasKind(err error, kind Kind) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind == kind
	}
	return false
}
