package qerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := User(CodeUnknownField, "Person.nmae", "unknown field %q", "nmae")
	assert.Equal(t, `Q102: unknown field "nmae" (Person.nmae)`, err.Error())

	err = Unsupported("legacy", "SupportsSubselect")
	assert.Equal(t, `Q201: dialect "legacy" does not support SupportsSubselect (SupportsSubselect)`, err.Error())
}

func TestError_KindsThroughWrapping(t *testing.T) {
	base := Internal(CodeNotCalculated, "path", "value not calculated")
	wrapped := fmt.Errorf("append where: %w", base)

	assert.True(t, IsInternal(wrapped))
	assert.False(t, IsUser(wrapped))
	assert.False(t, IsCapability(wrapped))
	assert.Equal(t, CodeNotCalculated, CodeOf(wrapped))

	assert.True(t, IsCapability(Unsupported("x", "SupportsSubselect")))
	assert.True(t, IsUser(User(CodeIncompatibleTypes, "=", "bad")))
	assert.Equal(t, Code(""), CodeOf(fmt.Errorf("plain")))
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(KindUser, CodeBadParameter, ":age", cause, "cannot convert")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Q106: cannot convert (:age): boom", err.Error())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "user", KindUser.String())
	assert.Equal(t, "capability", KindCapability.String())
	assert.Equal(t, "internal", KindInternal.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
