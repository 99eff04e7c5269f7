package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindValidation, "validation"},
		{KindAuthentication, "authentication"},
		{KindAuthorization, "authorization"},
		{KindNotFound, "not_found"},
		{KindConflict, "conflict"},
		{KindLimitExceeded, "limit_exceeded"},
		{KindBackpressure, "backpressure"},
		{KindTransient, "transient"},
		{KindFatal, "fatal"},
		{KindUnknown, "unknown"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestNewAndError(t *testing.T) {
	err := New(KindValidation, "missing field")
	assert.Equal(t, "validation: missing field", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransient, "db ping failed", cause)
	assert.Equal(t, "transient: db ping failed: connection refused", err.Error())
	assert.Equal(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)
}

func TestWithHint(t *testing.T) {
	err := New(KindAuthorization, "plan does not allow this").WithHint("upgrade to pro")
	assert.Equal(t, "upgrade to pro", err.Hint)
}

func TestKindOfAndIs(t *testing.T) {
	err := New(KindNotFound, "agent not found")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindConflict))

	plain := errors.New("not an apperr")
	assert.Equal(t, KindUnknown, KindOf(plain))
	assert.False(t, Is(plain, KindNotFound))
}

func TestSentinelsCarryExpectedKinds(t *testing.T) {
	assert.Equal(t, KindAuthentication, KindOf(ErrAuthentication))
	assert.Equal(t, KindNotFound, KindOf(ErrAgentNotFound))
	assert.Equal(t, KindNotFound, KindOf(ErrUserNotFound))
	assert.Equal(t, KindNotFound, KindOf(ErrCommandNotFound))
	assert.Equal(t, KindNotFound, KindOf(ErrNotConnected))
	assert.Equal(t, KindBackpressure, KindOf(ErrBackpressure))
}
