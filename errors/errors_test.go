package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelIdentity(t *testing.T) {
	wrapped := Wrap(ErrNoViewWithName, "resolving ProcTree")
	assert.True(t, Is(wrapped, ErrNoViewWithName))
	assert.False(t, Is(wrapped, ErrAmbiguousViewName))
}

func TestWrapPreservesClassAcrossLayers(t *testing.T) {
	err := Wrap(Wrapf(ErrInvalidArgument, "unknown key %q", "color"), "activating view")
	assert.True(t, Is(err, ErrInvalidArgument))
	assert.Contains(t, err.Error(), "color")
	assert.Contains(t, err.Error(), "activating view")
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []error{
		ErrAmbiguousViewName,
		ErrNoViewWithName,
		ErrInvalidArgument,
		ErrCorruptRecord,
	}
	for _, err := range recoverable {
		assert.True(t, IsRecoverable(err), err.Error())
		assert.True(t, IsRecoverable(Wrap(err, "context")), err.Error())
	}

	fatal := []error{
		ErrConfig,
		ErrInvalidState,
		ErrNotRunning,
		ErrStreamIO,
		ErrPersistenceUnavailable,
	}
	for _, err := range fatal {
		assert.False(t, IsRecoverable(err), err.Error())
	}
}
