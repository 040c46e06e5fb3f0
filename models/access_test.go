package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessLevelOrdering(t *testing.T) {
	levels := []AccessLevel{AccessNone, AccessView, AccessCreate, AccessEdit, AccessOwner}
	for i, a := range levels {
		for j, b := range levels {
			assert.Equal(t, i >= j, a.AtLeast(b), "%s >= %s", a, b)
		}
	}
}

func TestParsePermissionType(t *testing.T) {
	for _, s := range []string{"view", "create", "edit"} {
		p, err := ParsePermissionType(s)
		require.NoError(t, err)
		assert.Equal(t, s, p.Level().String())
	}

	_, err := ParsePermissionType("owner")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, AccessNone, PermissionType("admin").Level())
}

func TestAccessLevelMarshalsAsName(t *testing.T) {
	text, err := AccessEdit.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "edit", string(text))
}

func TestQuotaExceededError(t *testing.T) {
	err := &QuotaExceededError{Requested: 150_000, Available: 100_000}
	assert.Contains(t, err.Error(), "146 KiB")
	assert.Contains(t, err.Error(), "98 KiB")
}
