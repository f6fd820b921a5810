package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateEntry(t *testing.T) {
	t.Run("v1: title from email", func(t *testing.T) {
		e, changed, err := MigrateEntry(Entry{Email: "Mario@Example.com"}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "Octopus Energy Italy (mario@example.com)", e.Title)
	})

	t.Run("v1: existing title kept", func(t *testing.T) {
		old := Entry{Title: "casa", Email: "mario@example.com", AccountNumbers: []string{"A-1"}}
		e, changed, err := MigrateEntry(old, 0)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, old, e)
	})

	t.Run("no change: current version", func(t *testing.T) {
		current := Entry{Email: "mario@example.com", AccountNumbers: []string{"A-1"}}
		e, changed, err := MigrateEntry(current, CurrentEntryVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, current, e)
	})
}
