package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/octoit/octoit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("Entries", func(t *testing.T) {
		entry := types.Entry{
			ID:             "entry-1",
			Email:          "user@example.com",
			AccountNumbers: []string{"A-1"},
			Options:        types.EntryOptions{PublicTariffs: true},
		}
		require.NoError(t, f.SetEntry(ctx, entry, 2))

		got, version, err := f.GetEntry(ctx, "entry-1")
		require.NoError(t, err)
		assert.Equal(t, 2, version)
		assert.Equal(t, entry.AccountNumbers, got.AccountNumbers)

		entries, err := f.ListEntries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 2, entries[0].Version)

		require.NoError(t, f.DeleteEntry(ctx, "entry-1"))
		_, _, err = f.GetEntry(ctx, "entry-1")
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})

	t.Run("EmptyEntryID", func(t *testing.T) {
		_, _, err := f.GetEntry(ctx, "")
		assert.ErrorContains(t, err, "entryID cannot be empty")
	})

	t.Run("PublicProducts", func(t *testing.T) {
		p, err := f.GetPublicProducts(ctx)
		require.NoError(t, err)
		assert.Nil(t, p)

		rate := 0.2
		now := time.Now().Truncate(time.Second).UTC()
		require.NoError(t, f.SetPublicProducts(ctx, types.PublicProducts{
			Products:  []types.PublicProduct{{Code: "GAS-FIX", Fuel: "gas", UnitRate: &rate}},
			FetchedAt: now,
		}))

		p, err = f.GetPublicProducts(ctx)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.True(t, now.Equal(p.FetchedAt))
		assert.Equal(t, "GAS-FIX", p.Products[0].Code)
	})
}
