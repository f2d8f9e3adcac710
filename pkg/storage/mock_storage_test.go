package storage_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/TheCrowned/Post-SMTP/pkg/models"
	"github.com/TheCrowned/Post-SMTP/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, n int) (storage.Store, []int64) {
		store := storage.NewMockStore()
		var ids []int64
		for i := 0; i < n; i++ {
			id, err := store.Insert(ctx, models.LogRecord{
				Success:         models.Success(),
				ToHeader:        fmt.Sprintf("user%d@example.com", i),
				OriginalSubject: fmt.Sprintf("Subject %02d", i),
				Time:            int64(1000 + i),
			})
			require.NoError(t, err)
			ids = append(ids, id)
		}
		return store, ids
	}

	t.Run("ListCountsAreConsistent", func(t *testing.T) {
		store, _ := seed(t, 12)
		page, err := store.List(ctx, models.Query{Limit: 5, Offset: 10, Search: "SUBJECT"})
		require.NoError(t, err)
		assert.Equal(t, int64(12), page.Total)
		assert.Equal(t, int64(12), page.Filtered)
		assert.Len(t, page.Rows, 2)

		page, err = store.List(ctx, models.Query{Limit: 5, Offset: 50})
		require.NoError(t, err)
		assert.Empty(t, page.Rows)
		assert.NotNil(t, page.Rows)
	})

	t.Run("ListSearchTreatsWildcardsLiterally", func(t *testing.T) {
		store, _ := seed(t, 3)
		page, err := store.List(ctx, models.Query{Limit: 10, Search: "%"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), page.Filtered)
	})

	t.Run("TruncateKeepsHighestIDs", func(t *testing.T) {
		store, ids := seed(t, 150)
		n, err := store.TruncateKeepLatest(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(50), n)

		rows, err := store.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 100)
		assert.Equal(t, ids[149], rows[0].ID)
		assert.Equal(t, ids[50], rows[99].ID)
	})

	t.Run("MigrateLegacyOnlyCreatesRowsForWritableFields", func(t *testing.T) {
		store := storage.NewMockStore()
		src := storage.NewMemoryLegacySource(map[int64]map[string]string{
			7: {models.FieldOriginalSubject: "Legacy", models.FieldTime: "yesterday"},
			8: {},
		})
		report, err := store.MigrateLegacy(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, models.MigrationReport{Records: 2, Migrated: 1, Failed: 1}, report)

		ok, err := store.Delete(ctx, []int64{models.AllRecords})
		require.NoError(t, err)
		assert.True(t, ok)

		// Only the unparseable time is left, so re-running adds no rows.
		report, err = store.MigrateLegacy(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, models.MigrationReport{Records: 2, Migrated: 0, Failed: 1}, report)
		page, err := store.List(ctx, models.Query{Limit: models.NoLimit})
		require.NoError(t, err)
		assert.Equal(t, int64(0), page.Total)

		// A record whose log row was deleted gets a fresh row for its remaining fields.
		src = storage.NewMemoryLegacySource(map[int64]map[string]string{
			7: {models.FieldTime: "1500000000"},
		})
		report, err = store.MigrateLegacy(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, models.MigrationReport{Records: 1, Migrated: 1, Failed: 0}, report)
		assert.Equal(t, 0, src.Remaining())
		rows, err := store.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1500000000), rows[0].Time)
	})

	t.Run("MigrateLegacyKeepsFieldsItCouldNotWrite", func(t *testing.T) {
		store := storage.NewMockStore()
		src := storage.NewMemoryLegacySource(map[int64]map[string]string{
			7: {models.FieldOriginalSubject: "Legacy", models.FieldSuccess: "1"},
		})
		storage.FailOn(store, "update log", fmt.Errorf("disk full"))
		report, err := store.MigrateLegacy(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, models.MigrationReport{Records: 1, Migrated: 0, Failed: 2}, report)
		assert.Equal(t, 2, src.Remaining())
	})

	t.Run("MigrateLegacyStopsOnCanceledContext", func(t *testing.T) {
		store := storage.NewMockStore()
		src := storage.NewMemoryLegacySource(map[int64]map[string]string{
			7: {models.FieldOriginalSubject: "Legacy"},
		})
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		report, err := store.MigrateLegacy(canceled, src)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, report.Records)
		assert.Equal(t, 1, src.Remaining())
	})

	t.Run("FailOnAndClose", func(t *testing.T) {
		store, ids := seed(t, 1)
		storage.FailOn(store, "get log", fmt.Errorf("boom"))
		_, err := store.GetOne(ctx, ids[0])
		assert.True(t, storage.IsStoreError(err))

		require.NoError(t, store.Close())
		_, err = store.Insert(ctx, models.LogRecord{})
		assert.True(t, storage.IsStoreError(err))
	})
}
