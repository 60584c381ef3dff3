//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citategenie/resolution-service/internal/domain"
	"github.com/citategenie/resolution-service/internal/repository"
)

// newTestRecord builds a resolved record ready for the shared tier.
func newTestRecord(lookupKey string) *domain.Record {
	return &domain.Record{
		LookupKey:    lookupKey,
		CitationType: domain.CitationTypeJournal,
		Title:        "A predator's view of animal color patterns",
		Authors:      []string{"Endler"},
		Year:         "1978",
		Journal:      "Evolutionary Biology",
		Volume:       "11",
		Pages:        "319-364",
		DOI:          "10.1007/978-1-4615-6956-5_5",
		Confidence:   0.9,
		Provenance:   "crossref",
	}
}

func TestCitationRepository_SharedTier(t *testing.T) {
	cleanTables(t, "citations")
	ctx := context.Background()
	repo := repository.NewPgCitationRepository(testPool)

	t.Run("upsert and get by alias", func(t *testing.T) {
		record := newTestRecord("endler_1978")
		stored, existed, err := repo.UpsertShared(ctx, record, []string{"endler_et_al_1978"})
		require.NoError(t, err)
		assert.False(t, existed)
		assert.NotEqual(t, uuid.Nil, stored.ID)
		assert.Equal(t, int64(1), stored.LookupCount)

		// Reachable under its own key and under the alias.
		for _, key := range []string{"endler_1978", "endler_et_al_1978"} {
			got, err := repo.GetSharedByKeys(ctx, []string{key})
			require.NoError(t, err, "key %s", key)
			assert.Equal(t, stored.ID, got.ID)
			assert.Equal(t, record.Title, got.Title)
			assert.Equal(t, []string{"Endler"}, got.Authors)
		}
	})

	t.Run("earlier keys win", func(t *testing.T) {
		other := newTestRecord("simonton_1992")
		other.Title = "Leaders of American psychology"
		_, _, err := repo.UpsertShared(ctx, other, nil)
		require.NoError(t, err)

		got, err := repo.GetSharedByKeys(ctx, []string{"simonton_1992", "endler_1978"})
		require.NoError(t, err)
		assert.Equal(t, "simonton_1992", got.LookupKey)
	})

	t.Run("repeat upsert lands on increment path", func(t *testing.T) {
		again := newTestRecord("endler_1978")
		again.ID = uuid.Nil
		stored, existed, err := repo.UpsertShared(ctx, again, nil)
		require.NoError(t, err)
		assert.True(t, existed)
		assert.Equal(t, int64(2), stored.LookupCount)

		var count int
		err = testPool.QueryRow(ctx, "SELECT COUNT(*) FROM citations WHERE lookup_key = 'endler_1978'").Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("concurrent upsert converges on one row", func(t *testing.T) {
		const key = "darwin_1859"
		stored := make([]*domain.Record, 2)

		var wg sync.WaitGroup
		for i := range stored {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				record := newTestRecord(key)
				record.Title = "On the Origin of Species"
				got, _, err := repo.UpsertShared(ctx, record, []string{"darwin_et_al_1859"})
				assert.NoError(t, err)
				stored[i] = got
			}(i)
		}
		wg.Wait()

		require.NotNil(t, stored[0])
		require.NotNil(t, stored[1])
		assert.Equal(t, stored[0].ID, stored[1].ID, "both writers must land on one row")

		got, err := repo.GetSharedByKeys(ctx, []string{key})
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.LookupCount, "the losing writer takes the increment path")

		var count int
		err = testPool.QueryRow(ctx, "SELECT COUNT(*) FROM citations WHERE lookup_key = $1", key).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("hit counter", func(t *testing.T) {
		got, err := repo.GetSharedByKeys(ctx, []string{"endler_1978"})
		require.NoError(t, err)

		require.NoError(t, repo.RecordSharedHit(ctx, got.ID))

		got, err = repo.GetSharedByKeys(ctx, []string{"endler_1978"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.LookupCount)

		assert.ErrorIs(t, repo.RecordSharedHit(ctx, uuid.New()), domain.ErrNotFound)
	})

	t.Run("miss", func(t *testing.T) {
		_, err := repo.GetSharedByKeys(ctx, []string{"nobody_1900"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCitationRepository_UserTier(t *testing.T) {
	cleanTables(t, "citations")
	ctx := context.Background()
	repo := repository.NewPgCitationRepository(testPool)

	record := newTestRecord("endler_1978")
	stored, _, err := repo.UpsertShared(ctx, record, nil)
	require.NoError(t, err)

	const userID = int64(42)

	t.Run("promote then read", func(t *testing.T) {
		_, err := repo.GetUserByKeys(ctx, userID, []string{"endler_1978"})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, repo.PromoteToUser(ctx, userID, stored.ID, stored.LookupKey))
		// Idempotent.
		require.NoError(t, repo.PromoteToUser(ctx, userID, stored.ID, stored.LookupKey))

		got, err := repo.GetUserByKeys(ctx, userID, []string{"endler_1978"})
		require.NoError(t, err)
		assert.Equal(t, stored.ID, got.ID)

		// Another user still misses.
		_, err = repo.GetUserByKeys(ctx, 99, []string{"endler_1978"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("promote missing record", func(t *testing.T) {
		err := repo.PromoteToUser(ctx, userID, uuid.New(), "ghost_1900")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("saved entry applies overrides", func(t *testing.T) {
		err := repo.SaveUserEntry(ctx, &repository.UserEntry{
			UserID:     userID,
			CitationID: stored.ID,
			LookupKey:  stored.LookupKey,
			Overrides:  map[string]string{"year": "1979", "pages": "320-365"},
			EditClass:  domain.EditMinor,
			SavedText:  "Endler, J. A. (1979)...",
		})
		require.NoError(t, err)

		got, err := repo.GetUserByKeys(ctx, userID, []string{"endler_1978"})
		require.NoError(t, err)
		assert.Equal(t, "1979", got.Year)
		assert.Equal(t, "320-365", got.Pages)
		// Non-overridden fields keep the shared values.
		assert.Equal(t, stored.Title, got.Title)
	})
}

func TestCitationRepository_PurgeAndStats(t *testing.T) {
	cleanTables(t, "citations", "lookup_log")
	ctx := context.Background()
	repo := repository.NewPgCitationRepository(testPool)

	first, _, err := repo.UpsertShared(ctx, newTestRecord("endler_1978"), []string{"endler_et_al_1978"})
	require.NoError(t, err)
	require.NoError(t, repo.PromoteToUser(ctx, 42, first.ID, first.LookupKey))

	popular := newTestRecord("simonton_1992")
	popular.Title = "Leaders of American psychology"
	stored, _, err := repo.UpsertShared(ctx, popular, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.RecordSharedHit(ctx, stored.ID))
	}

	t.Run("stats", func(t *testing.T) {
		stats, err := repo.Stats(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.SharedRecords)
		assert.Equal(t, int64(7), stats.TotalLookups)
		assert.Equal(t, int64(1), stats.UserEntries)
		require.NotEmpty(t, stats.TopKeys)
		assert.Equal(t, "simonton_1992", stats.TopKeys[0].LookupKey)
		assert.Equal(t, int64(6), stats.TopKeys[0].Count)
	})

	t.Run("purge cascades through aliases and user entries", func(t *testing.T) {
		deleted, err := repo.PurgeByKey(ctx, "endler_et_al_1978")
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = repo.GetSharedByKeys(ctx, []string{"endler_1978"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = repo.GetUserByKeys(ctx, 42, []string{"endler_1978"})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		var aliases int
		err = testPool.QueryRow(ctx, "SELECT COUNT(*) FROM lookup_aliases WHERE citation_id = $1", first.ID).Scan(&aliases)
		require.NoError(t, err)
		assert.Zero(t, aliases)

		deleted, err = repo.PurgeByKey(ctx, "endler_et_al_1978")
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("lookup log", func(t *testing.T) {
		err := repo.InsertLookupLog(ctx, &repository.LookupLogEntry{
			UserID:     42,
			DocumentID: uuid.New(),
			LookupKey:  "simonton_1992",
			RawText:    "(Simonton, 1992)",
			Tier:       domain.TierShared,
			Provider:   "",
			Outcome:    domain.OutcomeSuccess,
			Cost:       0,
			Latency:    12 * time.Millisecond,
		})
		require.NoError(t, err)

		var rows int
		err = testPool.QueryRow(ctx, "SELECT COUNT(*) FROM lookup_log WHERE lookup_key = 'simonton_1992'").Scan(&rows)
		require.NoError(t, err)
		assert.Equal(t, 1, rows)
	})
}
