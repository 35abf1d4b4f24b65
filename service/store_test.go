package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/bobby854854854/LexiSense/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContract(id, tenant string, created time.Time) *model.Contract {
	return &model.Contract{
		ID:               id,
		OrganizationID:   tenant,
		UploadedByUserID: "u1",
		Name:             id + ".pdf",
		StorageKey:       "contracts/" + tenant + "/" + id + ".pdf",
		MIMEType:         MIMETypePDF,
		SizeBytes:        42,
		Status:           model.StatusProcessing,
		CreatedAt:        created.UTC(),
		UpdatedAt:        created.UTC(),
	}
}

func newSQLiteStore(t *testing.T) *SQLContractStore {
	t.Helper()
	store, err := OpenSQLContractStore(context.Background(), &config.StoreConfig{
		Driver: "sqlite",
		DSN:    "file::memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// contractStores runs fn against every ContractStore implementation.
func contractStores(t *testing.T, fn func(t *testing.T, store ContractStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryContractStore(0)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func TestContractStoreCreateAndGet(t *testing.T) {
	contractStores(t, func(t *testing.T, store ContractStore) {
		ctx := context.Background()
		c := newContract("c1", "org-1", time.Now())
		require.NoError(t, store.Create(ctx, c))

		got, err := store.Get(ctx, "org-1", "c1")
		require.NoError(t, err)
		assert.Equal(t, "c1.pdf", got.Name)
		assert.Equal(t, model.StatusProcessing, got.Status)
		assert.Equal(t, int64(42), got.SizeBytes)
		assert.Nil(t, got.AnalysisResults)
		assert.Nil(t, got.AnalysisError)
		assert.WithinDuration(t, c.CreatedAt, got.CreatedAt, time.Microsecond)

		_, err = store.Get(ctx, "org-2", "c1")
		assert.ErrorIs(t, err, ErrNotFound, "foreign tenant must not see the record")

		_, err = store.Get(ctx, "org-1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		byID, err := store.GetByID(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "org-1", byID.OrganizationID)

		assert.Error(t, store.Create(ctx, c), "duplicate id")
	})
}

func TestContractStoreListNewestFirst(t *testing.T) {
	contractStores(t, func(t *testing.T, store ContractStore) {
		ctx := context.Background()
		base := time.Now().Add(-time.Hour)
		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, store.Create(ctx, newContract(id, "org-1", base.Add(time.Duration(i)*time.Minute))))
		}
		require.NoError(t, store.Create(ctx, newContract("x", "org-2", base)))

		list, err := store.List(ctx, "org-1")
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "c", list[0].ID)
		assert.Equal(t, "a", list[2].ID)

		empty, err := store.List(ctx, "org-3")
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})
}

func TestContractStoreMarkActive(t *testing.T) {
	contractStores(t, func(t *testing.T, store ContractStore) {
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, newContract("c1", "org-1", time.Now().Add(-time.Minute))))

		summary := "Services agreement"
		effective := "2024-03-01"
		result := model.EmptyAnalysisResult()
		result.Summary = &summary
		result.EffectiveDate = &effective
		result.RiskLevel = model.RiskMedium
		result.Parties = []model.Party{{Name: "Acme", Role: "Vendor"}}

		require.NoError(t, store.MarkActive(ctx, "c1", result))

		got, err := store.Get(ctx, "org-1", "c1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusActive, got.Status)
		require.NotNil(t, got.AnalysisResults)
		assert.Equal(t, "Services agreement", *got.AnalysisResults.Summary)
		assert.Equal(t, []model.Party{{Name: "Acme", Role: "Vendor"}}, got.AnalysisResults.Parties)
		require.NotNil(t, got.RiskLevel)
		assert.Equal(t, "medium", *got.RiskLevel)
		require.NotNil(t, got.EffectiveDate)
		assert.Equal(t, effective, got.EffectiveDate.Format(model.DateLayout))
		assert.Nil(t, got.AnalysisError)
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))

		// second terminal write is rejected
		assert.ErrorIs(t, store.MarkFailed(ctx, "c1", "analysis failed: late"), ErrNotProcessing)
		assert.ErrorIs(t, store.MarkActive(ctx, "c1", result), ErrNotProcessing)
		assert.ErrorIs(t, store.MarkActive(ctx, "missing", result), ErrNotFound)
	})
}

func TestContractStoreMarkFailed(t *testing.T) {
	contractStores(t, func(t *testing.T, store ContractStore) {
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, newContract("c1", "org-1", time.Now())))

		require.NoError(t, store.MarkFailed(ctx, "c1", "analysis failed: empty completion"))

		got, err := store.Get(ctx, "org-1", "c1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailed, got.Status)
		assert.Nil(t, got.AnalysisResults)
		require.NotNil(t, got.AnalysisError)
		assert.Equal(t, "analysis failed: empty completion", *got.AnalysisError)

		assert.ErrorIs(t, store.MarkActive(ctx, "c1", model.EmptyAnalysisResult()), ErrNotProcessing)
	})
}

func TestContractStoreConcurrentTerminalWrites(t *testing.T) {
	contractStores(t, func(t *testing.T, store ContractStore) {
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, newContract("c1", "org-1", time.Now())))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					err = store.MarkActive(ctx, "c1", model.EmptyAnalysisResult())
				} else {
					err = store.MarkFailed(ctx, "c1", fmt.Sprintf("analysis failed: %d", i))
				}
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !errors.Is(err, ErrNotProcessing) {
					t.Errorf("unexpected error %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, wins, "exactly one terminal write must win")
	})
}

func TestContractStoreListProcessing(t *testing.T) {
	contractStores(t, func(t *testing.T, store ContractStore) {
		ctx := context.Background()
		now := time.Now()
		require.NoError(t, store.Create(ctx, newContract("old", "org-1", now.Add(-2*time.Hour))))
		require.NoError(t, store.Create(ctx, newContract("older", "org-2", now.Add(-3*time.Hour))))
		require.NoError(t, store.Create(ctx, newContract("fresh", "org-1", now)))
		require.NoError(t, store.Create(ctx, newContract("done", "org-1", now.Add(-4*time.Hour))))
		require.NoError(t, store.MarkFailed(ctx, "done", "analysis failed: x"))

		stale, err := store.ListProcessing(ctx, now.Add(-time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, stale, 2)
		assert.Equal(t, "older", stale[0].ID)
		assert.Equal(t, "old", stale[1].ID)

		limited, err := store.ListProcessing(ctx, now.Add(-time.Hour), 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func TestContractStoreDelete(t *testing.T) {
	contractStores(t, func(t *testing.T, store ContractStore) {
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, newContract("c1", "org-1", time.Now())))

		assert.ErrorIs(t, store.Delete(ctx, "org-2", "c1"), ErrNotFound)
		require.NoError(t, store.Delete(ctx, "org-1", "c1"))
		assert.ErrorIs(t, store.Delete(ctx, "org-1", "c1"), ErrNotFound)

		_, err := store.Get(ctx, "org-1", "c1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryContractStoreReturnsCopies(t *testing.T) {
	store := NewMemoryContractStore(0)
	ctx := context.Background()
	c := newContract("c1", "org-1", time.Now())
	require.NoError(t, store.Create(ctx, c))

	c.Name = "mutated"
	got, _ := store.Get(ctx, "org-1", "c1")
	assert.Equal(t, "c1.pdf", got.Name)

	got.Status = model.StatusFailed
	again, _ := store.Get(ctx, "org-1", "c1")
	assert.Equal(t, model.StatusProcessing, again.Status)
}

func TestMemoryContractStoreAutoCleanup(t *testing.T) {
	store := NewMemoryContractStore(3)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		c := newContract(string(rune('a'+i)), "org-1", base.Add(time.Duration(i)*time.Second))
		c.Status = model.StatusActive
		require.NoError(t, store.Create(ctx, c))
	}

	assert.Equal(t, 3, store.Count())
	_, err := store.GetByID(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound, "oldest contract should be evicted")
	_, err = store.GetByID(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryContractStoreEvictionDeletesBlobs(t *testing.T) {
	store := NewMemoryContractStore(1)
	blobs := NewMemoryBlobStore()
	store.OnEvict(DeleteEvictedBlobs(blobs))
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 2; i++ {
		c := newContract(string(rune('a'+i)), "org-1", base.Add(time.Duration(i)*time.Second))
		c.Status = model.StatusActive
		require.NoError(t, blobs.Put(ctx, c.StorageKey, []byte("%PDF-1.4"), MIMETypePDF, nil))
		require.NoError(t, store.Create(ctx, c))
	}

	assert.Equal(t, 1, store.Count())
	ok, err := blobs.Exists(ctx, "contracts/org-1/a.pdf")
	require.NoError(t, err)
	assert.False(t, ok, "evicted contract's blob should be removed")
	ok, _ = blobs.Exists(ctx, "contracts/org-1/b.pdf")
	assert.True(t, ok)
}

func TestMemoryContractStoreKeepsProcessing(t *testing.T) {
	store := NewMemoryContractStore(2)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Create(ctx, newContract(string(rune('a'+i)), "org-1", base.Add(time.Duration(i)*time.Second))))
	}

	assert.Equal(t, 4, store.Count(), "processing contracts are never evicted")
}

func TestNewContractStore(t *testing.T) {
	store, err := NewContractStore(context.Background(), &config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryContractStore{}, store)

	_, err = NewContractStore(context.Background(), &config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}
