package db

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id, crop string, at time.Time) PredictionRecord {
	return PredictionRecord{
		ID: id, Crop: crop, ClassID: 20, Confidence: 1,
		Nitrogen: 90, Phosphorus: 42, Potassium: 43,
		Temperature: 20.8, Humidity: 82, PH: 6.5, Rainfall: 202.9,
		CreatedAt: at,
	}
}

func TestSaveAndRecent(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		crop := "rice"
		if i%2 == 1 {
			crop = "maize"
		}
		require.NoError(t, store.SavePrediction(ctx, record(fmt.Sprintf("p-%d", i), crop, base.Add(time.Duration(i)*time.Minute))))
	}

	recent, err := store.RecentPredictions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "p-4", recent[0].ID)
	assert.Equal(t, "p-2", recent[2].ID)
	assert.Equal(t, "web", recent[0].Source)
	assert.Equal(t, 6.5, recent[0].PH)
	assert.True(t, recent[0].CreatedAt.Equal(base.Add(4*time.Minute)))

	counts, err := store.CountByCrop(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"rice": 3, "maize": 2}, counts)
}

func TestRecentDefaultsLimit(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < DefaultHistoryLimit+5; i++ {
		require.NoError(t, store.SavePrediction(ctx, record(fmt.Sprintf("p-%d", i), "rice", time.Time{})))
	}
	recent, err := store.RecentPredictions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, DefaultHistoryLimit)
}

func TestSaveRejectsBadRecords(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	assert.Error(t, store.SavePrediction(ctx, record("", "rice", time.Now())))
	assert.Error(t, store.SavePrediction(ctx, record("a", " ", time.Now())))

	require.NoError(t, store.SavePrediction(ctx, record("a", "rice", time.Now())))
	assert.Error(t, store.SavePrediction(ctx, record("a", "rice", time.Now())), "duplicate id")

	recent, err := store.RecentPredictions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestHistorySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SavePrediction(context.Background(), record("keep", "jute", time.Now())))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	recent, err := store.RecentPredictions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "jute", recent[0].Crop)
}

func TestClosedStore(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.SavePrediction(context.Background(), record("x", "rice", time.Now())), ErrClosed)
	_, err = store.RecentPredictions(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}
