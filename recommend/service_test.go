package recommend

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"croprec/crop"
	"croprec/db"
	"croprec/monitoring"
	"croprec/pipeline"
	"croprec/testutil"
)

type memHistory struct {
	mu      sync.Mutex
	records []db.PredictionRecord
	fail    error
}

func (h *memHistory) SavePrediction(_ context.Context, rec db.PredictionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *memHistory) RecentPredictions(_ context.Context, limit int) ([]db.PredictionRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]db.PredictionRecord, 0, limit)
	for i := len(h.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.records[i])
	}
	return out, nil
}

func (h *memHistory) CountByCrop(context.Context) (map[string]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := make(map[string]int)
	for _, r := range h.records {
		counts[r.Crop]++
	}
	return counts, nil
}

type feedRecorder struct {
	types []monitoring.MessageType
	data  []any
}

func (f *feedRecorder) Publish(t monitoring.MessageType, data any) error {
	f.types = append(f.types, t)
	f.data = append(f.data, data)
	return nil
}

type images map[string]string

func (m images) Lookup(name string) (string, bool) {
	url, ok := m[crop.Normalize(name)]
	return url, ok
}

func TestRecommendRice(t *testing.T) {
	history := &memHistory{}
	feed := &feedRecorder{}
	stats := monitoring.NewStats(nil)
	svc := NewService(Deps{
		Pipeline: pipeline.New(testutil.Artifacts(t)),
		History:  history,
		Feed:     feed,
		Images:   images{"rice": "/images/rice.jpg"},
		Stats:    stats,
	})

	rec, err := svc.Recommend(context.Background(), testutil.RiceReadings, SourceWeb)
	require.NoError(t, err)
	assert.Equal(t, "rice", rec.Crop)
	assert.Equal(t, "Recommended Crop: RICE", rec.Headline)
	assert.Equal(t, "Rice", rec.Caption)
	assert.Equal(t, "/images/rice.jpg", rec.ImageURL)
	require.NotNil(t, rec.Advice)
	assert.Equal(t, crop.CategoryWater, rec.Advice.Category)
	assert.NotEmpty(t, rec.ID)

	require.Len(t, history.records, 1)
	assert.Equal(t, rec.ID, history.records[0].ID)
	assert.Equal(t, 202.9, history.records[0].Rainfall)
	assert.Equal(t, SourceWeb, history.records[0].Source)

	require.Len(t, feed.types, 1)
	assert.Equal(t, monitoring.PredictionEvent, feed.types[0])
	assert.Same(t, rec, feed.data[0])

	assert.Equal(t, int64(1), stats.Snapshot().Predictions)

	past, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, past, 1)

	counts, err := svc.CropCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"rice": 1}, counts)
}

func TestRecommendWithoutImageOrAdvice(t *testing.T) {
	svc := NewService(Deps{Pipeline: pipeline.New(testutil.Artifacts(t))})

	// a typical apple row: cool, very high P and K
	r := pipeline.Readings{Nitrogen: 21, Phosphorus: 134, Potassium: 199, Temperature: 22.6, Humidity: 92.3, PH: 5.9, Rainfall: 112.6}
	rec, err := svc.Recommend(context.Background(), r, SourceAPI)
	require.NoError(t, err)
	assert.Empty(t, rec.ImageURL)
	if _, ok := crop.AdviceFor(rec.Crop); !ok {
		assert.Nil(t, rec.Advice)
	}

	past, err := svc.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, past)

	counts, err := svc.CropCounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestHistoryFailureDoesNotFailPrediction(t *testing.T) {
	stats := monitoring.NewStats(nil)
	svc := NewService(Deps{
		Pipeline: pipeline.New(testutil.Artifacts(t)),
		History:  &memHistory{fail: errors.New("disk full")},
		Stats:    stats,
	})

	rec, err := svc.Recommend(context.Background(), testutil.RiceReadings, SourceWeb)
	require.NoError(t, err)
	assert.Equal(t, "rice", rec.Crop)
	assert.Equal(t, int64(1), stats.Snapshot().HistoryFailures)
}

func TestFailuresAreCountedAndNotRecorded(t *testing.T) {
	history := &memHistory{}
	feed := &feedRecorder{}
	stats := monitoring.NewStats(nil)
	svc := NewService(Deps{
		Pipeline: pipeline.New(testutil.Artifacts(t)),
		History:  history,
		Feed:     feed,
		Stats:    stats,
	})

	bad := testutil.RiceReadings
	bad.Humidity = 120
	_, err := svc.Recommend(context.Background(), bad, SourceWeb)
	assert.ErrorIs(t, err, pipeline.ErrPrediction)

	_, err = svc.Recommend(context.Background(), testutil.RiceReadings, SourceWeb)
	require.NoError(t, err)

	assert.Len(t, history.records, 1)
	assert.Len(t, feed.types, 1)
	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.ValidationFailures)
	assert.Equal(t, int64(1), snap.Predictions)
}

func TestDisabledService(t *testing.T) {
	svc := NewService(Deps{})
	assert.False(t, svc.Ready())
	assert.ErrorIs(t, svc.LoadError(), pipeline.ErrArtifactLoad)

	_, err := svc.Recommend(context.Background(), testutil.RiceReadings, SourceCLI)
	assert.ErrorIs(t, err, pipeline.ErrArtifactLoad)
	assert.Equal(t, int64(1), svc.Stats().Unavailable)
	assert.Len(t, svc.Fields(), 7)
}
