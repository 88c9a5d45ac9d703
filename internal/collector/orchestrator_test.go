package collector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwatch/satveg-collector/internal/collector"
	"github.com/fernwatch/satveg-collector/internal/domain"
	"github.com/fernwatch/satveg-collector/internal/observability"
)

// freezeJune pins the clock so the current month is 2024-06.
func freezeJune(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func newCollector(img collector.Imagery, wh collector.Warehouse) *collector.Collector {
	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	planner := collector.NewPlanner(wh, logger)
	agg := collector.NewAggregator(img, 3, logger, metrics)
	return collector.New(planner, agg, wh, 5000, logger, metrics)
}

func TestCollect_GapFill(t *testing.T) {
	freezeJune(t)

	img := &mockImagery{
		scenes: []collector.ImageRef{scene("s2-a", 3, 5), scene("s2-b", 12, 8), scene("s2-c", 21, 6)},
		ndvi:   map[string]float64{"s2-a": 0.62, "s2-b": 0.58, "s2-c": 0.65},
	}
	wh := &mockWarehouse{latest: month(t, "2024-03"), found: true}
	c := newCollector(img, wh)

	outcome, err := c.Collect(context.Background(), "Tempelhofer Feld", 52.4736, 13.4018)
	require.NoError(t, err)

	assert.Equal(t, "52.474_13.402", outcome.RegionID)
	assert.Equal(t, collector.PlanGapFill, outcome.Mode)
	assert.Equal(t, 3, outcome.MonthsPlanned)
	assert.Equal(t, 3, outcome.MonthsFilled)
	assert.False(t, outcome.UpToDate)

	// One search per planned gap month, independent of outcome.
	require.Len(t, img.searchCalls, 3)
	assert.Equal(t, "2024-04-01", img.searchCalls[0].from.Format("2006-01-02"))
	assert.Equal(t, "2024-05-01", img.searchCalls[1].from.Format("2006-01-02"))
	assert.Equal(t, "2024-06-01", img.searchCalls[2].from.Format("2006-01-02"))

	// One batched append with fully tagged records.
	require.Len(t, wh.appended, 1)
	batch := wh.appended[0]
	require.Len(t, batch, 3)
	for i, obs := range batch {
		assert.Equal(t, "52.474_13.402", obs.RegionID)
		assert.Equal(t, "Tempelhofer Feld", obs.RegionName)
		assert.Equal(t, 52.4736, obs.Latitude)
		assert.Equal(t, 13.4018, obs.Longitude)
		assert.Equal(t, domain.CollectionGapFill, obs.CollectionType)
		assert.False(t, obs.ProcessedAt.IsZero())
		assert.GreaterOrEqual(t, obs.ImageCount, 1)
		if i > 0 {
			assert.True(t, batch[i-1].Month.Before(obs.Month), "batch is chronological")
		}
	}
	assert.Equal(t, "2024-04", batch[0].Month.String())
	assert.Equal(t, "2024-06", batch[2].Month.String())
}

func TestCollect_BootstrapTagsRecords(t *testing.T) {
	freezeJune(t)

	img := &mockImagery{
		scenes: []collector.ImageRef{scene("s2-a", 3, 5)},
		ndvi:   map[string]float64{"s2-a": 0.45},
	}
	wh := &mockWarehouse{found: false}
	c := newCollector(img, wh)

	outcome, err := c.Collect(context.Background(), "Home", 52.52, 13.405)
	require.NoError(t, err)

	assert.Equal(t, collector.PlanBootstrap, outcome.Mode)
	assert.Equal(t, collector.BootstrapMonths, outcome.MonthsPlanned)
	assert.Equal(t, collector.BootstrapMonths, outcome.MonthsFilled)

	require.Len(t, wh.appended, 1)
	for _, obs := range wh.appended[0] {
		assert.Equal(t, domain.CollectionBootstrap, obs.CollectionType)
	}
	assert.Equal(t, "2024-01", wh.appended[0][0].Month.String())
	assert.Equal(t, "2024-06", wh.appended[0][collector.BootstrapMonths-1].Month.String())
}

func TestCollect_UpToDateIsNoOp(t *testing.T) {
	freezeJune(t)

	img := &mockImagery{}
	wh := &mockWarehouse{latest: month(t, "2024-06"), found: true}
	c := newCollector(img, wh)

	outcome, err := c.Collect(context.Background(), "Home", 52.52, 13.405)
	require.NoError(t, err)

	assert.True(t, outcome.UpToDate)
	assert.Zero(t, outcome.MonthsPlanned)
	assert.Empty(t, img.searchCalls, "no imagery calls when up to date")
	assert.Empty(t, wh.appended)
}

func TestCollect_PartialMonthsStillAppend(t *testing.T) {
	freezeJune(t)

	// Only May has imagery; April and June stay open.
	img := &mockImagery{
		scenes: []collector.ImageRef{scene("s2-may", 12, 8)},
		ndvi:   map[string]float64{"s2-may": 0.5},
	}
	wh := &mockWarehouse{latest: month(t, "2024-03"), found: true}
	c := newCollector(&monthFilteredImagery{inner: img, allowed: "2024-05"}, wh)

	outcome, err := c.Collect(context.Background(), "Home", 52.52, 13.405)
	require.NoError(t, err)

	assert.Equal(t, 3, outcome.MonthsPlanned)
	assert.Equal(t, 1, outcome.MonthsFilled)
	require.Len(t, wh.appended, 1)
	require.Len(t, wh.appended[0], 1)
	assert.Equal(t, "2024-05", wh.appended[0][0].Month.String())
}

func TestCollect_AllMonthsEmptyReturnsErrNoData(t *testing.T) {
	freezeJune(t)

	img := &mockImagery{} // no scenes anywhere
	wh := &mockWarehouse{latest: month(t, "2024-03"), found: true}
	c := newCollector(img, wh)

	outcome, err := c.Collect(context.Background(), "Home", 52.52, 13.405)
	require.ErrorIs(t, err, collector.ErrNoData)

	assert.Equal(t, 3, outcome.MonthsPlanned)
	assert.Zero(t, outcome.MonthsFilled)
	assert.Contains(t, outcome.Summary, "no data collected")
	assert.Empty(t, wh.appended, "nothing written when every month is empty")
}

func TestCollect_StorageFailureIsDistinctFromNoData(t *testing.T) {
	freezeJune(t)

	img := &mockImagery{
		scenes: []collector.ImageRef{scene("s2-a", 3, 5)},
		ndvi:   map[string]float64{"s2-a": 0.45},
	}
	wh := &mockWarehouse{latest: month(t, "2024-05"), found: true, appendErr: errors.New("insert failed")}
	c := newCollector(img, wh)

	outcome, err := c.Collect(context.Background(), "Home", 52.52, 13.405)
	require.Error(t, err)
	assert.NotErrorIs(t, err, collector.ErrNoData)
	assert.ErrorContains(t, err, "append batch")
	assert.Contains(t, outcome.Summary, "storage")
}

func TestCollectSatelliteData_Boolean(t *testing.T) {
	freezeJune(t)

	t.Run("success", func(t *testing.T) {
		img := &mockImagery{
			scenes: []collector.ImageRef{scene("s2-a", 3, 5)},
			ndvi:   map[string]float64{"s2-a": 0.45},
		}
		wh := &mockWarehouse{latest: month(t, "2024-05"), found: true}
		assert.True(t, newCollector(img, wh).CollectSatelliteData(context.Background(), "Home", 52.52, 13.405))
	})

	t.Run("up to date", func(t *testing.T) {
		wh := &mockWarehouse{latest: month(t, "2024-06"), found: true}
		assert.True(t, newCollector(&mockImagery{}, wh).CollectSatelliteData(context.Background(), "Home", 52.52, 13.405))
	})

	t.Run("no data", func(t *testing.T) {
		wh := &mockWarehouse{latest: month(t, "2024-05"), found: true}
		assert.False(t, newCollector(&mockImagery{}, wh).CollectSatelliteData(context.Background(), "Home", 52.52, 13.405))
	})
}

// monthFilteredImagery only returns scenes for the allowed month.
type monthFilteredImagery struct {
	inner   *mockImagery
	allowed string
}

func (m *monthFilteredImagery) SearchScenes(ctx context.Context, b domain.BoundingBox, from, to time.Time, maxCloud float64, limit int) ([]collector.ImageRef, error) {
	if from.Format("2006-01") != m.allowed {
		return nil, nil
	}
	return m.inner.SearchScenes(ctx, b, from, to, maxCloud, limit)
}

func (m *monthFilteredImagery) NDVIMean(ctx context.Context, ref collector.ImageRef, b domain.BoundingBox) (float64, error) {
	return m.inner.NDVIMean(ctx, ref, b)
}
