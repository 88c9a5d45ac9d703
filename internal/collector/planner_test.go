package collector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwatch/satveg-collector/internal/collector"
	"github.com/fernwatch/satveg-collector/internal/domain"
)

// --- mock warehouse ---

type mockWarehouse struct {
	latest    domain.MonthKey
	found     bool
	latestErr error

	appended  [][]domain.MonthlyObservation
	appendErr error
}

func (m *mockWarehouse) MaxMonthForRegion(_ context.Context, _ string) (domain.MonthKey, bool, error) {
	if m.latestErr != nil {
		return domain.MonthKey{}, false, m.latestErr
	}
	return m.latest, m.found, nil
}

func (m *mockWarehouse) AppendBatch(_ context.Context, batch []domain.MonthlyObservation) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appended = append(m.appended, batch)
	return nil
}

// --- tests ---

func TestPlanMonths_NoHistoryBootstraps(t *testing.T) {
	wh := &mockWarehouse{found: false}
	planner := collector.NewPlanner(wh, discardLogger())

	plan := planner.PlanMonths(context.Background(), "52.520_13.405", month(t, "2024-06"))

	assert.Equal(t, collector.PlanBootstrap, plan.Mode)
	require.Len(t, plan.Months, collector.BootstrapMonths)
	assert.Equal(t, month(t, "2024-01"), plan.Months[0])
	assert.Equal(t, month(t, "2024-06"), plan.Months[len(plan.Months)-1])
	assert.False(t, plan.UpToDate())
}

func TestPlanMonths_GapFill(t *testing.T) {
	wh := &mockWarehouse{latest: month(t, "2024-03"), found: true}
	planner := collector.NewPlanner(wh, discardLogger())

	plan := planner.PlanMonths(context.Background(), "52.520_13.405", month(t, "2024-06"))

	assert.Equal(t, collector.PlanGapFill, plan.Mode)
	want := []domain.MonthKey{month(t, "2024-04"), month(t, "2024-05"), month(t, "2024-06")}
	assert.Empty(t, cmp.Diff(want, plan.Months))
}

func TestPlanMonths_UpToDate(t *testing.T) {
	wh := &mockWarehouse{latest: month(t, "2024-06"), found: true}
	planner := collector.NewPlanner(wh, discardLogger())

	plan := planner.PlanMonths(context.Background(), "52.520_13.405", month(t, "2024-06"))

	assert.Equal(t, collector.PlanGapFill, plan.Mode)
	assert.True(t, plan.UpToDate())
}

func TestPlanMonths_FutureLatestIsUpToDate(t *testing.T) {
	// Clock drift can leave a recorded month ahead of the current one.
	wh := &mockWarehouse{latest: month(t, "2024-08"), found: true}
	planner := collector.NewPlanner(wh, discardLogger())

	plan := planner.PlanMonths(context.Background(), "52.520_13.405", month(t, "2024-06"))
	assert.True(t, plan.UpToDate())
}

func TestPlanMonths_ReadFailureFallsBackToBootstrap(t *testing.T) {
	wh := &mockWarehouse{latestErr: errors.New("warehouse unreachable")}
	planner := collector.NewPlanner(wh, discardLogger())

	plan := planner.PlanMonths(context.Background(), "52.520_13.405", month(t, "2024-06"))

	assert.Equal(t, collector.PlanBootstrap, plan.Mode)
	assert.Len(t, plan.Months, collector.BootstrapMonths)
}
