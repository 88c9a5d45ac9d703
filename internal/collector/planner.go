package collector

import (
	"context"
	"log/slog"

	"github.com/fernwatch/satveg-collector/internal/domain"
)

// BootstrapMonths is the historical window collected when a region has no
// prior data.
const BootstrapMonths = 6

// PlanMode distinguishes the two collection strategies.
type PlanMode string

const (
	PlanBootstrap PlanMode = "bootstrap"
	PlanGapFill   PlanMode = "gap_fill"
)

// Plan lists the months a collection run should attempt, in chronological
// order. An empty month list with mode gap_fill means the region is up to
// date.
type Plan struct {
	Mode   PlanMode
	Months []domain.MonthKey
}

// UpToDate reports whether there is nothing to collect.
func (p Plan) UpToDate() bool {
	return len(p.Months) == 0
}

// Warehouse is the append-only observation store consulted and written by
// the collector.
type Warehouse interface {
	// MaxMonthForRegion returns the latest month recorded for the region.
	// The boolean is false when no record exists, which is a valid outcome.
	MaxMonthForRegion(ctx context.Context, regionID string) (domain.MonthKey, bool, error)

	// AppendBatch writes a batch of observations. The store is append-only;
	// nothing is rolled back on partial failure.
	AppendBatch(ctx context.Context, batch []domain.MonthlyObservation) error
}

// Planner decides between bootstrapping a new region and filling the gap of
// a known one.
type Planner struct {
	warehouse Warehouse
	logger    *slog.Logger
}

// NewPlanner creates a Planner backed by the given warehouse.
func NewPlanner(warehouse Warehouse, logger *slog.Logger) *Planner {
	return &Planner{warehouse: warehouse, logger: logger}
}

// PlanMonths computes the months to collect for a region as of current.
// A warehouse read failure is treated as "no history": the run bootstraps
// instead of blocking. That can duplicate rows for months already stored,
// which the append-only model tolerates: gap arithmetic depends only on the
// maximum recorded month, and duplicates do not change a maximum.
func (p *Planner) PlanMonths(ctx context.Context, regionID string, current domain.MonthKey) Plan {
	latest, found, err := p.warehouse.MaxMonthForRegion(ctx, regionID)
	if err != nil {
		p.logger.Warn("latest month lookup failed, falling back to bootstrap",
			"region_id", regionID, "error", err)
		found = false
	}

	if !found {
		return Plan{
			Mode:   PlanBootstrap,
			Months: domain.LastNMonths(current, BootstrapMonths),
		}
	}

	return Plan{
		Mode:   PlanGapFill,
		Months: domain.MonthsBetween(latest, current),
	}
}
