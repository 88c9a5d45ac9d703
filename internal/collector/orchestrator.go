package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fernwatch/satveg-collector/internal/domain"
	"github.com/fernwatch/satveg-collector/internal/observability"
)

// ErrNoData reports a run in which every planned month yielded no usable
// imagery, so nothing was written. Distinct from a storage failure; callers
// log the two differently.
var ErrNoData = errors.New("no observations collected for any planned month")

// Outcome summarizes one collection run for status events and API responses.
type Outcome struct {
	RegionID      string    `json:"region_id"`
	RegionName    string    `json:"region_name"`
	Mode          PlanMode  `json:"mode"`
	MonthsPlanned int       `json:"months_planned"`
	MonthsFilled  int       `json:"months_filled"`
	UpToDate      bool      `json:"up_to_date"`
	Summary       string    `json:"summary"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// Collector is the top-level orchestrator: it derives the region identity,
// plans the missing months, aggregates each one, and appends the resulting
// batch to the warehouse.
type Collector struct {
	planner      *Planner
	aggregator   *Aggregator
	warehouse    Warehouse
	logger       *slog.Logger
	metrics      *observability.Metrics
	bufferMeters float64
}

// New creates a Collector. bufferMeters is the half-width of the square
// sampling region around the request point.
func New(planner *Planner, aggregator *Aggregator, warehouse Warehouse, bufferMeters float64, logger *slog.Logger, metrics *observability.Metrics) *Collector {
	return &Collector{
		planner:      planner,
		aggregator:   aggregator,
		warehouse:    warehouse,
		logger:       logger,
		metrics:      metrics,
		bufferMeters: bufferMeters,
	}
}

// Collect brings one region's monthly observations up to date. It returns
// ErrNoData when every planned month was empty, a wrapped storage error when
// the batch append failed, and nil otherwise (including the up-to-date
// no-op). The Outcome is valid in all cases.
//
// Running Collect twice in immediate succession is a near no-op the second
// time: the first run's writes advance the latest recorded month seen by the
// planner, subject to the warehouse's read-after-write consistency.
func (c *Collector) Collect(ctx context.Context, displayName string, lat, lon float64) (Outcome, error) {
	start := time.Now()
	regionID := domain.DeriveRegionID(lat, lon)
	current := domain.CurrentMonth()

	logger := c.logger.With("region_id", regionID, "region_name", displayName)
	logger.Info("collection started", "lat", lat, "lon", lon)

	plan := c.planner.PlanMonths(ctx, regionID, current)
	outcome := Outcome{
		RegionID:      regionID,
		RegionName:    displayName,
		Mode:          plan.Mode,
		MonthsPlanned: len(plan.Months),
		ProcessedAt:   domain.Now(),
	}

	if plan.UpToDate() {
		outcome.UpToDate = true
		outcome.Summary = "data is up to date"
		logger.Info("collection skipped, up to date")
		c.metrics.Collections.WithLabelValues(string(plan.Mode), "up_to_date").Inc()
		return outcome, nil
	}

	logger.Info("collection planned",
		"mode", plan.Mode,
		"months", len(plan.Months),
		"first", plan.Months[0].String(),
		"last", plan.Months[len(plan.Months)-1].String())

	bounds := domain.BufferBounds(domain.Point{Lat: lat, Lon: lon}, c.bufferMeters)
	collectionType := domain.CollectionBootstrap
	if plan.Mode == PlanGapFill {
		collectionType = domain.CollectionGapFill
	}

	batch := make([]domain.MonthlyObservation, 0, len(plan.Months))
	for _, month := range plan.Months {
		obs, ok := c.aggregator.AggregateMonth(ctx, bounds, month)
		if !ok {
			c.metrics.MonthsEmpty.Inc()
			continue
		}

		obs.RegionID = regionID
		obs.RegionName = displayName
		obs.Latitude = lat
		obs.Longitude = lon
		obs.CollectionType = collectionType
		obs.ProcessedAt = domain.Now()
		batch = append(batch, obs)
	}

	outcome.MonthsFilled = len(batch)

	if len(batch) == 0 {
		outcome.Summary = "no data collected: no usable imagery for any planned month"
		logger.Warn("collection produced no data", "months_planned", len(plan.Months))
		c.metrics.Collections.WithLabelValues(string(plan.Mode), "no_data").Inc()
		return outcome, ErrNoData
	}

	if err := c.warehouse.AppendBatch(ctx, batch); err != nil {
		outcome.Summary = "storage append failed"
		logger.Error("warehouse append failed", "batch_size", len(batch), "error", err)
		c.metrics.Collections.WithLabelValues(string(plan.Mode), "storage_error").Inc()
		c.metrics.WarehouseAppends.WithLabelValues("error").Inc()
		return outcome, fmt.Errorf("append batch: %w", err)
	}

	c.metrics.WarehouseAppends.WithLabelValues("success").Inc()
	c.metrics.MonthsFilled.Add(float64(len(batch)))
	c.metrics.Collections.WithLabelValues(string(plan.Mode), "collected").Inc()
	c.metrics.CollectionDuration.Observe(time.Since(start).Seconds())

	outcome.Summary = fmt.Sprintf("collected %d of %d months (%s)", len(batch), len(plan.Months), plan.Mode)
	logger.Info("collection finished",
		"months_planned", len(plan.Months),
		"months_filled", len(batch),
		"duration", time.Since(start))
	return outcome, nil
}

// CollectSatelliteData is the boolean entry point consumed by the
// conversational layer: true on success or when the region is already up to
// date, false when nothing could be collected or the append failed.
func (c *Collector) CollectSatelliteData(ctx context.Context, displayName string, lat, lon float64) bool {
	outcome, err := c.Collect(ctx, displayName, lat, lon)
	if err != nil {
		c.logger.Warn("collection unsuccessful",
			"region_id", outcome.RegionID,
			"region_name", displayName,
			"reason", outcome.Summary,
			"error", err)
		return false
	}
	return true
}
