// Package collector implements the monthly gap-filling satellite data
// collection pipeline: planning which calendar months are missing for a
// region, aggregating multi-image NDVI statistics per month, and appending
// the resulting observations to the warehouse.
package collector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/fernwatch/satveg-collector/internal/domain"
	"github.com/fernwatch/satveg-collector/internal/observability"
)

// Imagery backend tuning. The cloud ceiling matches the Sentinel-2 scene
// filter used since the first warehouse rows were written; changing it would
// shift the quality distribution of new data relative to old.
const (
	cloudCeilingPercent = 25.0
	defaultMaxImages    = 3
)

// ImageRef describes one candidate satellite scene returned by a search.
type ImageRef struct {
	ID              string
	CapturedAt      time.Time
	CloudPercentage float64
}

// Imagery is the remote satellite imagery backend.
type Imagery interface {
	// SearchScenes returns scenes intersecting bounds captured in [from, to]
	// with cloud cover below maxCloud, sorted ascending by cloud cover,
	// at most limit results. An empty result is a valid outcome.
	SearchScenes(ctx context.Context, bounds domain.BoundingBox, from, to time.Time, maxCloud float64, limit int) ([]ImageRef, error)

	// NDVIMean computes the mean normalized-difference vegetation index of
	// one scene over bounds.
	NDVIMean(ctx context.Context, ref ImageRef, bounds domain.BoundingBox) (float64, error)
}

// Aggregator turns a (region, month) pair into zero-or-one monthly
// observation by combining up to maxImages low-cloud scenes.
type Aggregator struct {
	imagery   Imagery
	logger    *slog.Logger
	metrics   *observability.Metrics
	maxImages int
}

// NewAggregator creates an Aggregator. maxImages <= 0 selects the default of 3.
func NewAggregator(imagery Imagery, maxImages int, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	if maxImages <= 0 {
		maxImages = defaultMaxImages
	}
	return &Aggregator{
		imagery:   imagery,
		logger:    logger,
		metrics:   metrics,
		maxImages: maxImages,
	}
}

// AggregateMonth retrieves the best candidate scenes for the month and
// combines their NDVI means into one observation. The boolean is false when
// the month yielded no usable imagery, which is a normal outcome rather than
// an error: the gap simply stays open for a future run. Individual scene failures are
// skipped; they never abort the month.
func (a *Aggregator) AggregateMonth(ctx context.Context, bounds domain.BoundingBox, month domain.MonthKey) (domain.MonthlyObservation, bool) {
	scenes, err := a.imagery.SearchScenes(ctx, bounds, month.Start(), month.End(), cloudCeilingPercent, a.maxImages)
	if err != nil {
		a.logger.Warn("scene search failed, month stays open",
			"month", month.String(), "error", err)
		return domain.MonthlyObservation{}, false
	}
	if len(scenes) == 0 {
		a.logger.Debug("no candidate scenes for month", "month", month.String())
		return domain.MonthlyObservation{}, false
	}

	// Candidate selection takes the lowest-cloud prefix, so ordering must be
	// ascending regardless of what the backend returned.
	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].CloudPercentage < scenes[j].CloudPercentage
	})
	if len(scenes) > a.maxImages {
		scenes = scenes[:a.maxImages]
	}

	var (
		ndviSamples  []float64
		cloudSamples []float64
		imageIDs     []string
		imageDates   []string
	)

	for _, scene := range scenes {
		ndvi, err := a.imagery.NDVIMean(ctx, scene, bounds)
		if err != nil {
			a.logger.Warn("scene NDVI computation failed, skipping image",
				"month", month.String(), "image_id", scene.ID, "error", err)
			continue
		}
		ndviSamples = append(ndviSamples, ndvi)
		cloudSamples = append(cloudSamples, scene.CloudPercentage)
		imageIDs = append(imageIDs, scene.ID)
		imageDates = append(imageDates, scene.CapturedAt.UTC().Format("2006-01-02"))
	}

	if len(ndviSamples) == 0 {
		a.logger.Warn("no usable scenes for month", "month", month.String(),
			"candidates", len(scenes))
		return domain.MonthlyObservation{}, false
	}

	obs, ok := buildObservation(month, ndviSamples, cloudSamples, imageIDs, imageDates)
	if !ok {
		return domain.MonthlyObservation{}, false
	}

	a.metrics.ImagesAggregated.Observe(float64(obs.ImageCount))
	a.logger.Info("aggregated month",
		"month", month.String(),
		"image_count", obs.ImageCount,
		"ndvi_mean", obs.NDVIMean,
		"quality", obs.Quality)
	return obs, true
}

// buildObservation computes the statistical summary of the per-image samples.
// Standard deviation is the population form: 0.0 for a single sample.
func buildObservation(month domain.MonthKey, ndvi, cloud []float64, ids, dates []string) (domain.MonthlyObservation, bool) {
	mean, err := stats.Mean(ndvi)
	if err != nil {
		return domain.MonthlyObservation{}, false
	}
	std, err := stats.StandardDeviationPopulation(ndvi)
	if err != nil {
		return domain.MonthlyObservation{}, false
	}
	minNDVI, err := stats.Min(ndvi)
	if err != nil {
		return domain.MonthlyObservation{}, false
	}
	maxNDVI, err := stats.Max(ndvi)
	if err != nil {
		return domain.MonthlyObservation{}, false
	}
	meanCloud, err := stats.Mean(cloud)
	if err != nil {
		return domain.MonthlyObservation{}, false
	}

	return domain.MonthlyObservation{
		Month:           month,
		ImageCount:      len(ndvi),
		NDVIMean:        domain.Round4(mean),
		NDVIStd:         domain.Round4(std),
		NDVIMin:         domain.Round4(minNDVI),
		NDVIMax:         domain.Round4(maxNDVI),
		CloudPercentage: domain.Round1(meanCloud),
		Quality:         domain.ScoreQuality(len(ndvi), meanCloud, std),
		SourceImageIDs:  ids,
		ImageDates:      dates,
	}, true
}
