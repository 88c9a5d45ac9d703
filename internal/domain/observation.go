package domain

import (
	"math"
	"time"
)

// Quality is the tier assigned to a monthly observation by ScoreQuality.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// CollectionType records why an observation was collected: as part of the
// initial bootstrap window or while filling a detected gap.
type CollectionType string

const (
	CollectionBootstrap CollectionType = "bootstrap"
	CollectionGapFill   CollectionType = "gap_fill"
)

// MonthlyObservation is one aggregated vegetation record for a
// (RegionID, Month) pair. It is built in memory by the aggregator, enriched
// with region metadata by the orchestrator, and immutable once handed to the
// warehouse. ImageCount is always >= 1; months with no usable imagery produce
// no record at all.
type MonthlyObservation struct {
	RegionID   string  `json:"region_id"`
	RegionName string  `json:"region_name"` // display label, never a key
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`

	Month      MonthKey `json:"-"`
	ImageCount int      `json:"image_count"`

	NDVIMean        float64 `json:"ndvi_mean"`
	NDVIStd         float64 `json:"ndvi_std"`
	NDVIMin         float64 `json:"ndvi_min"`
	NDVIMax         float64 `json:"ndvi_max"`
	CloudPercentage float64 `json:"cloud_percentage"`

	Quality        Quality        `json:"quality"`
	SourceImageIDs []string       `json:"source_image_ids"`
	ImageDates     []string       `json:"image_dates"`
	CollectionType CollectionType `json:"collection_type"`
	ProcessedAt    time.Time      `json:"processed_at"`
}

// Quality scoring weights. Fixed constants; downstream analytics depend on
// the resulting tier boundaries.
const (
	scoreImages3Plus = 40
	scoreImages2     = 25
	scoreImages1     = 10

	scoreCloudsClear    = 40 // mean cloud cover < 10%
	scoreCloudsLight    = 25 // mean cloud cover < 20%
	scoreCloudsHeavy    = 10
	cloudClearThreshold = 10.0
	cloudLightThreshold = 20.0

	scoreStdTight    = 20 // NDVI std dev < 0.05
	scoreStdModerate = 10 // NDVI std dev < 0.10
	scoreStdLoose    = 5
	stdTightLimit    = 0.05
	stdModerateLimit = 0.10

	tierExcellent = 80
	tierGood      = 60
	tierFair      = 40
)

// ScoreQuality rates a monthly aggregate from three independent factors:
// the number of contributing images, their mean cloud cover, and the spread
// of the per-image NDVI samples.
func ScoreQuality(imageCount int, meanCloud, stdDev float64) Quality {
	score := 0

	switch {
	case imageCount >= 3:
		score += scoreImages3Plus
	case imageCount == 2:
		score += scoreImages2
	default:
		score += scoreImages1
	}

	switch {
	case meanCloud < cloudClearThreshold:
		score += scoreCloudsClear
	case meanCloud < cloudLightThreshold:
		score += scoreCloudsLight
	default:
		score += scoreCloudsHeavy
	}

	switch {
	case stdDev < stdTightLimit:
		score += scoreStdTight
	case stdDev < stdModerateLimit:
		score += scoreStdModerate
	default:
		score += scoreStdLoose
	}

	switch {
	case score >= tierExcellent:
		return QualityExcellent
	case score >= tierGood:
		return QualityGood
	case score >= tierFair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Round4 truncates a metric to four decimal places for storage.
func Round4(v float64) float64 {
	return math.Round(v*10_000) / 10_000
}

// Round1 truncates a percentage to one decimal place for storage.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// InterpretNDVI maps a mean NDVI to a short description for user-facing
// summaries.
func InterpretNDVI(ndvi float64) string {
	switch {
	case ndvi > 0.6:
		return "very green area with healthy vegetation"
	case ndvi > 0.4:
		return "moderate vegetation coverage"
	case ndvi > 0.2:
		return "urban area with some green spaces"
	default:
		return "highly urban or built-up area"
	}
}

// InterpretCloudCover maps a mean cloud percentage to a short data-quality
// description.
func InterpretCloudCover(cloud float64) string {
	switch {
	case cloud < cloudClearThreshold:
		return "excellent data quality (clear skies)"
	case cloud < cloudLightThreshold:
		return "good data quality (some clouds)"
	default:
		return "fair data quality (cloudy conditions)"
	}
}
