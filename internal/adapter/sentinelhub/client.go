// Package sentinelhub implements the imagery backend against the Sentinel Hub
// APIs of the Copernicus Data Space Ecosystem: the Catalog API for scene
// search and the Statistical API for per-scene NDVI aggregation.
package sentinelhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/fernwatch/satveg-collector/internal/collector"
	"github.com/fernwatch/satveg-collector/internal/config"
	"github.com/fernwatch/satveg-collector/internal/domain"
	"github.com/fernwatch/satveg-collector/internal/observability"
)

const (
	catalogPath    = "/api/v1/catalog/1.0.0/search"
	statisticsPath = "/api/v1/statistics"

	dataCollection = "sentinel-2-l2a"

	// catalogPageLimit bounds one search response; candidate selection takes
	// a much smaller prefix after sorting by cloud cover.
	catalogPageLimit = 100

	// statsResolution is the sampling resolution in degrees (~20 m).
	statsResolution = 0.0002
)

// ndviEvalscript computes the normalized band-difference vegetation index
// (B08 − B04) / (B08 + B04) per pixel for regional aggregation.
const ndviEvalscript = `//VERSION=3
function setup() {
  return {
    input: [{ bands: ["B04", "B08", "dataMask"] }],
    output: [
      { id: "ndvi", bands: 1 },
      { id: "dataMask", bands: 1 }
    ]
  };
}
function evaluatePixel(sample) {
  let ndvi = (sample.B08 - sample.B04) / (sample.B08 + sample.B04);
  return { ndvi: [ndvi], dataMask: [sample.dataMask] };
}`

// Client implements collector.Imagery using Sentinel Hub. OAuth2
// client-credentials token refresh is handled by the underlying HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a Sentinel Hub client from service configuration.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	oauth := &clientcredentials.Config{
		ClientID:     cfg.SHClientID,
		ClientSecret: cfg.SHClientSecret,
		TokenURL:     cfg.SHTokenURL,
	}
	httpClient := oauth.Client(context.Background())
	httpClient.Timeout = cfg.SHTimeout

	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.SHBaseURL,
		logger:     logger,
		metrics:    metrics,
	}
}

// SearchScenes queries the Catalog API for Sentinel-2 L2A scenes over bounds
// captured in [from, to] with cloud cover below maxCloud, and returns the
// limit lowest-cloud scenes in ascending cloud order. An empty result is a
// valid outcome, not an error.
func (c *Client) SearchScenes(ctx context.Context, bounds domain.BoundingBox, from, to time.Time, maxCloud float64, limit int) ([]collector.ImageRef, error) {
	payload := searchRequest{
		Collections: []string{dataCollection},
		BBox:        bboxOf(bounds),
		Datetime:    fmt.Sprintf("%s/%s", from.UTC().Format(time.RFC3339), endOfDay(to).Format(time.RFC3339)),
		Filter:      fmt.Sprintf("eo:cloud_cover < %g", maxCloud),
		FilterLang:  "cql2-text",
		Limit:       catalogPageLimit,
		Fields: searchFields{
			Include: []string{"id", "properties.datetime", "properties.eo:cloud_cover"},
			Exclude: []string{"geometry", "assets", "links"},
		},
	}

	var resp searchResponse
	if err := c.post(ctx, catalogPath, "search", payload, &resp); err != nil {
		return nil, err
	}

	scenes := make([]collector.ImageRef, 0, len(resp.Features))
	for _, f := range resp.Features {
		captured, err := time.Parse(time.RFC3339, f.Properties.Datetime)
		if err != nil {
			c.logger.Warn("scene with unparseable capture date skipped",
				"scene_id", f.ID, "datetime", f.Properties.Datetime)
			continue
		}
		scenes = append(scenes, collector.ImageRef{
			ID:              f.ID,
			CapturedAt:      captured,
			CloudPercentage: f.Properties.CloudCover,
		})
	}

	sort.SliceStable(scenes, func(i, j int) bool {
		return scenes[i].CloudPercentage < scenes[j].CloudPercentage
	})
	if limit > 0 && len(scenes) > limit {
		scenes = scenes[:limit]
	}
	return scenes, nil
}

// NDVIMean runs the Statistical API for the scene's capture day over bounds
// and returns the regional NDVI mean. Scenes whose footprint yields no valid
// pixels produce an error, which the aggregator treats as a per-image skip.
func (c *Client) NDVIMean(ctx context.Context, ref collector.ImageRef, bounds domain.BoundingBox) (float64, error) {
	day := ref.CapturedAt.UTC().Truncate(24 * time.Hour)
	payload := statsRequest{
		Input: statsInput{
			Bounds: statsBounds{
				BBox:       bboxOf(bounds),
				Properties: statsCRS{CRS: "http://www.opengis.net/def/crs/EPSG/0/4326"},
			},
			Data: []statsData{{
				Type: dataCollection,
				DataFilter: statsDataFilter{
					TimeRange: timeRange{
						From: day.Format(time.RFC3339),
						To:   day.Add(24 * time.Hour).Format(time.RFC3339),
					},
				},
			}},
		},
		Aggregation: statsAggregation{
			TimeRange: timeRange{
				From: day.Format(time.RFC3339),
				To:   day.Add(24 * time.Hour).Format(time.RFC3339),
			},
			AggregationInterval: aggregationInterval{Of: "P1D"},
			Evalscript:          ndviEvalscript,
			ResX:                statsResolution,
			ResY:                statsResolution,
		},
	}

	var resp statsResponse
	if err := c.post(ctx, statisticsPath, "statistics", payload, &resp); err != nil {
		return 0, err
	}

	for _, interval := range resp.Data {
		band, ok := interval.Outputs["ndvi"].Bands["B0"]
		if !ok {
			continue
		}
		if band.Stats.SampleCount == 0 || band.Stats.SampleCount == band.Stats.NoDataCount {
			continue
		}
		return band.Stats.Mean, nil
	}
	return 0, fmt.Errorf("no NDVI statistics for scene %s", ref.ID)
}

func (c *Client) post(ctx context.Context, path, op string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ImageryRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.ImageryRequests.WithLabelValues(op, "error").Inc()
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sentinel hub %s error: status %d: %s", op, resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.ImageryRequests.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("decode %s response: %w", op, err)
	}

	c.metrics.ImageryRequests.WithLabelValues(op, "success").Inc()
	return nil
}

// bboxOf renders bounds in the [minLon, minLat, maxLon, maxLat] order the
// Sentinel Hub APIs expect.
func bboxOf(b domain.BoundingBox) [4]float64 {
	return [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

func endOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, time.UTC)
}

// Catalog API request/response types.

type searchRequest struct {
	Collections []string     `json:"collections"`
	BBox        [4]float64   `json:"bbox"`
	Datetime    string       `json:"datetime"`
	Filter      string       `json:"filter"`
	FilterLang  string       `json:"filter-lang"`
	Limit       int          `json:"limit"`
	Fields      searchFields `json:"fields"`
}

type searchFields struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

type searchResponse struct {
	Features []searchFeature `json:"features"`
}

type searchFeature struct {
	ID         string           `json:"id"`
	Properties searchProperties `json:"properties"`
}

type searchProperties struct {
	Datetime   string  `json:"datetime"`
	CloudCover float64 `json:"eo:cloud_cover"`
}

// Statistical API request/response types.

type statsRequest struct {
	Input       statsInput       `json:"input"`
	Aggregation statsAggregation `json:"aggregation"`
}

type statsInput struct {
	Bounds statsBounds `json:"bounds"`
	Data   []statsData `json:"data"`
}

type statsBounds struct {
	BBox       [4]float64 `json:"bbox"`
	Properties statsCRS   `json:"properties"`
}

type statsCRS struct {
	CRS string `json:"crs"`
}

type statsData struct {
	Type       string          `json:"type"`
	DataFilter statsDataFilter `json:"dataFilter"`
}

type statsDataFilter struct {
	TimeRange timeRange `json:"timeRange"`
}

type timeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type statsAggregation struct {
	TimeRange           timeRange           `json:"timeRange"`
	AggregationInterval aggregationInterval `json:"aggregationInterval"`
	Evalscript          string              `json:"evalscript"`
	ResX                float64             `json:"resx"`
	ResY                float64             `json:"resy"`
}

type aggregationInterval struct {
	Of string `json:"of"`
}

type statsResponse struct {
	Data []statsInterval `json:"data"`
}

type statsInterval struct {
	Outputs map[string]statsOutput `json:"outputs"`
}

type statsOutput struct {
	Bands map[string]statsBand `json:"bands"`
}

type statsBand struct {
	Stats bandStats `json:"stats"`
}

type bandStats struct {
	Mean        float64 `json:"mean"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	StDev       float64 `json:"stDev"`
	SampleCount int64   `json:"sampleCount"`
	NoDataCount int64   `json:"noDataCount"`
}
