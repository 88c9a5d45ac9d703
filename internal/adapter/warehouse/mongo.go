// Package warehouse persists monthly observations in MongoDB. The collection
// is append-only: gap filling only ever inserts months after the newest one,
// so existing documents are never updated in place.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fernwatch/satveg-collector/internal/config"
	"github.com/fernwatch/satveg-collector/internal/domain"
	"github.com/fernwatch/satveg-collector/internal/observability"
)

// Store implements collector.Warehouse on a MongoDB collection.
type Store struct {
	client       *mongo.Client
	observations *mongo.Collection
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewStore connects to MongoDB and prepares the observation collection with
// its region/month index.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	observations := client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)
	if _, err := observations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "region_id", Value: 1}, {Key: "month", Value: -1}},
	}); err != nil {
		return nil, fmt.Errorf("create warehouse index: %w", err)
	}

	return &Store{
		client:       client,
		observations: observations,
		logger:       logger,
		metrics:      metrics,
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// MaxMonthForRegion returns the newest recorded month for a region. The
// second return value is false when the region has no history at all.
func (s *Store) MaxMonthForRegion(ctx context.Context, regionID string) (domain.MonthKey, bool, error) {
	var doc observationDoc
	err := s.observations.FindOne(ctx,
		bson.M{"region_id": regionID},
		options.FindOne().
			SetSort(bson.D{{Key: "month", Value: -1}}).
			SetProjection(bson.M{"month": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.MonthKey{}, false, nil
	}
	if err != nil {
		return domain.MonthKey{}, false, fmt.Errorf("query max month for region %s: %w", regionID, err)
	}

	month, err := domain.ParseMonthKey(doc.Month)
	if err != nil {
		return domain.MonthKey{}, false, fmt.Errorf("stored month %q for region %s: %w", doc.Month, regionID, err)
	}
	return month, true, nil
}

// AppendBatch inserts a batch of monthly observations.
func (s *Store) AppendBatch(ctx context.Context, batch []domain.MonthlyObservation) error {
	if len(batch) == 0 {
		return nil
	}

	docs := make([]any, len(batch))
	for i, obs := range batch {
		docs[i] = docFromObservation(obs)
	}

	if _, err := s.observations.InsertMany(ctx, docs); err != nil {
		s.metrics.WarehouseAppends.WithLabelValues("error").Inc()
		return fmt.Errorf("insert observation batch: %w", err)
	}

	s.metrics.WarehouseAppends.WithLabelValues("success").Inc()
	s.logger.Debug("observation batch appended",
		"region_id", batch[0].RegionID, "months", len(batch))
	return nil
}

// Summary aggregates a region's full history for conversational reporting.
type Summary struct {
	RegionID     string
	RegionName   string
	MonthCount   int64
	FirstMonth   string
	LatestMonth  string
	MeanNDVI     float64
	MeanCloud    float64
	LatestNDVI   float64
	LatestImages int32
}

// Text renders the summary as a short human-readable report.
func (sum Summary) Text() string {
	var b strings.Builder
	name := sum.RegionName
	if name == "" {
		name = sum.RegionID
	}
	fmt.Fprintf(&b, "%s: %d months of data (%s to %s). ",
		name, sum.MonthCount, sum.FirstMonth, sum.LatestMonth)
	fmt.Fprintf(&b, "Average NDVI %.4f (%s), average cloud cover %.1f%% (%s). ",
		sum.MeanNDVI, domain.InterpretNDVI(sum.MeanNDVI),
		sum.MeanCloud, domain.InterpretCloudCover(sum.MeanCloud))
	fmt.Fprintf(&b, "Latest month %s: NDVI %.4f from %d images.",
		sum.LatestMonth, sum.LatestNDVI, sum.LatestImages)
	return b.String()
}

// RegionSummary aggregates the stored history for one region. Returns
// (zero, false, nil) when the region has no observations.
func (s *Store) RegionSummary(ctx context.Context, regionID string) (Summary, bool, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"region_id": regionID}}},
		{{Key: "$sort", Value: bson.D{{Key: "month", Value: 1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$region_id",
			"month_count":  bson.M{"$sum": 1},
			"first_month":  bson.M{"$first": "$month"},
			"latest_month": bson.M{"$last": "$month"},
			"mean_ndvi":    bson.M{"$avg": "$ndvi_mean"},
			"mean_cloud":   bson.M{"$avg": "$cloud_percentage"},
			"latest_ndvi":  bson.M{"$last": "$ndvi_mean"},
			"latest_imgs":  bson.M{"$last": "$image_count"},
			"region_name":  bson.M{"$last": "$region_name"},
		}}},
	}

	cur, err := s.observations.Aggregate(ctx, pipeline)
	if err != nil {
		return Summary{}, false, fmt.Errorf("aggregate region summary for %s: %w", regionID, err)
	}
	defer cur.Close(ctx)

	var rows []summaryRow
	if err := cur.All(ctx, &rows); err != nil {
		return Summary{}, false, fmt.Errorf("decode region summary for %s: %w", regionID, err)
	}
	if len(rows) == 0 {
		return Summary{}, false, nil
	}

	row := rows[0]
	return Summary{
		RegionID:     regionID,
		RegionName:   row.RegionName,
		MonthCount:   row.MonthCount,
		FirstMonth:   row.FirstMonth,
		LatestMonth:  row.LatestMonth,
		MeanNDVI:     domain.Round4(row.MeanNDVI),
		MeanCloud:    domain.Round1(row.MeanCloud),
		LatestNDVI:   row.LatestNDVI,
		LatestImages: row.LatestImages,
	}, true, nil
}

type summaryRow struct {
	MonthCount   int64   `bson:"month_count"`
	FirstMonth   string  `bson:"first_month"`
	LatestMonth  string  `bson:"latest_month"`
	MeanNDVI     float64 `bson:"mean_ndvi"`
	MeanCloud    float64 `bson:"mean_cloud"`
	LatestNDVI   float64 `bson:"latest_ndvi"`
	LatestImages int32   `bson:"latest_imgs"`
	RegionName   string  `bson:"region_name"`
}

// observationDoc is the stored shape of a monthly observation. Months are
// stored as "YYYY-MM" strings so that lexical sort order matches
// chronological order.
type observationDoc struct {
	RegionID        string    `bson:"region_id"`
	RegionName      string    `bson:"region_name,omitempty"`
	Latitude        float64   `bson:"latitude"`
	Longitude       float64   `bson:"longitude"`
	Month           string    `bson:"month"`
	ImageCount      int       `bson:"image_count"`
	NDVIMean        float64   `bson:"ndvi_mean"`
	NDVIStd         float64   `bson:"ndvi_std"`
	NDVIMin         float64   `bson:"ndvi_min"`
	NDVIMax         float64   `bson:"ndvi_max"`
	CloudPercentage float64   `bson:"cloud_percentage"`
	Quality         string    `bson:"quality"`
	SourceImageIDs  []string  `bson:"source_image_ids"`
	ImageDates      []string  `bson:"image_dates"`
	CollectionType  string    `bson:"collection_type"`
	ProcessedAt     time.Time `bson:"processed_at"`
}

func docFromObservation(obs domain.MonthlyObservation) observationDoc {
	return observationDoc{
		RegionID:        obs.RegionID,
		RegionName:      obs.RegionName,
		Latitude:        obs.Latitude,
		Longitude:       obs.Longitude,
		Month:           obs.Month.String(),
		ImageCount:      obs.ImageCount,
		NDVIMean:        obs.NDVIMean,
		NDVIStd:         obs.NDVIStd,
		NDVIMin:         obs.NDVIMin,
		NDVIMax:         obs.NDVIMax,
		CloudPercentage: obs.CloudPercentage,
		Quality:         string(obs.Quality),
		SourceImageIDs:  obs.SourceImageIDs,
		ImageDates:      obs.ImageDates,
		CollectionType:  string(obs.CollectionType),
		ProcessedAt:     obs.ProcessedAt,
	}
}
