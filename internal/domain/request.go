package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RawRequest represents an unprocessed message from the request topic.
type RawRequest struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// CollectionRequest asks the service to bring one location's monthly
// observations up to date. Published by the conversational front-end.
type CollectionRequest struct {
	UserID       int64   `json:"user_id"`
	LocationName string  `json:"location_name"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
}

// ParseCollectionRequest deserializes and validates a RawRequest's value.
func ParseCollectionRequest(raw RawRequest) (CollectionRequest, error) {
	var req CollectionRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return CollectionRequest{}, fmt.Errorf("parse collection request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return CollectionRequest{}, err
	}
	return req, nil
}

// Validate checks coordinate ranges. A missing location name is allowed; the
// pipeline falls back to a geocoded or coordinate-based display name.
func (r CollectionRequest) Validate() error {
	if r.Lat < -90 || r.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", r.Lat)
	}
	if r.Lon < -180 || r.Lon > 180 {
		return fmt.Errorf("longitude %v out of range", r.Lon)
	}
	if r.Lat == 0 && r.Lon == 0 {
		return errors.New("missing coordinates")
	}
	return nil
}
