// Package geo ranks branches by distance from a delivery coordinate using a Redis GEO set.
package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key of the branch GEO set.
const DefaultKey = "branches:geo"

// ErrUnavailable is returned when the index cannot be queried.
var ErrUnavailable = errors.New("geo: ranking unavailable")

// Coordinate is a WGS84 point.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the coordinate is inside WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Options tunes ranking.
type Options struct {
	Key           string
	RadiusKm      float64
	MaxCandidates int
}

// Ranker returns branch ids nearest-first.
type Ranker struct {
	client *redis.Client
	opts   Options
}

// NewRanker constructs Ranker.
func NewRanker(client *redis.Client, opts Options) *Ranker {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.RadiusKm <= 0 {
		opts.RadiusKm = 20000
	}
	return &Ranker{client: client, opts: opts}
}

// Rank lists indexed branches within the configured radius, closest first.
func (r *Ranker) Rank(ctx context.Context, at Coordinate) ([]int64, error) {
	if !at.Valid() {
		return nil, fmt.Errorf("geo: invalid coordinate %f,%f", at.Latitude, at.Longitude)
	}
	locations, err := r.client.GeoRadius(ctx, r.opts.Key, at.Longitude, at.Latitude, &redis.GeoRadiusQuery{
		Radius: r.opts.RadiusKm,
		Unit:   "km",
		Sort:   "ASC",
		Count:  r.opts.MaxCandidates,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	ids := make([]int64, 0, len(locations))
	for _, loc := range locations {
		id, err := strconv.ParseInt(loc.Name, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
