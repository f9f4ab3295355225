package geo

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/branches"
)

// BranchSource lists active branches.
type BranchSource interface {
	ListActive(ctx context.Context) ([]branches.Branch, error)
}

// Indexer rebuilds the branch GEO set from reference data.
type Indexer struct {
	client *redis.Client
	source BranchSource
	key    string
	logger *slog.Logger
}

// NewIndexer constructs Indexer.
func NewIndexer(client *redis.Client, source BranchSource, key string, logger *slog.Logger) *Indexer {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{client: client, source: source, key: key, logger: logger}
}

// Rebuild replaces the GEO set atomically with the located active branches. It returns the
// number of indexed branches.
func (i *Indexer) Rebuild(ctx context.Context) (int, error) {
	list, err := i.source.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("geo: load branches: %w", err)
	}
	members := make([]*redis.GeoLocation, 0, len(list))
	for _, b := range list {
		if !b.IsActive || !b.HasLocation() {
			continue
		}
		members = append(members, &redis.GeoLocation{
			Name:      strconv.FormatInt(b.ID, 10),
			Latitude:  *b.Latitude,
			Longitude: *b.Longitude,
		})
	}

	staging := i.key + ":staging"
	_, err = i.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(members) == 0 {
			pipe.Del(ctx, i.key)
			return nil
		}
		pipe.Del(ctx, staging)
		pipe.GeoAdd(ctx, staging, members...)
		pipe.Rename(ctx, staging, i.key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("geo: rebuild index: %w", err)
	}
	i.logger.Info("branch geo index rebuilt", slog.Int("branches", len(members)), slog.Int("skipped", len(list)-len(members)))
	return len(members), nil
}
