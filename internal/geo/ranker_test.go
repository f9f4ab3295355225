package geo

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/masterdata/branches"
)

type staticBranches []branches.Branch

func (s staticBranches) ListActive(context.Context) ([]branches.Branch, error) { return s, nil }

func f(v float64) *float64 { return &v }

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

var javaBranches = staticBranches{
	{ID: 1, Name: "Surabaya", Latitude: f(-7.2575), Longitude: f(112.7521), IsActive: true},
	{ID: 2, Name: "Jakarta", Latitude: f(-6.2088), Longitude: f(106.8456), IsActive: true},
	{ID: 3, Name: "Bandung", Latitude: f(-6.9175), Longitude: f(107.6191), IsActive: true},
	{ID: 4, Name: "Unlocated", IsActive: true},
}

func TestRankNearestFirst(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()

	n, err := NewIndexer(client, javaBranches, "", nil).Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	ranker := NewRanker(client, Options{})
	// Bogor sits south of Jakarta.
	ids, err := ranker.Rank(ctx, Coordinate{Latitude: -6.5971, Longitude: 106.8060})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 1}, ids)
}

func TestRankRespectsRadiusAndLimit(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()
	_, err := NewIndexer(client, javaBranches, "", nil).Rebuild(ctx)
	require.NoError(t, err)

	ids, err := NewRanker(client, Options{RadiusKm: 200}).Rank(ctx, Coordinate{Latitude: -6.2, Longitude: 106.8})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, ids)

	ids, err = NewRanker(client, Options{MaxCandidates: 1}).Rank(ctx, Coordinate{Latitude: -7.3, Longitude: 112.7})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
}

func TestRankEmptyIndex(t *testing.T) {
	_, client := setup(t)
	ids, err := NewRanker(client, Options{}).Rank(context.Background(), Coordinate{Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = NewRanker(client, Options{}).Rank(context.Background(), Coordinate{Latitude: 100, Longitude: 1})
	require.Error(t, err)
}

func TestRankUnavailable(t *testing.T) {
	mr, client := setup(t)
	mr.Close()
	_, err := NewRanker(client, Options{}).Rank(context.Background(), Coordinate{Latitude: 1, Longitude: 1})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestRebuildDropsRemovedBranches(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()
	_, err := NewIndexer(client, javaBranches, "", nil).Rebuild(ctx)
	require.NoError(t, err)

	n, err := NewIndexer(client, javaBranches[:1], "", nil).Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	ids, err := NewRanker(client, Options{}).Rank(ctx, Coordinate{Latitude: -6.2, Longitude: 106.8})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)

	_, err = NewIndexer(client, staticBranches{}, "", nil).Rebuild(ctx)
	require.NoError(t, err)
	require.False(t, mr.Exists(DefaultKey))
}
