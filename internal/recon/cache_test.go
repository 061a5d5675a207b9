package recon

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// countingRepo wraps memRepo and counts item reads so cache hits are visible.
type countingRepo struct {
	*memRepo
	itemReads int
}

func (r *countingRepo) GetInventoryItems(ctx context.Context, inventoryID int64) ([]Item, error) {
	r.itemReads++
	return r.memRepo.GetInventoryItems(ctx, inventoryID)
}

func providerFixture(t *testing.T) (*ReportProvider, *Service, *countingRepo) {
	t.Helper()
	svc, repo, _, _ := serviceFixture()
	counting := &countingRepo{memRepo: repo}
	svc.repo = counting

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewReportCache(client, time.Minute)
	return NewReportProvider(svc, counting, cache), svc, counting
}

func TestReportProviderCachesClosedCounts(t *testing.T) {
	provider, svc, repo := providerFixture(t)
	ctx := context.Background()
	inv := completedInventory(t, svc, map[int64]float64{10: 7})

	first, err := provider.Report(ctx, inv.ID, 0)
	require.NoError(t, err)
	require.Equal(t, 2, first.TotalItems)
	reads := repo.itemReads

	second, err := provider.Report(ctx, inv.ID, 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, reads, repo.itemReads)
}

func TestReportProviderRecomputesWhileCounting(t *testing.T) {
	provider, svc, repo := providerFixture(t)
	ctx := context.Background()
	inv := mustCreate(t, svc)
	_, err := svc.StartCounting(ctx, inv.ID, 7)
	require.NoError(t, err)

	_, err = provider.Report(ctx, inv.ID, 0)
	require.NoError(t, err)
	reads := repo.itemReads

	_, err = provider.Report(ctx, inv.ID, 0)
	require.NoError(t, err)
	require.Greater(t, repo.itemReads, reads)
}

func TestReportProviderThresholdKeysAreDistinct(t *testing.T) {
	provider, svc, _ := providerFixture(t)
	ctx := context.Background()
	inv := completedInventory(t, svc, map[int64]float64{10: 5.05})

	loose, err := provider.Report(ctx, inv.ID, 0)
	require.NoError(t, err)
	strict, err := provider.Report(ctx, inv.ID, 5)
	require.NoError(t, err)
	require.NotEqual(t, loose.TotalItems, strict.TotalItems)
}

func TestReportProviderRejectsNegativeThreshold(t *testing.T) {
	provider, svc, _ := providerFixture(t)
	inv := mustCreate(t, svc)

	_, err := provider.Report(context.Background(), inv.ID, -1)
	require.ErrorIs(t, err, ErrNegativeThreshold)
}

func TestReportCacheInvalidate(t *testing.T) {
	provider, svc, repo := providerFixture(t)
	ctx := context.Background()
	inv := completedInventory(t, svc, map[int64]float64{10: 7})

	_, err := provider.Report(ctx, inv.ID, 0)
	require.NoError(t, err)
	reads := repo.itemReads

	require.NoError(t, provider.cache.Invalidate(ctx, inv.ID))
	_, err = provider.Report(ctx, inv.ID, 0)
	require.NoError(t, err)
	require.Greater(t, repo.itemReads, reads)
}
