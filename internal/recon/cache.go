package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ReportCache keeps rendered variance reports in Redis. Reports are only
// cached once counting is closed; before that every read recomputes.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReportCache instantiates the cache helper.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl}
}

func reportKey(inventoryID int64, thresholdPercent float64) string {
	return fmt.Sprintf("recon:report:%d:%s", inventoryID, strconv.FormatFloat(thresholdPercent, 'f', -1, 64))
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *ReportCache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if err != redis.Nil {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Invalidate drops every cached report for one inventory.
func (c *ReportCache) Invalidate(ctx context.Context, inventoryID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := fmt.Sprintf("recon:report:%d:*", inventoryID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// ReportProvider serves variance reports, collapsing concurrent identical
// requests and caching reports whose underlying counts can no longer change.
type ReportProvider struct {
	service *Service
	repo    RepositoryPort
	cache   *ReportCache
	group   singleflight.Group
}

// NewReportProvider constructs ReportProvider.
func NewReportProvider(service *Service, repo RepositoryPort, cache *ReportCache) *ReportProvider {
	return &ReportProvider{service: service, repo: repo, cache: cache}
}

// Report returns the variance report for an inventory at a threshold.
func (p *ReportProvider) Report(ctx context.Context, inventoryID int64, thresholdPercent float64) (VarianceReport, error) {
	if thresholdPercent < 0 {
		return VarianceReport{}, ErrNegativeThreshold
	}
	key := reportKey(inventoryID, thresholdPercent)
	value, err, _ := p.group.Do(key, func() (interface{}, error) {
		inv, err := p.repo.GetInventory(ctx, inventoryID)
		if err != nil {
			return nil, err
		}
		// Count lines still change while DRAFT or IN_PROGRESS.
		if inv.Status != StatusCompleted && inv.Status != StatusApproved {
			return p.service.Analyze(ctx, inventoryID, thresholdPercent)
		}
		var report VarianceReport
		err = p.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (interface{}, error) {
			return p.service.Analyze(ctx, inventoryID, thresholdPercent)
		})
		return report, err
	})
	if err != nil {
		return VarianceReport{}, err
	}
	return value.(VarianceReport), nil
}
