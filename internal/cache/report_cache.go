package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmarronnier/docusphere-sub011/internal/schedule"
)

// ReportCache keeps recently generated progress reports in Redis, keyed by
// project. Entries expire after ttl and are dropped on any project write.
type ReportCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewReportCache(client redis.Cmdable, prefix string, ttl time.Duration) *ReportCache {
	if prefix == "" {
		prefix = "dsp:report:"
	}
	return &ReportCache{client: client, prefix: prefix, ttl: ttl}
}

// Dial connects to Redis and pings it once.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (c *ReportCache) key(projectID string) string {
	return c.prefix + projectID
}

// Get returns the cached report; found is false on a miss.
func (c *ReportCache) Get(ctx context.Context, projectID string) (schedule.ProgressReport, bool, error) {
	raw, err := c.client.Get(ctx, c.key(projectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return schedule.ProgressReport{}, false, nil
	}
	if err != nil {
		return schedule.ProgressReport{}, false, fmt.Errorf("redis get %q: %w", c.key(projectID), err)
	}
	var report schedule.ProgressReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return schedule.ProgressReport{}, false, fmt.Errorf("unmarshal cached report %q: %w", projectID, err)
	}
	return report, true, nil
}

func (c *ReportCache) Put(ctx context.Context, report schedule.ProgressReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := c.client.Set(ctx, c.key(report.ProjectID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", c.key(report.ProjectID), err)
	}
	return nil
}

func (c *ReportCache) Invalidate(ctx context.Context, projectID string) error {
	if err := c.client.Del(ctx, c.key(projectID)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", c.key(projectID), err)
	}
	return nil
}
