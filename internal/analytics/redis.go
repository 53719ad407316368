// Package analytics keeps hourly execution outcome counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"execplane/internal/store"

	"github.com/redis/go-redis/v9"
)

const DefaultRetention = 7 * 24 * time.Hour

// Recorder is a terminal hook that counts outcomes per hour, globally and per client.
type Recorder struct {
	client    redis.Cmdable
	retention time.Duration
	now       func() time.Time
}

func NewRecorder(client redis.Cmdable, retention time.Duration) *Recorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Recorder{client: client, retention: retention, now: time.Now}
}

// NewClient parses a redis:// URL.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (r *Recorder) Name() string { return "analytics" }

func (r *Recorder) OnTerminal(ctx context.Context, e *store.Execution) error {
	at := r.now()
	if e.FinishedAt != nil {
		at = *e.FinishedAt
	}

	pipe := r.client.Pipeline()
	for _, key := range Keys(e, at) {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Keys returns the counters incremented for e in the hour bucket of at.
func Keys(e *store.Execution, at time.Time) []string {
	bucket := hourBucket(at)
	return []string{
		fmt.Sprintf("execplane:outcome:%s:%s", e.Status, bucket),
		fmt.Sprintf("execplane:client:%s:%s:%s", e.ClientID, e.Status, bucket),
	}
}

func hourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}
