// Package retention deletes old terminal executions on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "0 3 * * *"

// Purger deletes terminal executions finished before cutoff.
type Purger interface {
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job purges executions older than Retention on Schedule.
type Job struct {
	purger    Purger
	retention time.Duration
	schedule  cron.Schedule
	spec      string
	clock     func() time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// New validates spec and returns a Job. A non-positive retention is an error;
// callers skip the job entirely when retention is disabled.
func New(p Purger, retention time.Duration, spec string) (*Job, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", spec, err)
	}
	return &Job{purger: p, retention: retention, schedule: sched, spec: spec, clock: time.Now}, nil
}

// Next returns the next run after t.
func (j *Job) Next(t time.Time) time.Time {
	return j.schedule.Next(t.UTC())
}

// RunOnce purges everything that finished more than the retention ago.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.clock().UTC().Add(-j.retention)
	n, err := j.purger.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

// Run schedules RunOnce and blocks until ctx is cancelled, then waits for a
// running purge to finish.
func (j *Job) Run(ctx context.Context) {
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	c.Schedule(j.schedule, cron.FuncJob(func() {
		n, err := j.RunOnce(ctx)
		if err != nil {
			log.Printf("retention: %v", err)
			return
		}
		log.Printf("retention: purged %d executions older than %s", n, j.retention)
	}))

	log.Printf("retention: started (schedule=%q, retention=%s)", j.spec, j.retention)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	log.Println("retention: stopped")
}
