// Package scheduler turns cron expressions into synthetic events. Each job
// owns an event type named tempus_job:<name> and a matching handler, so a
// firing job flows through the same dispatch path as any channel message.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/db"
	"github.com/voassist/vo/internal/registry"
)

// eventTypePrefix namespaces job event types away from channel events.
const eventTypePrefix = "tempus_job:"

// Job is one durable scheduled task.
type Job struct {
	Name      string
	Cron      string
	Prompt    string
	ChannelID string
	Timezone  string
	CreatedAt time.Time
}

// EventTypeName returns the event type a job fires.
func EventTypeName(job string) string { return eventTypePrefix + job }

// Scheduler evaluates job cron expressions once per tick and pushes a
// synthetic event for each due job. Ticks that pass while the process is
// down are not replayed.
type Scheduler struct {
	db    *db.DB
	reg   *registry.Registry
	queue *bus.Queue
	gron  *gronx.Gronx

	now  func() time.Time
	tick time.Duration

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// Option adjusts scheduler behavior, mostly for tests.
type Option func(*Scheduler)

// WithNow substitutes the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTickInterval changes how often jobs are evaluated.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// New returns a scheduler over the jobs table.
func New(d *db.DB, reg *registry.Registry, q *bus.Queue, opts ...Option) *Scheduler {
	s := &Scheduler{
		db:        d,
		reg:       reg,
		queue:     q,
		gron:      gronx.New(),
		now:       time.Now,
		tick:      time.Minute,
		lastFired: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob validates and persists a job, registering its event type and a
// handler wired to the job's channel. Reusing a name replaces the job.
func (s *Scheduler) AddJob(ctx context.Context, job Job) error {
	if job.Name == "" {
		return fmt.Errorf("scheduler: job with empty name")
	}
	if !s.gron.IsValid(job.Cron) {
		return fmt.Errorf("scheduler: invalid cron expression %q", job.Cron)
	}
	if job.Timezone != "" {
		if _, err := time.LoadLocation(job.Timezone); err != nil {
			return fmt.Errorf("scheduler: invalid timezone %q: %w", job.Timezone, err)
		}
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (name, cron, prompt, channel_id, timezone, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			cron = excluded.cron, prompt = excluded.prompt,
			channel_id = excluded.channel_id, timezone = excluded.timezone`,
		job.Name, job.Cron, job.Prompt, job.ChannelID, job.Timezone, job.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("scheduler: save job %s: %w", job.Name, err)
	}

	et := EventTypeName(job.Name)
	if err := s.reg.UpsertEventType(ctx, bus.EventType{
		Name:        et,
		Description: fmt.Sprintf("Scheduled job %q (%s)", job.Name, job.Cron),
	}); err != nil {
		return err
	}
	return s.reg.UpsertHandler(ctx, bus.HandlerSpec{
		ID:         et,
		Prompt:     job.Prompt,
		ChannelID:  job.ChannelID,
		EventTypes: []string{et},
	})
}

// RemoveJob deletes a job plus its event type and handler. Returns false
// when no job had that name.
func (s *Scheduler) RemoveJob(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("scheduler: remove job %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	et := EventTypeName(name)
	if _, err := s.reg.RemoveHandler(ctx, et); err != nil {
		return true, err
	}
	if err := s.reg.RemoveEventType(ctx, et); err != nil {
		return true, err
	}

	s.mu.Lock()
	delete(s.lastFired, name)
	s.mu.Unlock()
	return true, nil
}

// Jobs returns all jobs sorted by name.
func (s *Scheduler) Jobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, cron, prompt, channel_id, timezone, created_at
		FROM jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var (
			j       Job
			created int64
		)
		if err := rows.Scan(&j.Name, &j.Cron, &j.Prompt, &j.ChannelID, &j.Timezone, &created); err != nil {
			return nil, err
		}
		j.CreatedAt = time.Unix(created, 0)
		out = append(out, j)
	}
	return out, rows.Err()
}

// Run evaluates jobs every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	slog.Info("scheduler: running", "tick", s.tick)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evaluate(ctx)
		}
	}
}

// Evaluate fires every job due at the current clock minute. Exported so
// tests can step the scheduler without a ticker.
func (s *Scheduler) Evaluate(ctx context.Context) {
	jobs, err := s.Jobs(ctx)
	if err != nil {
		slog.Error("scheduler: load jobs", "error", err)
		return
	}

	now := s.now()
	for _, job := range jobs {
		at := now
		if job.Timezone != "" {
			loc, err := time.LoadLocation(job.Timezone)
			if err != nil {
				slog.Warn("scheduler: bad timezone", "job", job.Name, "tz", job.Timezone)
				continue
			}
			at = now.In(loc)
		}

		due, err := s.gron.IsDue(job.Cron, at)
		if err != nil {
			slog.Warn("scheduler: cron check failed", "job", job.Name, "error", err)
			continue
		}
		if !due {
			continue
		}

		// One fire per job per minute, even when ticks are sub-minute.
		minute := at.Truncate(time.Minute)
		s.mu.Lock()
		if s.lastFired[job.Name].Equal(minute) {
			s.mu.Unlock()
			continue
		}
		s.lastFired[job.Name] = minute
		s.mu.Unlock()

		slog.Info("scheduler: job due", "job", job.Name, "cron", job.Cron)
		s.queue.Push(&bus.ScheduledEvent{
			EventType: EventTypeName(job.Name),
			Body:      fmt.Sprintf("Scheduled job %q fired at %s.", job.Name, at.Format(time.RFC3339)),
		})
	}
}
