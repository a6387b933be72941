package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/voassist/vo/internal/bus"
	"github.com/voassist/vo/internal/db"
	"github.com/voassist/vo/internal/registry"
)

func testScheduler(t *testing.T, now *time.Time) (*Scheduler, *bus.Queue, *registry.Registry) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := registry.New(d)
	q := bus.NewQueue()
	s := New(d, reg, q, WithNow(func() time.Time { return *now }))
	return s, q, reg
}

func TestAddJobRegistersEventTypeAndHandler(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _, reg := testScheduler(t, &now)

	err := s.AddJob(ctx, Job{
		Name: "standup", Cron: "0 9 * * *", Prompt: "Post the standup reminder.", ChannelID: "ws:lobby",
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	ok, err := reg.EventTypeExists(ctx, "tempus_job:standup")
	if err != nil || !ok {
		t.Fatalf("event type missing: (%v, %v)", ok, err)
	}
	hs, err := reg.HandlersFor(ctx, "tempus_job:standup")
	if err != nil || len(hs) != 1 {
		t.Fatalf("handler missing: %v (%v)", hs, err)
	}
	if hs[0].ChannelID != "ws:lobby" || hs[0].Prompt != "Post the standup reminder." {
		t.Fatalf("handler wrong: %+v", hs[0])
	}
}

func TestAddJobRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s, _, _ := testScheduler(t, &now)

	if err := s.AddJob(ctx, Job{Name: "x", Cron: "not a cron"}); err == nil {
		t.Fatal("invalid cron accepted")
	}
	if err := s.AddJob(ctx, Job{Name: "x", Cron: "* * * * *", Timezone: "Mars/Olympus"}); err == nil {
		t.Fatal("invalid timezone accepted")
	}
	if err := s.AddJob(ctx, Job{Cron: "* * * * *"}); err == nil {
		t.Fatal("empty name accepted")
	}
}

func TestEvaluateFiresDueJobOncePerMinute(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	s, q, _ := testScheduler(t, &now)

	if err := s.AddJob(ctx, Job{Name: "five", Cron: "*/5 * * * *", ChannelID: "repl"}); err != nil {
		t.Fatalf("add job: %v", err)
	}

	// 12:05 is due for */5. Three evaluations inside the same minute must
	// produce exactly one event.
	s.Evaluate(ctx)
	now = now.Add(10 * time.Second)
	s.Evaluate(ctx)
	now = now.Add(10 * time.Second)
	s.Evaluate(ctx)
	if q.Len() != 1 {
		t.Fatalf("got %d events, want 1", q.Len())
	}

	ev, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Type() != "tempus_job:five" {
		t.Fatalf("event type = %q", ev.Type())
	}
	if ev.Channel() != nil {
		t.Fatal("scheduled event carries a channel")
	}

	// 12:06 is not due; 12:10 is.
	now = time.Date(2026, 3, 1, 12, 6, 0, 0, time.UTC)
	s.Evaluate(ctx)
	if q.Len() != 0 {
		t.Fatal("fired on a non-matching minute")
	}
	now = time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	s.Evaluate(ctx)
	if q.Len() != 1 {
		t.Fatalf("got %d events at next due minute, want 1", q.Len())
	}
}

func TestRemoveJobRemovesHandlerAndEventType(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s, _, reg := testScheduler(t, &now)

	if err := s.AddJob(ctx, Job{Name: "cleanup", Cron: "0 0 * * *", ChannelID: "repl"}); err != nil {
		t.Fatalf("add job: %v", err)
	}
	removed, err := s.RemoveJob(ctx, "cleanup")
	if err != nil || !removed {
		t.Fatalf("remove: (%v, %v)", removed, err)
	}

	ok, err := reg.EventTypeExists(ctx, "tempus_job:cleanup")
	if err != nil || ok {
		t.Fatalf("event type survived: (%v, %v)", ok, err)
	}
	hs, err := reg.HandlersFor(ctx, "tempus_job:cleanup")
	if err != nil || len(hs) != 0 {
		t.Fatalf("handler survived: %v (%v)", hs, err)
	}

	removed, err = s.RemoveJob(ctx, "cleanup")
	if err != nil || removed {
		t.Fatalf("second remove reported success: (%v, %v)", removed, err)
	}
}

func TestAddJobReplacesByName(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s, _, _ := testScheduler(t, &now)

	if err := s.AddJob(ctx, Job{Name: "j", Cron: "0 9 * * *", ChannelID: "a"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddJob(ctx, Job{Name: "j", Cron: "0 10 * * *", ChannelID: "b"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	jobs, err := s.Jobs(ctx)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Cron != "0 10 * * *" || jobs[0].ChannelID != "b" {
		t.Fatalf("job not replaced: %+v", jobs)
	}
}
