package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voassist/vo/internal/channels"
	"github.com/voassist/vo/internal/db"
	"github.com/voassist/vo/internal/search"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	ctx := context.Background()
	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	idx, err := search.NewIndex(ctx, d)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return NewStore(d, idx)
}

type stubChannel struct {
	id      string
	private bool
}

func (c *stubChannel) ID() string                                   { return c.id }
func (c *stubChannel) TypeName() string                             { return "stub" }
func (c *stubChannel) IsGroup() bool                                { return !c.private }
func (c *stubChannel) IsPrivate() bool                              { return c.private }
func (c *stubChannel) StartStreaming(context.Context) error         { return nil }
func (c *stubChannel) AppendToStream(context.Context, string) error { return nil }
func (c *stubChannel) FinishStreaming(context.Context) error        { return nil }
func (c *stubChannel) SendMessage(context.Context, string) error    { return nil }
func (c *stubChannel) CurrentUser() *channels.User                  { return nil }
func (c *stubChannel) Close() error                                 { return nil }

func keys(hits []Retrieved) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Key
	}
	return out
}

func TestSaveValidatesPriority(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if err := s.Save(ctx, Memory{Key: "k", Value: "v", Priority: "urgent"}, nil); err == nil {
		t.Fatal("invalid priority accepted")
	}
	if err := s.Save(ctx, Memory{Key: "k", Value: "v"}, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := s.Get(ctx, "k")
	if err != nil || m == nil {
		t.Fatalf("get: (%v, %v)", m, err)
	}
	if m.Priority != PriorityMedium {
		t.Fatalf("default priority = %q, want medium", m.Priority)
	}
}

func TestSaveOverwritesByKey(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if err := s.Save(ctx, Memory{Key: "color", Value: "blue"}, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, Memory{Key: "color", Value: "green", Priority: PriorityHigh}, nil); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	m, err := s.Get(ctx, "color")
	if err != nil || m == nil {
		t.Fatalf("get: (%v, %v)", m, err)
	}
	if m.Value != "green" || m.Priority != PriorityHigh {
		t.Fatalf("overwrite lost: %+v", m)
	}
	ms, err := s.List(ctx)
	if err != nil || len(ms) != 1 {
		t.Fatalf("list: %v (%v)", ms, err)
	}
}

func TestRetrieveRespectsChannelVisibility(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	dmA := &stubChannel{id: "dm-a", private: true}
	dmB := &stubChannel{id: "dm-b", private: true}
	group := &stubChannel{id: "lobby", private: false}

	if err := s.Save(ctx, Memory{Key: "private_fact", Value: "favorite color is teal"}, dmA); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, Memory{Key: "public_fact", Value: "favorite language is Go"}, group); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Same private channel sees both.
	hits, err := s.Retrieve(ctx, "favorite color language", dmA, 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got := strings.Join(keys(hits), ",")
	if !strings.Contains(got, "private_fact") || !strings.Contains(got, "public_fact") {
		t.Fatalf("dm-a sees %q, want both facts", got)
	}

	// A different private channel sees only the public memory.
	hits, err = s.Retrieve(ctx, "favorite color language", dmB, 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got = strings.Join(keys(hits), ",")
	if strings.Contains(got, "private_fact") {
		t.Fatalf("dm-b leaked a private memory: %q", got)
	}
	if !strings.Contains(got, "public_fact") {
		t.Fatalf("dm-b missing public memory: %q", got)
	}
}

func TestRetrieveReranksByPriority(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	// Identical text gives identical match scores; the priority multiplier
	// must decide the order.
	if err := s.Save(ctx, Memory{Key: "low_note", Value: "deploy window is friday", Priority: PriorityLow}, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, Memory{Key: "high_note", Value: "deploy window is friday", Priority: PriorityHigh}, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	hits, err := s.Retrieve(ctx, "deploy window", nil, 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2: %v", len(hits), keys(hits))
	}
	if hits[0].Key != "high_note" {
		t.Fatalf("order = %v, want high_note first", keys(hits))
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("scores not reranked: %v vs %v", hits[0].Score, hits[1].Score)
	}
}

func TestRetrieveHonorsLimit(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	for _, key := range []string{"a", "b", "c", "d"} {
		if err := s.Save(ctx, Memory{Key: key, Value: "shared topic " + key}, nil); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	hits, err := s.Retrieve(ctx, "shared topic", nil, 2)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("limit ignored: %d hits", len(hits))
	}
}

func TestRemoveDeletesRowAndDocument(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if err := s.Save(ctx, Memory{Key: "gone", Value: "short lived fact"}, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	removed, err := s.Remove(ctx, "gone")
	if err != nil || !removed {
		t.Fatalf("remove: (%v, %v)", removed, err)
	}
	m, err := s.Get(ctx, "gone")
	if err != nil || m != nil {
		t.Fatalf("row survived: (%v, %v)", m, err)
	}
	hits, err := s.Retrieve(ctx, "short lived fact", nil, 10)
	if err != nil || len(hits) != 0 {
		t.Fatalf("document survived: %v (%v)", keys(hits), err)
	}
	removed, err = s.Remove(ctx, "gone")
	if err != nil || removed {
		t.Fatalf("second remove reported success: (%v, %v)", removed, err)
	}
}

func TestRenderSection(t *testing.T) {
	if got := RenderSection(nil); got != "" {
		t.Fatalf("empty input rendered %q", got)
	}
	got := RenderSection([]Retrieved{
		{Memory: Memory{Key: "k1", Value: "v1"}},
		{Memory: Memory{Key: "k2", Value: "v2"}},
	})
	if !strings.HasPrefix(got, "## Relevant Memories\n\n") {
		t.Fatalf("missing header: %q", got)
	}
	if !strings.Contains(got, "- k1: v1\n") || !strings.Contains(got, "- k2: v2\n") {
		t.Fatalf("missing entries: %q", got)
	}
}
