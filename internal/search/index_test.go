package search

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voassist/vo/internal/db"
)

func testIndex(t *testing.T) *Index {
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
	idx, err := NewIndex(ctx, d)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return idx
}

func ids(rs []Result) string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return strings.Join(out, ",")
}

func TestSearchRanksMatches(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	docs := map[string]string{
		"memory:1": "the deploy pipeline runs on fridays",
		"memory:2": "lunch is at noon",
		"memory:3": "deploy freezes block the pipeline before releases",
	}
	for id, text := range docs {
		if err := ix.Load(ctx, id, text, "", nil); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}

	rs, err := ix.Search(ctx, "deploy pipeline", nil, 10, false)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("got %v, want the two deploy docs", ids(rs))
	}
	for _, r := range rs {
		if r.ID == "memory:2" {
			t.Fatalf("unrelated doc matched: %v", ids(rs))
		}
		if r.Score <= 0 {
			t.Fatalf("score not positive: %+v", r)
		}
	}
}

func TestLoadReplacesByID(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	if err := ix.Load(ctx, "memory:1", "old text about cats", "", []string{"a"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ix.Load(ctx, "memory:1", "new text about dogs", "", []string{"b"}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	rs, err := ix.Search(ctx, "cats", nil, 10, false)
	if err != nil || len(rs) != 0 {
		t.Fatalf("stale text still matches: %v (%v)", ids(rs), err)
	}
	rs, err = ix.Search(ctx, "dogs", nil, 10, false)
	if err != nil || len(rs) != 1 {
		t.Fatalf("new text missing: %v (%v)", ids(rs), err)
	}
	tags, err := ix.Tags(ctx, "memory:1")
	if err != nil || len(tags) != 1 || tags[0] != "b" {
		t.Fatalf("tags not replaced: %v (%v)", tags, err)
	}
}

func TestSearchTagFilterIsOR(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	load := func(id string, tags ...string) {
		if err := ix.Load(ctx, id, "shared topic text", "", tags); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	load("doc:pub", "agent_data:public")
	load("doc:a", "agent_data:ch:dm-a")
	load("doc:b", "agent_data:ch:dm-b")

	rs, err := ix.Search(ctx, "shared topic",
		[]string{"agent_data:public", "agent_data:ch:dm-a"}, 10, false)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	got := ids(rs)
	if !strings.Contains(got, "doc:pub") || !strings.Contains(got, "doc:a") {
		t.Fatalf("tagged docs missing: %q", got)
	}
	if strings.Contains(got, "doc:b") {
		t.Fatalf("foreign tag leaked through: %q", got)
	}
}

func TestDeleteRemovesDocument(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	if err := ix.Load(ctx, "memory:1", "transient note", "", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ix.Delete(ctx, "memory:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rs, err := ix.Search(ctx, "transient note", nil, 10, false)
	if err != nil || len(rs) != 0 {
		t.Fatalf("deleted doc still matches: %v (%v)", ids(rs), err)
	}
	tags, err := ix.Tags(ctx, "memory:1")
	if err != nil || tags != nil {
		t.Fatalf("tags survived delete: %v (%v)", tags, err)
	}
	// Deleting again is a no-op.
	if err := ix.Delete(ctx, "memory:1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestFTSQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain words", "deploy pipeline", `"deploy" OR "pipeline"`},
		{"strips punctuation", `what's the "plan"?`, `"what" OR "the" OR "plan"`},
		{"drops single chars", "a b deploy", `"deploy"`},
		{"empty", "  ??!  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ftsQuery(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFTSQueryCapsTokens(t *testing.T) {
	words := make([]string, 40)
	for i := range words {
		words[i] = "word" + strings.Repeat("x", i%5)
	}
	got := ftsQuery(strings.Join(words, " "))
	if n := strings.Count(got, " OR ") + 1; n > 16 {
		t.Fatalf("got %d tokens, want at most 16", n)
	}
}

// MMR should demote a near-duplicate of the best hit in favor of a
// distinct document.
func TestSearchMMRDiversifies(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	load := func(id, text string) {
		if err := ix.Load(ctx, id, text, "", nil); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	load("doc:1", "deploy deploy window friday release train")
	load("doc:2", "deploy deploy window friday release train")
	load("doc:3", "deploy window friday checklist updated wiki")

	rs, err := ix.Search(ctx, "deploy window friday", nil, 2, true)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("got %v", ids(rs))
	}
	if rs[1].ID != "doc:3" {
		t.Fatalf("duplicate not demoted: %v", ids(rs))
	}
}
