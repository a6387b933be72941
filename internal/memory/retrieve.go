package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/voassist/vo/internal/channels"
)

// priorityMultiplier weights retrieval scores so important memories
// surface even when their text match is weaker.
func priorityMultiplier(p string) float64 {
	switch p {
	case PriorityHigh:
		return 1.3
	case PriorityLow:
		return 0.7
	default:
		return 1.0
	}
}

// Retrieved is a memory plus its rerank score.
type Retrieved struct {
	Memory
	Score float64
}

// Retrieve queries the index with query text, keeps only memories visible
// from ch, and reranks by score times priority multiplier. The query is
// capped before it hits the index.
func (s *Store) Retrieve(ctx context.Context, query string, ch channels.Channel, limit int) ([]Retrieved, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 6
	}

	// OR-tag filter: public memories plus this channel's scoped ones.
	tags := []string{TagPublic}
	if ch != nil {
		tags = append(tags, ChannelTag(ch.ID()))
	}

	hits, err := s.index.Search(ctx, query, tags, limit*2, false)
	if err != nil {
		return nil, fmt.Errorf("memory: retrieve: %w", err)
	}

	var out []Retrieved
	for _, hit := range hits {
		key, ok := strings.CutPrefix(hit.ID, "agent_data:")
		if !ok {
			continue
		}
		m, err := s.Get(ctx, key)
		if err != nil {
			slog.Debug("memory: lookup during retrieve failed", "key", key, "error", err)
			continue
		}
		if m == nil {
			continue
		}
		out = append(out, Retrieved{
			Memory: *m,
			Score:  hit.Score * priorityMultiplier(m.Priority),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RenderSection formats retrieved memories as the prompt section injected
// ahead of any trigger prompt. Empty input renders nothing.
func RenderSection(ms []Retrieved) string {
	if len(ms) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Relevant Memories\n\n")
	for _, m := range ms {
		fmt.Fprintf(&b, "- %s: %s\n", m.Key, m.Value)
	}
	return b.String()
}
