// Package search provides the full-text index consulted for relevance
// ranking. The authoritative rows live in regular SQLite tables; this index
// only has to answer "which documents look most related to this text".
//
// Document ids follow a namespace prefix convention:
//
//	memory:<hash>
//	agent_data:<key>
//	session:<session_id>:<entry_id>
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voassist/vo/internal/db"
)

// Result is one search hit, ordered best-first.
type Result struct {
	ID    string
	Text  string
	Title string
	Score float64
}

// Index is a BM25 index over namespaced documents with tag filtering.
// Tag semantics are OR: a document matches if any supplied tag is in its
// tag set.
type Index struct {
	db *db.DB
}

// NewIndex creates the backing tables if needed and returns the index.
func NewIndex(ctx context.Context, d *db.DB) (*Index, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS search_docs (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS search_fts USING fts5(doc_id UNINDEXED, title, body)`,
	}
	for _, ddl := range stmts {
		if _, err := d.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("search: create: %w", err)
		}
	}
	return &Index{db: d}, nil
}

// Load inserts or replaces a document. Re-loading an id replaces its text,
// title, and tags.
func (ix *Index) Load(ctx context.Context, id, text, title string, tags []string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO search_docs (id, title, text, tags) VALUES (?, ?, ?, ?)`,
		id, title, text, string(tagsJSON)); err != nil {
		return fmt.Errorf("search: load %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM search_fts WHERE doc_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO search_fts (doc_id, title, body) VALUES (?, ?, ?)`,
		id, title, text); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a document. Deleting an unknown id is a no-op.
func (ix *Index) Delete(ctx context.Context, id string) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM search_docs WHERE id = ?`, id); err != nil {
		return err
	}
	_, err := ix.db.ExecContext(ctx, `DELETE FROM search_fts WHERE doc_id = ?`, id)
	return err
}

// Search returns up to limit documents ranked by BM25, optionally filtered
// by tags (OR) and diversified with MMR.
func (ix *Index) Search(ctx context.Context, query string, tags []string, limit int, mmr bool) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	// Over-fetch so tag filtering and MMR still have candidates to work with.
	rows, err := ix.db.QueryContext(ctx,
		`SELECT f.doc_id, d.title, d.text, d.tags, -rank AS score
		 FROM search_fts f
		 JOIN search_docs d ON d.id = f.doc_id
		 WHERE search_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`, match, limit*4)
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}
	defer rows.Close()

	var candidates []Result
	for rows.Next() {
		var (
			r        Result
			tagsJSON string
			score    sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Text, &tagsJSON, &score); err != nil {
			return nil, err
		}
		r.Score = score.Float64
		if len(tags) > 0 && !anyTagMatch(tagsJSON, tags) {
			continue
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if mmr {
		candidates = diversify(candidates, limit)
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// Tags returns the stored tag set for a document id, or nil if absent.
func (ix *Index) Tags(ctx context.Context, id string) ([]string, error) {
	var tagsJSON string
	err := ix.db.QueryRowContext(ctx, `SELECT tags FROM search_docs WHERE id = ?`, id).Scan(&tagsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func anyTagMatch(tagsJSON string, want []string) bool {
	var have []string
	if err := json.Unmarshal([]byte(tagsJSON), &have); err != nil {
		slog.Debug("search: bad tags json", "tags", tagsJSON)
		return false
	}
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

// ftsQuery turns free text into a safe FTS5 MATCH expression: quoted tokens
// joined with OR, capped so pathological inputs stay cheap.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') &&
			!(r >= '0' && r <= '9') && r < 0x80
	})
	const maxTokens = 16
	var tokens []string
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		tokens = append(tokens, `"`+f+`"`)
		if len(tokens) >= maxTokens {
			break
		}
	}
	return strings.Join(tokens, " OR ")
}

// diversify applies greedy MMR: repeatedly take the candidate with the best
// score discounted by word overlap with what was already selected.
func diversify(candidates []Result, limit int) []Result {
	if len(candidates) <= 1 {
		return candidates
	}
	const lambda = 0.7

	remaining := append([]Result(nil), candidates...)
	selected := make([]Result, 0, limit)

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx, bestVal := 0, -1.0
		for i, c := range remaining {
			overlap := 0.0
			for _, s := range selected {
				if o := wordOverlap(c.Text, s.Text); o > overlap {
					overlap = o
				}
			}
			val := lambda*c.Score - (1-lambda)*overlap*c.Score
			if i == 0 || val > bestVal {
				bestIdx, bestVal = i, val
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func wordOverlap(a, b string) float64 {
	aw := strings.Fields(strings.ToLower(a))
	bw := strings.Fields(strings.ToLower(b))
	if len(aw) == 0 || len(bw) == 0 {
		return 0
	}
	set := make(map[string]bool, len(aw))
	for _, w := range aw {
		set[w] = true
	}
	common := 0
	for _, w := range bw {
		if set[w] {
			common++
		}
	}
	denom := len(aw)
	if len(bw) < denom {
		denom = len(bw)
	}
	return float64(common) / float64(denom)
}
