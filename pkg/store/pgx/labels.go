package pgx

import (
	"context"
	"fmt"

	"github.com/lemonslut/that-news-thing-again/pkg/store"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

// trendable_type values are shared with the admin application.
var trendableTypes = map[trend.Kind]string{
	trend.KindStory:    "Story",
	trend.KindSubject:  "Concept",
	trend.KindCategory: "Category",
}

func trendableType(k trend.Kind) string {
	if t, ok := trendableTypes[k]; ok {
		return t
	}
	return string(k)
}

func kindOf(trendable string) (trend.Kind, error) {
	for k, t := range trendableTypes {
		if t == trendable {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown trendable type %q", trendable)
}

// Labelers returns a label source for each trend kind.
func (s *NewsDBStorage) Labelers() trend.Labelers {
	return trend.Labelers{
		trend.KindStory:    s.labelSource(storyLabelsSQL),
		trend.KindSubject:  s.labelSource(conceptLabelsSQL),
		trend.KindCategory: s.labelSource(categoryLabelsSQL),
	}
}

func (s *NewsDBStorage) labelSource(query string) trend.LabelSource {
	return trend.LabelSourceFunc(func(ctx context.Context, ids []int64) (map[int64]string, error) {
		ids = store.DedupeIDs(ids)
		out := make(map[int64]string, len(ids))
		err := store.ChunkRange(len(ids), idChunkSize, func(start, end int) error {
			rows, err := s.conn.Query(ctx, query, ids[start:end])
			if err != nil {
				return fmt.Errorf("failed to query labels: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				var label string
				if err := rows.Scan(&id, &label); err != nil {
					return fmt.Errorf("failed to scan label: %w", err)
				}
				out[id] = label
			}
			return rows.Err()
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

const storyLabelsSQL = `SELECT id, title FROM stories WHERE id = ANY($1);`

const conceptLabelsSQL = `SELECT id, label FROM concepts WHERE id = ANY($1);`

const categoryLabelsSQL = `SELECT id, label FROM categories WHERE id = ANY($1);`
