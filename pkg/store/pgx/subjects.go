package pgx

import (
	"context"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/lemonslut/that-news-thing-again/pkg/store"
	"github.com/lemonslut/that-news-thing-again/pkg/subject"
)

func (s *NewsDBStorage) SubjectsOf(ctx context.Context, articleID int64) ([]subject.Subject, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, articleExistsSQL, articleID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check article: %w", err)
	}
	if !exists {
		return nil, notFound("article", articleID, pgxv5.ErrNoRows)
	}

	byArticle, err := s.SubjectsOfMany(ctx, []int64{articleID})
	if err != nil {
		return nil, err
	}
	return byArticle[articleID], nil
}

// SubjectsOfMany loads subjects for many articles, chunking the id list.
func (s *NewsDBStorage) SubjectsOfMany(ctx context.Context, articleIDs []int64) (map[int64][]subject.Subject, error) {
	ids := store.DedupeIDs(articleIDs)
	out := make(map[int64][]subject.Subject, len(ids))

	err := store.ChunkRange(len(ids), idChunkSize, func(start, end int) error {
		rows, err := s.conn.Query(ctx, subjectsOfManySQL, ids[start:end])
		if err != nil {
			return fmt.Errorf("failed to query subjects: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var articleID int64
			var sub subject.Subject
			var kind string
			if err := rows.Scan(&articleID, &sub.ID, &kind, &sub.Label); err != nil {
				return fmt.Errorf("failed to scan subject: %w", err)
			}
			sub.Kind = subject.Kind(kind)
			out[articleID] = append(out[articleID], sub)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const articleExistsSQL = `
SELECT EXISTS (SELECT 1 FROM articles WHERE id = $1);
`

const subjectsOfManySQL = `
SELECT s.article_id, c.id, c.concept_type, c.label
FROM article_subjects s
JOIN concepts c ON c.id = s.concept_id
WHERE s.article_id = ANY($1)
ORDER BY s.article_id, c.id;
`
