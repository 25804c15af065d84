package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/lemonslut/that-news-thing-again/internal/util"
	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
)

// maxTitleLength matches what the admin UI displays without wrapping.
const maxTitleLength = 500

func (s *NewsDBStorage) GetArticle(ctx context.Context, id int64) (story.Article, error) {
	var a story.Article
	err := s.conn.QueryRow(ctx, getArticleSQL, id).Scan(&a.ID, &a.Title, &a.SourceName, &a.PublishedAt, &a.StoryID)
	if err != nil {
		return story.Article{}, notFound("article", id, err)
	}
	return a, nil
}

func (s *NewsDBStorage) GetStory(ctx context.Context, id int64) (story.Story, error) {
	st, err := scanStory(s.conn.QueryRow(ctx, getStorySQL, id))
	if err != nil {
		return story.Story{}, notFound("story", id, err)
	}
	members, err := s.memberIDs(ctx, s.conn, []int64{id})
	if err != nil {
		return story.Story{}, err
	}
	st.MemberIDs = members[id]
	return st, nil
}

func (s *NewsDBStorage) StoryArticles(ctx context.Context, id int64) ([]story.Article, error) {
	if _, err := s.GetStory(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, storyArticlesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query story articles: %w", err)
	}
	return scanArticles(rows)
}

func (s *NewsDBStorage) ActiveStories(ctx context.Context, since time.Time) ([]story.Story, error) {
	rows, err := s.conn.Query(ctx, activeStoriesSQL, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active stories: %w", err)
	}
	defer rows.Close()

	stories := make([]story.Story, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		stories = append(stories, st)
		ids = append(ids, st.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	members, err := s.memberIDs(ctx, s.conn, ids)
	if err != nil {
		return nil, err
	}
	for i := range stories {
		stories[i].MemberIDs = members[stories[i].ID]
	}
	return stories, nil
}

func (s *NewsDBStorage) UnclusteredArticlesInWindow(ctx context.Context, before time.Time, window time.Duration, excludeID int64) ([]story.Article, error) {
	rows, err := s.conn.Query(ctx, unclusteredInWindowSQL, before.Add(-window), before, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unclustered articles: %w", err)
	}
	return scanArticles(rows)
}

func (s *NewsDBStorage) UnclusteredSince(ctx context.Context, since time.Time) ([]story.Article, error) {
	rows, err := s.conn.Query(ctx, unclusteredSinceSQL, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query unclustered articles: %w", err)
	}
	return scanArticles(rows)
}

// AttachArticle adds an article to a story. The story row stays locked
// until the recomputed bounds are committed, so concurrent attaches queue.
func (s *NewsDBStorage) AttachArticle(ctx context.Context, articleID, storyID int64) (story.Story, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return story.Story{}, common.Persistence("attach article", err)
	}
	defer tx.Rollback(ctx)

	var locked int64
	if err := tx.QueryRow(ctx, lockStorySQL, storyID).Scan(&locked); err != nil {
		return story.Story{}, common.Persistence("attach article", notFound("story", storyID, err))
	}

	tag, err := tx.Exec(ctx, assignArticleSQL, articleID, storyID)
	if err != nil {
		return story.Story{}, common.Persistence("attach article", err)
	}
	if tag.RowsAffected() == 0 {
		return story.Story{}, s.unassignable(ctx, tx, articleID)
	}

	st, err := s.refreshStory(ctx, tx, storyID)
	if err != nil {
		return story.Story{}, common.Persistence("attach article", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return story.Story{}, common.Persistence("attach article", err)
	}
	return st, nil
}

// CreateStory founds a story from unclustered articles in one transaction.
func (s *NewsDBStorage) CreateStory(ctx context.Context, title string, memberIDs []int64) (story.Story, error) {
	if len(memberIDs) == 0 {
		return story.Story{}, common.Persistence("create story", errors.New("no members"))
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return story.Story{}, common.Persistence("create story", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, lockArticlesSQL, memberIDs)
	if err != nil {
		return story.Story{}, common.Persistence("create story", err)
	}
	found := make(map[int64]bool, len(memberIDs))
	for rows.Next() {
		var id int64
		var storyID *int64
		if err := rows.Scan(&id, &storyID); err != nil {
			rows.Close()
			return story.Story{}, common.Persistence("create story", err)
		}
		found[id] = storyID != nil
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return story.Story{}, common.Persistence("create story", err)
	}
	for _, id := range memberIDs {
		clustered, ok := found[id]
		if !ok {
			return story.Story{}, fmt.Errorf("article %d: %w", id, common.ErrNotFound)
		}
		if clustered {
			return story.Story{}, fmt.Errorf("article %d: %w", id, common.ErrAlreadyClustered)
		}
	}

	var storyID int64
	title = util.TruncateTitle(util.SanitizePostgresText(title), maxTitleLength)
	if err := tx.QueryRow(ctx, insertStorySQL, title).Scan(&storyID); err != nil {
		return story.Story{}, common.Persistence("create story", err)
	}
	if _, err := tx.Exec(ctx, assignArticlesSQL, memberIDs, storyID); err != nil {
		return story.Story{}, common.Persistence("create story", err)
	}

	st, err := s.refreshStory(ctx, tx, storyID)
	if err != nil {
		return story.Story{}, common.Persistence("create story", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return story.Story{}, common.Persistence("create story", err)
	}
	return st, nil
}

// unassignable explains why an article could not be given a story.
func (s *NewsDBStorage) unassignable(ctx context.Context, tx pgxv5.Tx, articleID int64) error {
	var storyID *int64
	if err := tx.QueryRow(ctx, articleStorySQL, articleID).Scan(&storyID); err != nil {
		return notFound("article", articleID, err)
	}
	return fmt.Errorf("article %d: %w", articleID, common.ErrAlreadyClustered)
}

func (s *NewsDBStorage) refreshStory(ctx context.Context, tx pgxv5.Tx, storyID int64) (story.Story, error) {
	st, err := scanStory(tx.QueryRow(ctx, refreshStorySQL, storyID))
	if err != nil {
		return story.Story{}, fmt.Errorf("failed to refresh story %d: %w", storyID, err)
	}
	members, err := s.memberIDs(ctx, tx, []int64{storyID})
	if err != nil {
		return story.Story{}, err
	}
	st.MemberIDs = members[storyID]
	return st, nil
}

type querier interface {
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
}

func (s *NewsDBStorage) memberIDs(ctx context.Context, q querier, storyIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(storyIDs))
	if len(storyIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, memberIDsSQL, storyIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query story members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var storyID, articleID int64
		if err := rows.Scan(&storyID, &articleID); err != nil {
			return nil, fmt.Errorf("failed to scan story member: %w", err)
		}
		out[storyID] = append(out[storyID], articleID)
	}
	return out, rows.Err()
}

func scanStory(row pgxv5.Row) (story.Story, error) {
	var st story.Story
	var first, last *time.Time
	if err := row.Scan(&st.ID, &st.Title, &first, &last, &st.ArticleCount); err != nil {
		return story.Story{}, err
	}
	if first != nil {
		st.FirstSeen = *first
	}
	if last != nil {
		st.LastSeen = *last
	}
	return st, nil
}

func scanArticles(rows pgxv5.Rows) ([]story.Article, error) {
	defer rows.Close()
	out := make([]story.Article, 0)
	for rows.Next() {
		var a story.Article
		if err := rows.Scan(&a.ID, &a.Title, &a.SourceName, &a.PublishedAt, &a.StoryID); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const getArticleSQL = `
SELECT id, title, source_name, published_at, story_id
FROM articles
WHERE id = $1;
`

const articleStorySQL = `
SELECT story_id FROM articles WHERE id = $1;
`

const getStorySQL = `
SELECT id, title, first_published_at, last_published_at, articles_count
FROM stories
WHERE id = $1;
`

const storyArticlesSQL = `
SELECT id, title, source_name, published_at, story_id
FROM articles
WHERE story_id = $1
ORDER BY published_at, id;
`

const activeStoriesSQL = `
SELECT id, title, first_published_at, last_published_at, articles_count
FROM stories
WHERE last_published_at > $1
ORDER BY last_published_at DESC, id ASC;
`

const memberIDsSQL = `
SELECT story_id, id
FROM articles
WHERE story_id = ANY($1)
ORDER BY story_id, published_at, id;
`

const unclusteredInWindowSQL = `
SELECT a.id, a.title, a.source_name, a.published_at, a.story_id
FROM articles a
WHERE a.story_id IS NULL
  AND a.id <> $3
  AND a.published_at > $1
  AND a.published_at <= $2
  AND EXISTS (SELECT 1 FROM article_subjects s WHERE s.article_id = a.id)
ORDER BY a.published_at DESC, a.id DESC;
`

const unclusteredSinceSQL = `
SELECT a.id, a.title, a.source_name, a.published_at, a.story_id
FROM articles a
WHERE a.story_id IS NULL
  AND a.published_at > $1
  AND EXISTS (SELECT 1 FROM article_subjects s WHERE s.article_id = a.id)
ORDER BY a.published_at ASC, a.id ASC;
`

const lockStorySQL = `
SELECT id FROM stories WHERE id = $1 FOR UPDATE;
`

const lockArticlesSQL = `
SELECT id, story_id FROM articles WHERE id = ANY($1) ORDER BY id FOR UPDATE;
`

const assignArticleSQL = `
UPDATE articles
SET story_id = $2, updated_at = now()
WHERE id = $1 AND story_id IS NULL;
`

const assignArticlesSQL = `
UPDATE articles
SET story_id = $2, updated_at = now()
WHERE id = ANY($1) AND story_id IS NULL;
`

const insertStorySQL = `
INSERT INTO stories (title) VALUES ($1) RETURNING id;
`

const refreshStorySQL = `
UPDATE stories st
SET first_published_at = agg.first_published_at,
    last_published_at  = agg.last_published_at,
    articles_count     = agg.articles_count,
    updated_at         = now()
FROM (
    SELECT min(published_at) AS first_published_at,
           max(published_at) AS last_published_at,
           count(*)::int     AS articles_count
    FROM articles
    WHERE story_id = $1
) agg
WHERE st.id = $1
RETURNING st.id, st.title, st.first_published_at, st.last_published_at, st.articles_count;
`
