package story

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// Reader is the read side used to present a story.
type Reader interface {
	GetStory(ctx context.Context, id int64) (Story, error)
	StoryArticles(ctx context.Context, id int64) ([]Article, error)
}

// Detail is a story with its members and the distinct outlets reporting it.
type Detail struct {
	Story
	Duration time.Duration `json:"duration"`
	Sources  []string      `json:"sources"`
	Articles []Article     `json:"articles"`
}

// Describe loads a story and its members, ordered by publication time.
func Describe(ctx context.Context, r Reader, id int64) (Detail, error) {
	st, err := r.GetStory(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	articles, err := r.StoryArticles(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	slices.SortFunc(articles, func(a, b Article) int {
		if c := a.PublishedAt.Compare(b.PublishedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	seen := make(map[string]struct{})
	sources := make([]string, 0)
	for _, a := range articles {
		if a.SourceName == "" {
			continue
		}
		if _, ok := seen[a.SourceName]; ok {
			continue
		}
		seen[a.SourceName] = struct{}{}
		sources = append(sources, a.SourceName)
	}
	slices.Sort(sources)

	return Detail{Story: st, Duration: st.Duration(), Sources: sources, Articles: articles}, nil
}
