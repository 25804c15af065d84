// Package memory is an in-process implementation of the subject index, the
// story store and the snapshot store. Every method holds one mutex, so writes
// are serialized the same way row locks serialize them in Postgres.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/store"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/subject"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

type Store struct {
	mu sync.Mutex

	articles   map[int64]*story.Article
	subjects   map[int64][]subject.Subject
	categories map[int64][]int64
	catLabels  map[int64]string
	stories    map[int64]*story.Story
	snapshots  map[trend.Key]trend.Snapshot
	lastStory  int64
	now        func() time.Time
}

var (
	_ subject.Index = (*Store)(nil)
	_ story.Store   = (*Store)(nil)
	_ story.Reader  = (*Store)(nil)
	_ trend.Store   = (*Store)(nil)
	_ store.Backend = (*Store)(nil)
)

func New() *Store {
	return &Store{
		articles:   make(map[int64]*story.Article),
		subjects:   make(map[int64][]subject.Subject),
		categories: make(map[int64][]int64),
		catLabels:  make(map[int64]string),
		stories:    make(map[int64]*story.Story),
		snapshots:  make(map[trend.Key]trend.Snapshot),
		now:        time.Now,
	}
}

// WithClock sets the clock used for snapshot timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// PutArticle inserts or replaces an article and its subjects.
func (s *Store) PutArticle(a story.Article, subjects ...subject.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.articles[a.ID] = &cp
	s.subjects[a.ID] = slices.Clone(subjects)
}

// DeleteArticle removes an article, as an administrator might.
func (s *Store) DeleteArticle(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.articles, id)
	delete(s.subjects, id)
	delete(s.categories, id)
}

// PutCategory registers a category label.
func (s *Store) PutCategory(id int64, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catLabels[id] = label
}

// TagCategory assigns categories to an article.
func (s *Store) TagCategory(articleID int64, categoryIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[articleID] = append(s.categories[articleID], categoryIDs...)
}

// PutSnapshot writes a snapshot row directly.
func (s *Store) PutSnapshot(snap trend.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Key()] = snap
}

// SnapshotCount is the number of stored snapshot rows.
func (s *Store) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// subject.Index

func (s *Store) SubjectsOf(ctx context.Context, articleID int64) ([]subject.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[articleID]; !ok {
		return nil, fmt.Errorf("article %d: %w", articleID, common.ErrNotFound)
	}
	return slices.Clone(s.subjects[articleID]), nil
}

func (s *Store) SubjectsOfMany(ctx context.Context, articleIDs []int64) (map[int64][]subject.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64][]subject.Subject, len(articleIDs))
	for _, id := range articleIDs {
		if subs, ok := s.subjects[id]; ok {
			out[id] = slices.Clone(subs)
		}
	}
	return out, nil
}

// story.Store

func (s *Store) GetArticle(ctx context.Context, id int64) (story.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.articles[id]
	if !ok {
		return story.Article{}, fmt.Errorf("article %d: %w", id, common.ErrNotFound)
	}
	return copyArticle(a), nil
}

func (s *Store) GetStory(ctx context.Context, id int64) (story.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stories[id]
	if !ok {
		return story.Story{}, fmt.Errorf("story %d: %w", id, common.ErrNotFound)
	}
	return s.storyWithMembers(st), nil
}

func (s *Store) StoryArticles(ctx context.Context, id int64) ([]story.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stories[id]; !ok {
		return nil, fmt.Errorf("story %d: %w", id, common.ErrNotFound)
	}
	members := s.members(id)
	out := make([]story.Article, len(members))
	for i, a := range members {
		out[i] = copyArticle(a)
	}
	return out, nil
}

func (s *Store) ActiveStories(ctx context.Context, since time.Time) ([]story.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]story.Story, 0)
	for _, st := range s.stories {
		if st.LastSeen.After(since) {
			out = append(out, s.storyWithMembers(st))
		}
	}
	slices.SortFunc(out, func(a, b story.Story) int {
		if c := b.LastSeen.Compare(a.LastSeen); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) UnclusteredArticlesInWindow(ctx context.Context, before time.Time, window time.Duration, excludeID int64) ([]story.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	after := before.Add(-window)
	out := make([]story.Article, 0)
	for _, a := range s.articles {
		if a.ID == excludeID || a.Clustered() || len(s.subjects[a.ID]) == 0 {
			continue
		}
		if a.PublishedAt.After(after) && !a.PublishedAt.After(before) {
			out = append(out, copyArticle(a))
		}
	}
	slices.SortFunc(out, func(a, b story.Article) int {
		if c := b.PublishedAt.Compare(a.PublishedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (s *Store) UnclusteredSince(ctx context.Context, since time.Time) ([]story.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]story.Article, 0)
	for _, a := range s.articles {
		if a.Clustered() || len(s.subjects[a.ID]) == 0 || !a.PublishedAt.After(since) {
			continue
		}
		out = append(out, copyArticle(a))
	}
	slices.SortFunc(out, func(a, b story.Article) int {
		if c := a.PublishedAt.Compare(b.PublishedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) AttachArticle(ctx context.Context, articleID, storyID int64) (story.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return story.Story{}, common.Persistence("attach article", err)
	}
	st, ok := s.stories[storyID]
	if !ok {
		return story.Story{}, fmt.Errorf("story %d: %w", storyID, common.ErrNotFound)
	}
	a, ok := s.articles[articleID]
	if !ok {
		return story.Story{}, fmt.Errorf("article %d: %w", articleID, common.ErrNotFound)
	}
	if a.Clustered() {
		return story.Story{}, fmt.Errorf("article %d: %w", articleID, common.ErrAlreadyClustered)
	}

	id := storyID
	a.StoryID = &id
	s.refreshBounds(st)
	return s.storyWithMembers(st), nil
}

func (s *Store) CreateStory(ctx context.Context, title string, memberIDs []int64) (story.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return story.Story{}, common.Persistence("create story", err)
	}
	if len(memberIDs) == 0 {
		return story.Story{}, common.Persistence("create story", fmt.Errorf("no members"))
	}
	for _, id := range memberIDs {
		a, ok := s.articles[id]
		if !ok {
			return story.Story{}, fmt.Errorf("article %d: %w", id, common.ErrNotFound)
		}
		if a.Clustered() {
			return story.Story{}, fmt.Errorf("article %d: %w", id, common.ErrAlreadyClustered)
		}
	}

	s.lastStory++
	st := &story.Story{ID: s.lastStory, Title: title}
	s.stories[st.ID] = st
	for _, id := range memberIDs {
		storyID := st.ID
		s.articles[id].StoryID = &storyID
	}
	s.refreshBounds(st)
	return s.storyWithMembers(st), nil
}

// refreshBounds recomputes time bounds and count from all members. Bounds
// never shrink because members are never removed.
func (s *Store) refreshBounds(st *story.Story) {
	members := s.members(st.ID)
	st.ArticleCount = len(members)
	if len(members) == 0 {
		return
	}
	st.FirstSeen = members[0].PublishedAt
	st.LastSeen = members[0].PublishedAt
	for _, m := range members[1:] {
		if m.PublishedAt.Before(st.FirstSeen) {
			st.FirstSeen = m.PublishedAt
		}
		if m.PublishedAt.After(st.LastSeen) {
			st.LastSeen = m.PublishedAt
		}
	}
}

func (s *Store) members(storyID int64) []*story.Article {
	out := make([]*story.Article, 0)
	for _, a := range s.articles {
		if a.StoryID != nil && *a.StoryID == storyID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b *story.Article) int {
		if c := a.PublishedAt.Compare(b.PublishedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Store) storyWithMembers(st *story.Story) story.Story {
	out := *st
	members := s.members(st.ID)
	out.MemberIDs = make([]int64, len(members))
	for i, m := range members {
		out.MemberIDs[i] = m.ID
	}
	return out
}

func copyArticle(a *story.Article) story.Article {
	out := *a
	if a.StoryID != nil {
		id := *a.StoryID
		out.StoryID = &id
	}
	return out
}

// trend.Store

func (s *Store) CountsInPeriod(ctx context.Context, kind trend.Kind, start, end time.Time, limit int) ([]trend.Count, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[int64]int)
	for _, a := range s.articles {
		if a.PublishedAt.Before(start) || !a.PublishedAt.Before(end) {
			continue
		}
		switch kind {
		case trend.KindStory:
			if a.StoryID != nil {
				counts[*a.StoryID]++
			}
		case trend.KindSubject:
			for _, sub := range dedupeSubjects(s.subjects[a.ID]) {
				counts[sub]++
			}
		case trend.KindCategory:
			for _, cat := range store.DedupeIDs(s.categories[a.ID]) {
				counts[cat]++
			}
		default:
			return nil, fmt.Errorf("unknown trend kind %q", kind)
		}
	}

	out := make([]trend.Count, 0, len(counts))
	for id, n := range counts {
		out = append(out, trend.Count{Entity: trend.EntityRef{Kind: kind, ID: id}, Count: n})
	}
	slices.SortFunc(out, func(a, b trend.Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Entity.ID, b.Entity.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func dedupeSubjects(subs []subject.Subject) []int64 {
	ids := make([]int64, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	return store.DedupeIDs(ids)
}

func (s *Store) PriorPeriodSnapshots(ctx context.Context, kind trend.Kind, start time.Time, typ trend.PeriodType) ([]trend.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trend.Snapshot, 0)
	for _, snap := range s.snapshots {
		if snap.Entity.Kind == kind && snap.PeriodType == typ && snap.PeriodStart.Equal(start) {
			out = append(out, snap)
		}
	}
	sortByRank(out)
	return out, nil
}

func (s *Store) ReplaceSnapshots(ctx context.Context, kind trend.Kind, start time.Time, typ trend.PeriodType, rows []trend.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return common.Persistence("replace snapshots", err)
	}
	keep := make(map[trend.Key]struct{}, len(rows))
	for _, r := range rows {
		if r.Entity.Kind != kind || r.PeriodType != typ || !r.PeriodStart.Equal(start) {
			return common.Persistence("replace snapshots", fmt.Errorf("row %s does not belong to %s %s@%s", r.Entity, kind, typ, start))
		}
		keep[r.Key()] = struct{}{}
	}

	now := s.now()
	for key, snap := range s.snapshots {
		if snap.Entity.Kind != kind || snap.PeriodType != typ || !snap.PeriodStart.Equal(start) {
			continue
		}
		if _, ok := keep[key]; !ok {
			delete(s.snapshots, key)
		}
	}
	for _, r := range rows {
		row := r
		row.Label = ""
		row.UpdatedAt = now
		if existing, ok := s.snapshots[r.Key()]; ok {
			row.CreatedAt = existing.CreatedAt
		} else {
			row.CreatedAt = now
		}
		s.snapshots[r.Key()] = row
	}
	return nil
}

func (s *Store) SnapshotsBefore(ctx context.Context, cutoff time.Time) ([]trend.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trend.Snapshot, 0)
	for _, snap := range s.snapshots {
		if snap.PeriodStart.Before(cutoff) {
			out = append(out, snap)
		}
	}
	slices.SortFunc(out, func(a, b trend.Snapshot) int {
		if c := a.PeriodStart.Compare(b.PeriodStart); c != 0 {
			return c
		}
		return cmp.Compare(a.Rank, b.Rank)
	})
	return out, nil
}

func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for key, snap := range s.snapshots {
		if snap.PeriodStart.Before(cutoff) {
			delete(s.snapshots, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) PurgeSnapshots(ctx context.Context, rows []trend.Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for _, r := range rows {
		if _, ok := s.snapshots[r.Key()]; ok {
			delete(s.snapshots, r.Key())
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) ListSnapshots(ctx context.Context, q trend.Query) ([]trend.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trend.Snapshot, 0)
	for _, snap := range s.snapshots {
		if snap.Entity.Kind != q.Kind || snap.PeriodType != q.PeriodType || !snap.PeriodStart.Equal(q.PeriodStart) || snap.Rank <= 0 {
			continue
		}
		out = append(out, snap)
	}
	sortByRank(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) ListPeriods(ctx context.Context, typ trend.PeriodType, limit int) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]time.Time)
	for _, snap := range s.snapshots {
		if snap.PeriodType == typ {
			seen[snap.PeriodStart.UnixNano()] = snap.PeriodStart
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return b.Compare(a) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByRank(rows []trend.Snapshot) {
	slices.SortFunc(rows, func(a, b trend.Snapshot) int {
		if c := cmp.Compare(a.Rank, b.Rank); c != 0 {
			return c
		}
		return cmp.Compare(a.Entity.ID, b.Entity.ID)
	})
}

// Labelers returns label sources for every trend kind.
func (s *Store) Labelers() trend.Labelers {
	return trend.Labelers{
		trend.KindStory:    trend.LabelSourceFunc(s.storyLabels),
		trend.KindSubject:  trend.LabelSourceFunc(s.subjectLabels),
		trend.KindCategory: trend.LabelSourceFunc(s.categoryLabels),
	}
}

func (s *Store) storyLabels(ctx context.Context, ids []int64) (map[int64]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if st, ok := s.stories[id]; ok {
			out[id] = st.Title
		}
	}
	return out, nil
}

func (s *Store) subjectLabels(ctx context.Context, ids []int64) (map[int64]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make(map[int64]string, len(ids))
	for _, subs := range s.subjects {
		for _, sub := range subs {
			if _, ok := want[sub.ID]; ok && sub.Label != "" {
				out[sub.ID] = sub.Label
			}
		}
	}
	return out, nil
}

func (s *Store) categoryLabels(ctx context.Context, ids []int64) (map[int64]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if label, ok := s.catLabels[id]; ok {
			out[id] = label
		}
	}
	return out, nil
}
