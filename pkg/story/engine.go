package story

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
	"github.com/lemonslut/that-news-thing-again/pkg/subject"
)

var log = logger.Component("Story")

// Engine clusters articles into stories. It holds no state between calls and
// is safe for concurrent use as long as the Store serializes writes.
type Engine struct {
	store  Store
	index  subject.Index
	cfg    Config
	filter subject.Filter
	now    func() time.Time
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(store Store, index subject.Index, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || index == nil {
		return nil, errors.New("story: store and subject index are required")
	}
	return &Engine{
		store:  store,
		index:  index,
		cfg:    cfg,
		filter: subject.NewFilter(cfg.ExcludedKinds),
		now:    time.Now,
	}, nil
}

// WithClock replaces the clock used to anchor the sweep window.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// ClusterArticle places one article. Calling it again for an article that is
// already clustered is a no-op.
func (e *Engine) ClusterArticle(ctx context.Context, articleID int64) (Result, error) {
	article, err := e.store.GetArticle(ctx, articleID)
	if err != nil {
		return Result{}, err
	}
	if article.Clustered() {
		return Result{Clustered: true, StoryID: *article.StoryID, Outcome: OutcomeAlreadyClustered}, nil
	}

	subjects, err := e.index.SubjectsOf(ctx, article.ID)
	if err != nil {
		return Result{}, err
	}
	set := e.filter.Set(subjects)
	if len(set) == 0 {
		log.Debug("Article has no matchable subjects", "article_id", article.ID)
		return Result{Outcome: OutcomeNoSubjects}, nil
	}

	state, err := e.loadState(ctx, article.PublishedAt.Add(-e.cfg.ClusterWindow))
	if err != nil {
		return Result{}, err
	}
	return e.place(ctx, state, article, set)
}

// ClusterSweep visits every unclustered article of the sweep window oldest
// first, so earlier articles found stories that later ones can join. Story
// subject unions are computed once and kept current for the whole sweep.
func (e *Engine) ClusterSweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	start := e.now()
	since := start.Add(-e.cfg.SweepWindow)

	articles, err := e.store.UnclusteredSince(ctx, since)
	if err != nil {
		return result, err
	}
	result.Scanned = len(articles)
	if len(articles) == 0 {
		return result, nil
	}

	ids := make([]int64, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}
	subjects, err := e.index.SubjectsOfMany(ctx, ids)
	if err != nil {
		return result, err
	}

	state, err := e.loadState(ctx, articles[0].PublishedAt.Add(-e.cfg.ClusterWindow))
	if err != nil {
		return result, err
	}

	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if state.isClustered(article.ID) {
			continue
		}
		set := e.filter.Set(subjects[article.ID])
		if len(set) == 0 {
			continue
		}

		placed, err := e.place(ctx, state, article, set)
		if err != nil {
			return result, fmt.Errorf("sweep article %d: %w", article.ID, err)
		}
		switch placed.Outcome {
		case OutcomeAttached:
			result.Attached++
			result.Clustered++
		case OutcomeCreated:
			result.Created++
			result.Clustered += 2
		case OutcomeConflict:
			result.Conflicts++
		}
	}

	log.Info("Sweep finished",
		"scanned", result.Scanned,
		"clustered", result.Clustered,
		"created", result.Created,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return result, nil
}

// place runs the two-step placement for an unclustered article with a
// non-empty subject set.
func (e *Engine) place(ctx context.Context, state *sweepState, article Article, set subject.Set) (Result, error) {
	since := article.PublishedAt.Add(-e.cfg.ClusterWindow)

	for _, st := range state.stories {
		if !st.LastSeen.After(since) {
			// ordered by LastSeen descending, nothing older can qualify
			break
		}
		union, err := state.union(ctx, st)
		if err != nil {
			return Result{}, err
		}
		score := subject.Overlap(set, union)
		if score < e.cfg.Threshold {
			continue
		}

		updated, err := e.store.AttachArticle(ctx, article.ID, st.ID)
		if err != nil {
			return e.conflictOrError(ctx, article, err)
		}
		state.attached(updated, article.ID, set)
		log.Info("Added article to story",
			"article_id", article.ID, "story_id", updated.ID, "score", score, "article_count", updated.ArticleCount)
		return Result{Clustered: true, StoryID: updated.ID, Outcome: OutcomeAttached, Score: score}, nil
	}

	scored := make(map[int64]struct{})
	for _, window := range e.cfg.SearchWindows {
		candidates, err := e.store.UnclusteredArticlesInWindow(ctx, article.PublishedAt, window, article.ID)
		if err != nil {
			return Result{}, err
		}
		fresh := make([]Article, 0, len(candidates))
		ids := make([]int64, 0, len(candidates))
		for _, c := range candidates {
			if _, seen := scored[c.ID]; seen || state.isClustered(c.ID) {
				continue
			}
			scored[c.ID] = struct{}{}
			fresh = append(fresh, c)
			ids = append(ids, c.ID)
		}
		if len(fresh) == 0 {
			continue
		}
		subjects, err := e.index.SubjectsOfMany(ctx, ids)
		if err != nil {
			return Result{}, err
		}

		for _, candidate := range fresh {
			candidateSet := e.filter.Set(subjects[candidate.ID])
			score := subject.Overlap(set, candidateSet)
			if len(candidateSet) == 0 || score < e.cfg.Threshold {
				continue
			}

			first, second := chronological(article, candidate)
			created, err := e.store.CreateStory(ctx, first.Title, []int64{first.ID, second.ID})
			if err != nil {
				return e.conflictOrError(ctx, article, err)
			}
			union := set.Clone()
			union.Union(candidateSet)
			state.created(created, union)
			log.Info("Created story",
				"story_id", created.ID, "article_id", article.ID, "partner_id", candidate.ID,
				"score", score, "window", window)
			return Result{Clustered: true, StoryID: created.ID, Outcome: OutcomeCreated, Score: score, PartnerID: candidate.ID}, nil
		}
	}

	log.Debug("No match for article", "article_id", article.ID)
	return Result{Outcome: OutcomeNoMatch}, nil
}

// conflictOrError turns a lost race into a no-op outcome. Anything else is
// returned to the caller unchanged.
func (e *Engine) conflictOrError(ctx context.Context, article Article, err error) (Result, error) {
	if !errors.Is(err, common.ErrAlreadyClustered) {
		return Result{}, err
	}
	current, getErr := e.store.GetArticle(ctx, article.ID)
	if getErr != nil {
		return Result{}, getErr
	}
	if current.Clustered() {
		return Result{Clustered: true, StoryID: *current.StoryID, Outcome: OutcomeAlreadyClustered}, nil
	}
	log.Warn("Partner was clustered concurrently, leaving article for next run", "article_id", article.ID)
	return Result{Outcome: OutcomeConflict}, nil
}

// chronological orders a pair by publication time, ties by lower ID.
func chronological(a, b Article) (Article, Article) {
	if b.PublishedAt.Before(a.PublishedAt) || (b.PublishedAt.Equal(a.PublishedAt) && b.ID < a.ID) {
		return b, a
	}
	return a, b
}

func (e *Engine) loadState(ctx context.Context, since time.Time) (*sweepState, error) {
	stories, err := e.store.ActiveStories(ctx, since)
	if err != nil {
		return nil, err
	}
	state := &sweepState{
		index:     e.index,
		filter:    e.filter,
		unions:    make(map[int64]subject.Set, len(stories)),
		clustered: make(map[int64]struct{}),
	}
	for i := range stories {
		st := stories[i]
		state.stories = append(state.stories, &st)
	}
	return state, nil
}

// sweepState memoizes story subject unions for the lifetime of one call.
// Unions are loaded lazily and updated in place on attach and create. Attaches
// made by other workers during the call are not seen, so the memo can go
// stale and miss a match but never produce a wrong one.
type sweepState struct {
	index     subject.Index
	filter    subject.Filter
	stories   []*Story
	unions    map[int64]subject.Set
	clustered map[int64]struct{}
}

func (s *sweepState) isClustered(articleID int64) bool {
	_, ok := s.clustered[articleID]
	return ok
}

func (s *sweepState) union(ctx context.Context, st *Story) (subject.Set, error) {
	if u, ok := s.unions[st.ID]; ok {
		return u, nil
	}
	bySubject, err := s.index.SubjectsOfMany(ctx, st.MemberIDs)
	if err != nil {
		return nil, err
	}
	u := make(subject.Set)
	for _, id := range st.MemberIDs {
		u.Union(s.filter.Set(bySubject[id]))
	}
	s.unions[st.ID] = u
	return u, nil
}

func (s *sweepState) attached(updated Story, articleID int64, set subject.Set) {
	s.clustered[articleID] = struct{}{}
	if u, ok := s.unions[updated.ID]; ok {
		u.Union(set)
	}
	for i, st := range s.stories {
		if st.ID == updated.ID {
			if updated.MemberIDs == nil {
				updated.MemberIDs = append(slices.Clone(st.MemberIDs), articleID)
			}
			s.stories[i] = &updated
			break
		}
	}
	s.sort()
}

func (s *sweepState) created(st Story, union subject.Set) {
	for _, id := range st.MemberIDs {
		s.clustered[id] = struct{}{}
	}
	s.unions[st.ID] = union
	s.stories = append(s.stories, &st)
	s.sort()
}

func (s *sweepState) sort() {
	slices.SortStableFunc(s.stories, func(a, b *Story) int {
		if c := b.LastSeen.Compare(a.LastSeen); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
