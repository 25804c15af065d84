// Package story implements incremental story clustering: each newly eligible
// article either joins an active story, founds a new story together with a
// recent unclustered article, or stays unclustered until a later run.
package story

import (
	"context"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/subject"
)

// Article is the slice of an upstream article the clusterer needs.
type Article struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	SourceName  string    `json:"source_name"`
	PublishedAt time.Time `json:"published_at"`
	StoryID     *int64    `json:"story_id,omitempty"`
}

// Clustered reports whether the article already belongs to a story.
func (a Article) Clustered() bool { return a.StoryID != nil }

// Story is the aggregate for one clustered event. FirstSeen and LastSeen are
// the min and max publication times of its members.
type Story struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	ArticleCount int       `json:"article_count"`
	MemberIDs    []int64   `json:"member_ids,omitempty"`
}

// Duration is the span between the first and last member.
func (s Story) Duration() time.Duration {
	if s.FirstSeen.IsZero() || s.LastSeen.IsZero() {
		return 0
	}
	return s.LastSeen.Sub(s.FirstSeen)
}

// Store is the data access the engine depends on.
//
// AttachArticle and CreateStory are single transactions: membership and the
// recomputed time bounds are written together or not at all. Attaches to the
// same story must be serialized by the implementation. Both return
// common.ErrAlreadyClustered when a member gained a story reference in the
// meantime and common.ErrNotFound when a referenced row is gone.
type Store interface {
	GetArticle(ctx context.Context, id int64) (Article, error)
	GetStory(ctx context.Context, id int64) (Story, error)

	// ActiveStories returns stories with LastSeen strictly after since,
	// ordered by LastSeen descending then ID ascending, with MemberIDs filled.
	ActiveStories(ctx context.Context, since time.Time) ([]Story, error)

	// UnclusteredArticlesInWindow returns unclustered articles with at least one
	// subject, published in (before-window, before], excluding excludeID,
	// ordered by PublishedAt descending then ID descending.
	UnclusteredArticlesInWindow(ctx context.Context, before time.Time, window time.Duration, excludeID int64) ([]Article, error)

	// UnclusteredSince returns unclustered articles with at least one subject
	// published after since, ordered by PublishedAt ascending then ID ascending.
	UnclusteredSince(ctx context.Context, since time.Time) ([]Article, error)

	AttachArticle(ctx context.Context, articleID, storyID int64) (Story, error)
	CreateStory(ctx context.Context, title string, memberIDs []int64) (Story, error)
}

// Config tunes clustering. The zero value is invalid; start from DefaultConfig.
type Config struct {
	// Threshold is the minimum overlap ratio for a match.
	Threshold float64
	// ClusterWindow bounds how old a story's last member may be, relative to
	// the article being clustered, for the story to still accept members.
	ClusterWindow time.Duration
	// SearchWindows are the widening look-back windows for unclustered partners.
	SearchWindows []time.Duration
	// SweepWindow bounds which unclustered articles a full sweep visits.
	SweepWindow time.Duration
	// ExcludedKinds are subject kinds ignored for matching.
	ExcludedKinds []subject.Kind
}

func DefaultConfig() Config {
	return Config{
		Threshold:     0.5,
		ClusterWindow: 7 * 24 * time.Hour,
		SearchWindows: []time.Duration{24 * time.Hour, 7 * 24 * time.Hour},
		SweepWindow:   7 * 24 * time.Hour,
		ExcludedKinds: append([]subject.Kind(nil), subject.DefaultExcludedKinds...),
	}
}

// Validate fails on any value that cannot produce a meaningful clustering.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return &common.ConfigError{Field: "CLUSTER_THRESHOLD", Reason: "must be in (0, 1]"}
	}
	if c.ClusterWindow <= 0 {
		return &common.ConfigError{Field: "CLUSTER_WINDOW", Reason: "must be positive"}
	}
	if len(c.SearchWindows) == 0 {
		return &common.ConfigError{Field: "CLUSTER_SEARCH_WINDOWS", Reason: "at least one window is required"}
	}
	for _, w := range c.SearchWindows {
		if w <= 0 {
			return &common.ConfigError{Field: "CLUSTER_SEARCH_WINDOWS", Reason: "windows must be positive"}
		}
	}
	if c.SweepWindow <= 0 {
		return &common.ConfigError{Field: "CLUSTER_SWEEP_WINDOW", Reason: "must be positive"}
	}
	return nil
}

// Outcome names how a ClusterArticle call ended.
type Outcome string

const (
	OutcomeAttached         Outcome = "attached"
	OutcomeCreated          Outcome = "created"
	OutcomeNoMatch          Outcome = "no_match"
	OutcomeAlreadyClustered Outcome = "already_clustered"
	OutcomeNoSubjects       Outcome = "no_subjects"
	// OutcomeConflict means a partner or story changed under us; the article
	// stays unclustered and eligible for the next run.
	OutcomeConflict Outcome = "conflict"
)

// Result is returned by ClusterArticle.
type Result struct {
	Clustered bool    `json:"clustered"`
	StoryID   int64   `json:"story_id,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Score     float64 `json:"score,omitempty"`
	// PartnerID is the unclustered article a new story was founded with.
	PartnerID int64 `json:"partner_id,omitempty"`
}

// SweepResult summarizes a ClusterSweep.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Clustered int `json:"clustered"`
	Attached  int `json:"attached"`
	Created   int `json:"created"`
	Conflicts int `json:"conflicts"`
}
