// Package subject holds the clustering signal: the concepts an article is
// about, the read-only index that resolves them, and the overlap scorer.
package subject

import (
	"context"
	"slices"
	"strings"
)

// Kind is the concept category assigned upstream by entity extraction.
type Kind string

const (
	KindPerson Kind = "person"
	KindOrg    Kind = "org"
	KindLoc    Kind = "loc"
	KindEvent  Kind = "event"
	KindWiki   Kind = "wiki"
)

// DefaultExcludedKinds are too common to discriminate between stories.
var DefaultExcludedKinds = []Kind{KindLoc}

// Subject is one tagged concept of an article.
type Subject struct {
	ID    int64  `json:"id"`
	Kind  Kind   `json:"kind"`
	Label string `json:"label,omitempty"`
}

// Index resolves the subjects of articles. Implementations are read-only.
type Index interface {
	SubjectsOf(ctx context.Context, articleID int64) ([]Subject, error)
	SubjectsOfMany(ctx context.Context, articleIDs []int64) (map[int64][]Subject, error)
}

// Set is a set of subject identifiers.
type Set map[int64]struct{}

// NewSet builds a set from identifiers.
func NewSet(ids ...int64) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts ids into s.
func (s Set) Add(ids ...int64) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Union merges other into s in place.
func (s Set) Union(other Set) {
	for id := range other {
		s[id] = struct{}{}
	}
}

func (s Set) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the identifiers in ascending order.
func (s Set) IDs() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Filter drops subjects of excluded kinds and returns the remaining ids.
type Filter struct {
	excluded map[Kind]struct{}
}

// NewFilter builds a Filter. Kind comparison is case-insensitive.
func NewFilter(excluded []Kind) Filter {
	f := Filter{excluded: make(map[Kind]struct{}, len(excluded))}
	for _, k := range excluded {
		f.excluded[normalizeKind(k)] = struct{}{}
	}
	return f
}

// Excludes reports whether k is filtered out.
func (f Filter) Excludes(k Kind) bool {
	_, ok := f.excluded[normalizeKind(k)]
	return ok
}

// Set returns the matchable subject set.
func (f Filter) Set(subjects []Subject) Set {
	s := make(Set, len(subjects))
	for _, sub := range subjects {
		if f.Excludes(sub.Kind) {
			continue
		}
		s[sub.ID] = struct{}{}
	}
	return s
}

func normalizeKind(k Kind) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(k))))
}

// Overlap returns |a ∩ b| / min(|a|, |b|), or 0 when either set is empty.
// Normalising by the smaller set lets a short, focused subject list match fully
// inside a longer one.
func Overlap(a, b Set) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(large) < len(small) {
		small, large = large, small
	}
	intersection := 0
	for id := range small {
		if _, ok := large[id]; ok {
			intersection++
		}
	}
	return float64(intersection) / float64(len(small))
}
