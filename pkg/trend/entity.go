package trend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
)

// Kind tags what a snapshot ranks.
type Kind string

const (
	KindStory    Kind = "story"
	KindSubject  Kind = "subject"
	KindCategory Kind = "category"
)

var kinds = []Kind{KindStory, KindSubject, KindCategory}

// Kinds lists every trendable kind.
func Kinds() []Kind { return append([]Kind(nil), kinds...) }

func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", &common.ConfigError{Field: "kind", Reason: fmt.Sprintf("unknown trend kind %q", s)}
	}
	return k, nil
}

// EntityRef identifies the ranked entity. It is part of the snapshot key.
type EntityRef struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (r EntityRef) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// ParseEntityRef parses the "kind:id" form produced by String.
func ParseEntityRef(s string) (EntityRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q", s)
	}
	k, err := ParseKind(kind)
	if err != nil {
		return EntityRef{}, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q: %w", s, err)
	}
	return EntityRef{Kind: k, ID: n}, nil
}

// LabelSource resolves display labels for entities of one kind.
type LabelSource interface {
	Labels(ctx context.Context, ids []int64) (map[int64]string, error)
}

// LabelSourceFunc adapts a function to LabelSource.
type LabelSourceFunc func(ctx context.Context, ids []int64) (map[int64]string, error)

func (f LabelSourceFunc) Labels(ctx context.Context, ids []int64) (map[int64]string, error) {
	return f(ctx, ids)
}

// Labelers maps each kind to its label source. Kinds without a source keep
// their String form as label.
type Labelers map[Kind]LabelSource

// Apply fills the Label of every snapshot, one lookup per kind.
func (l Labelers) Apply(ctx context.Context, snapshots []Snapshot) error {
	byKind := make(map[Kind][]int64)
	for _, s := range snapshots {
		byKind[s.Entity.Kind] = append(byKind[s.Entity.Kind], s.Entity.ID)
	}
	resolved := make(map[EntityRef]string, len(snapshots))
	for kind, ids := range byKind {
		source, ok := l[kind]
		if !ok {
			continue
		}
		labels, err := source.Labels(ctx, ids)
		if err != nil {
			return fmt.Errorf("resolve %s labels: %w", kind, err)
		}
		for id, label := range labels {
			resolved[EntityRef{Kind: kind, ID: id}] = label
		}
	}
	for i := range snapshots {
		if label, ok := resolved[snapshots[i].Entity]; ok {
			snapshots[i].Label = label
		} else {
			snapshots[i].Label = snapshots[i].Entity.String()
		}
	}
	return nil
}
