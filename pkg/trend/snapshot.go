package trend

import (
	"cmp"
	"math"
	"slices"
	"time"
)

// Snapshot is one ranked row, keyed by (Entity, PeriodStart, PeriodType).
type Snapshot struct {
	Entity       EntityRef  `json:"entity"`
	PeriodStart  time.Time  `json:"period_start"`
	PeriodType   PeriodType `json:"period_type"`
	Count        int        `json:"count"`
	Rank         int        `json:"rank"`
	PreviousRank *int       `json:"previous_rank"`
	Velocity     float64    `json:"velocity"`
	Label        string     `json:"label,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
}

// Key is the composite upsert key.
type Key struct {
	Entity      EntityRef
	PeriodStart int64
	PeriodType  PeriodType
}

func (s Snapshot) Key() Key {
	return Key{Entity: s.Entity, PeriodStart: s.PeriodStart.UnixNano(), PeriodType: s.PeriodType}
}

func (s Snapshot) IsNewEntry() bool {
	return s.PreviousRank == nil && s.Rank > 0
}

// IsRising reports a better (numerically lower) rank than last period.
func (s Snapshot) IsRising() bool {
	return s.PreviousRank != nil && s.Rank > 0 && s.Rank < *s.PreviousRank
}

func (s Snapshot) IsFalling() bool {
	return s.PreviousRank != nil && s.Rank > 0 && s.Rank > *s.PreviousRank
}

// RankChange is previous rank minus rank; positive means improved. ok is
// false when either rank is missing.
func (s Snapshot) RankChange() (change int, ok bool) {
	if s.PreviousRank == nil || s.Rank <= 0 {
		return 0, false
	}
	return *s.PreviousRank - s.Rank, true
}

// Count is one entity's activity within a period.
type Count struct {
	Entity EntityRef `json:"entity"`
	Count  int       `json:"count"`
}

// Prior is the part of a previous-period snapshot carried forward.
type Prior struct {
	Rank  int
	Count int
}

// Velocity returns the percentage change from previous to current rounded to
// one decimal, or 0 when there is no positive previous count.
func Velocity(current, previous int) float64 {
	if previous <= 0 {
		return 0
	}
	v := float64(current-previous) / float64(previous) * 100
	return math.Round(v*10) / 10
}

// Rank orders counts by count descending then entity id ascending, keeps the
// top n and builds the snapshot rows for period p. prior is keyed by entity.
func Rank(counts []Count, p Period, n int, prior map[EntityRef]Prior) []Snapshot {
	sorted := slices.Clone(counts)
	slices.SortFunc(sorted, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Entity.Kind, b.Entity.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.Entity.ID, b.Entity.ID)
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]Snapshot, 0, len(sorted))
	for _, c := range sorted {
		if c.Count <= 0 {
			continue
		}
		s := Snapshot{
			Entity:      c.Entity,
			PeriodStart: p.Start,
			PeriodType:  p.Type,
			Count:       c.Count,
			Rank:        len(out) + 1,
		}
		if prev, ok := prior[c.Entity]; ok && prev.Count > 0 {
			rank := prev.Rank
			s.PreviousRank = &rank
			s.Velocity = Velocity(c.Count, prev.Count)
		}
		out = append(out, s)
	}
	return out
}

// PriorLookup indexes previous-period snapshots by entity.
func PriorLookup(previous []Snapshot) map[EntityRef]Prior {
	lookup := make(map[EntityRef]Prior, len(previous))
	for _, s := range previous {
		lookup[s.Entity] = Prior{Rank: s.Rank, Count: s.Count}
	}
	return lookup
}
