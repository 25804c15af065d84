package story

import (
	"testing"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/subject"
)

func TestChronologicalTieBreaksOnID(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	first, second := chronological(Article{ID: 7, PublishedAt: at}, Article{ID: 3, PublishedAt: at})
	if first.ID != 3 || second.ID != 7 {
		t.Fatalf("expected lower id first, got %d then %d", first.ID, second.ID)
	}

	first, _ = chronological(Article{ID: 1, PublishedAt: at.Add(time.Minute)}, Article{ID: 2, PublishedAt: at})
	if first.ID != 2 {
		t.Fatalf("expected earlier article first, got %d", first.ID)
	}
}

func TestSweepStateKeepsOrder(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &sweepState{unions: map[int64]subject.Set{}, clustered: map[int64]struct{}{}}
	s.stories = []*Story{{ID: 2, LastSeen: at}, {ID: 1, LastSeen: at.Add(-time.Hour)}}
	s.created(Story{ID: 3, LastSeen: at, MemberIDs: []int64{10, 11}}, nil)

	want := []int64{2, 3, 1}
	for i, st := range s.stories {
		if st.ID != want[i] {
			t.Fatalf("expected order %v, got story %d at %d", want, st.ID, i)
		}
	}
	if !s.isClustered(10) || !s.isClustered(11) {
		t.Fatal("expected founding members to be marked clustered")
	}
}
