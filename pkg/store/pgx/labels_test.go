package pgx

import (
	"strings"
	"testing"

	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

func TestTrendableTypeRoundTrip(t *testing.T) {
	for _, k := range trend.Kinds() {
		tt := trendableType(k)
		got, err := kindOf(tt)
		if err != nil {
			t.Fatalf("kindOf(%q) failed: %v", tt, err)
		}
		if got != k {
			t.Fatalf("expected %s, got %s", k, got)
		}
	}
	if trendableType(trend.KindStory) != "Story" {
		t.Fatalf("expected Story, got %s", trendableType(trend.KindStory))
	}
	if _, err := kindOf("Article"); err == nil {
		t.Fatal("expected error for unknown trendable type")
	}
}

func TestCountQueriesBreakTiesByID(t *testing.T) {
	for name, q := range map[string]string{
		"story":    storyCountsSQL,
		"subject":  subjectCountsSQL,
		"category": categoryCountsSQL,
	} {
		if !strings.Contains(q, "ORDER BY n DESC") || !strings.Contains(q, "ASC") {
			t.Fatalf("%s counts must order by count then id", name)
		}
		if !strings.Contains(q, "published_at >= $1") || !strings.Contains(q, "published_at < $2") {
			t.Fatalf("%s counts must use a closed-open period", name)
		}
	}
}

func TestUpsertUsesCompositeKey(t *testing.T) {
	if !strings.Contains(upsertSnapshotSQL, "ON CONFLICT (trendable_type, trendable_id, period_start, period_type)") {
		t.Fatal("upsert must conflict on the composite snapshot key")
	}
}

func TestPurgeSnapshotKeysMatchesCompositeKey(t *testing.T) {
	for _, col := range []string{"trendable_type", "trendable_id", "period_start", "period_type"} {
		if !strings.Contains(purgeSnapshotKeysSQL, "s."+col+" = k."+col) {
			t.Fatalf("purge by key must match on %s", col)
		}
	}
	if strings.Contains(purgeSnapshotKeysSQL, "period_start <") {
		t.Fatal("purge by key must not delete by cutoff")
	}
}
