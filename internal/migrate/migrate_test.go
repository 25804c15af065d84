package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSourceURL(t *testing.T) {
	if got := SourceURL("migrations"); got != "file://migrations" {
		t.Fatalf("expected file://migrations, got %s", got)
	}
	if got := SourceURL("file:///srv/migrations"); got != "file:///srv/migrations" {
		t.Fatalf("expected url unchanged, got %s", got)
	}
}

func TestMigrationsArePaired(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected migration files")
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, f := range files {
		base := filepath.Base(f)
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			ups[strings.TrimSuffix(base, ".up.sql")] = true
		case strings.HasSuffix(base, ".down.sql"):
			downs[strings.TrimSuffix(base, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", base)
		}
		if info, err := os.Stat(f); err != nil || info.Size() == 0 {
			t.Fatalf("migration %s is empty", base)
		}
	}
	for name := range ups {
		if !downs[name] {
			t.Fatalf("migration %s has no down file", name)
		}
	}
	if len(ups) != len(downs) {
		t.Fatalf("expected paired migrations, got %d up and %d down", len(ups), len(downs))
	}
}
