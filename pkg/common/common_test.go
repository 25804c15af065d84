package common

import (
	"errors"
	"testing"
)

func TestPersistence_WrapsPlainErrors(t *testing.T) {
	base := errors.New("connection reset")
	err := Persistence("attach article", base)

	if !IsPersistence(err) {
		t.Fatalf("expected persistence error, got %T", err)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if err.Error() != "attach article: connection reset" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestPersistence_KeepsSentinels(t *testing.T) {
	err := Persistence("attach article", ErrNotFound)
	if IsPersistence(err) {
		t.Fatal("expected not found to stay a plain wrapped sentinel")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected errors.Is to match ErrNotFound")
	}

	err = Persistence("create story", ErrAlreadyClustered)
	if !errors.Is(err, ErrAlreadyClustered) {
		t.Fatal("expected errors.Is to match ErrAlreadyClustered")
	}
}

func TestPersistence_NilAndIdempotent(t *testing.T) {
	if Persistence("noop", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	first := Persistence("upsert", errors.New("boom"))
	second := Persistence("outer", first)
	if second != first {
		t.Fatal("expected an existing persistence error to be returned unchanged")
	}
}

func TestConfigError(t *testing.T) {
	err := error(&ConfigError{Field: "CLUSTER_THRESHOLD", Reason: "must be in (0, 1]"})
	if !IsConfigError(err) {
		t.Fatal("expected config error")
	}
	if err.Error() != "invalid config CLUSTER_THRESHOLD: must be in (0, 1]" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
