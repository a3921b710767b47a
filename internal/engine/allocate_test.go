package engine

import (
	"errors"
	"testing"

	"modmarket/internal/config"
	"modmarket/internal/domain"
)

func assignees(ids ...string) []domain.Assignment {
	out := make([]domain.Assignment, len(ids))
	for i, id := range ids {
		out[i] = domain.Assignment{UserID: id}
	}
	return out
}

func TestAllocateEqualSplit(t *testing.T) {
	got, err := allocateScores(90, assignees("a", "b", "c"), nil, config.RemainderEarliest)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if got[id] != 30 {
			t.Fatalf("share for %s = %d, want 30", id, got[id])
		}
	}
}

func TestAllocateRemainderPolicies(t *testing.T) {
	got, err := allocateScores(100, assignees("first", "second", "third"), nil, config.RemainderEarliest)
	if err != nil {
		t.Fatal(err)
	}
	if got["first"] != 34 || got["second"] != 33 || got["third"] != 33 {
		t.Fatalf("got %+v", got)
	}

	if _, err := allocateScores(100, assignees("first", "second", "third"), nil, config.RemainderStrict); !errors.Is(err, ErrAllocationMismatch) {
		t.Fatalf("strict: got %v, want ErrAllocationMismatch", err)
	}
}

func TestAllocateExplicit(t *testing.T) {
	got, err := allocateScores(100, assignees("a", "b"), map[string]int{"a": 100}, config.RemainderEarliest)
	if err != nil {
		t.Fatal(err)
	}
	if got["a"] != 100 || got["b"] != 0 {
		t.Fatalf("got %+v", got)
	}

	if _, err := allocateScores(100, assignees("a", "b"), map[string]int{"a": 60, "b": 60}, config.RemainderEarliest); !errors.Is(err, ErrAllocationMismatch) {
		t.Fatalf("got %v, want ErrAllocationMismatch", err)
	}
	var verr ValidationError
	if _, err := allocateScores(100, assignees("a"), map[string]int{"b": 100}, config.RemainderEarliest); !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if _, err := allocateScores(100, assignees("a", "b"), map[string]int{"a": 150, "b": -50}, config.RemainderEarliest); !errors.As(err, &verr) {
		t.Fatalf("negative amount: got %v, want ValidationError", err)
	}
}

func TestAllocateZeroTotal(t *testing.T) {
	got, err := allocateScores(0, assignees("a", "b"), nil, config.RemainderStrict)
	if err != nil {
		t.Fatal(err)
	}
	if got["a"] != 0 || got["b"] != 0 {
		t.Fatalf("got %+v", got)
	}
}
