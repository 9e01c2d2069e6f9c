package commitlog

import (
	"testing"

	"barlab/internal/domain"
	"barlab/internal/series"
)

func TestCommitLog_CommitBatch(t *testing.T) {
	l := New("g1")
	l.Ensure("a", series.ConsecutiveIndexed, 10)
	l.Ensure("b", series.ConsecutiveIndexed, 10)

	l.CommitBatch(0, []Staged{
		{ExprID: "a", Value: domain.Num(1)},
		{ExprID: "b", Value: domain.Num(2)},
	})
	l.CommitBatch(1, []Staged{
		{ExprID: "a", Value: domain.Num(3)},
		{ExprID: "b", Value: domain.Num(4)},
	})

	if l.CommittedPoints() != 2 {
		t.Errorf("CommittedPoints() = %d, want 2", l.CommittedPoints())
	}
	if l.LastIndex() != 1 {
		t.Errorf("LastIndex() = %d, want 1", l.LastIndex())
	}

	e, ok := l.Buffer("a").Back(0)
	if !ok || e.Value.Float != 3 {
		t.Errorf("a.Back(0) = (%+v, %t), want value 3", e, ok)
	}
	e, ok = l.Buffer("b").Back(1)
	if !ok || e.Value.Float != 2 {
		t.Errorf("b.Back(1) = (%+v, %t), want value 2", e, ok)
	}
}

func TestCommitLog_MultipleSamplesPerPoint(t *testing.T) {
	// A local scope running twice in the committing pass appends two
	// entries in invocation order.
	l := New("g1")
	l.Ensure("f", series.AppendOnlyIndexed, 10)

	l.CommitBatch(3, []Staged{
		{ExprID: "f", Value: domain.Num(10)},
		{ExprID: "f", Value: domain.Num(11)},
	})

	if l.Buffer("f").Len() != 2 {
		t.Fatalf("f.Len() = %d, want 2", l.Buffer("f").Len())
	}
	e, _ := l.Buffer("f").Back(0)
	if e.Value.Float != 11 || e.TimePointIndex != 3 {
		t.Errorf("f.Back(0) = %+v, want value 11 at index 3", e)
	}
}

func TestCommitLog_NoteOffset(t *testing.T) {
	l := New("g1")
	l.NoteOffset("a", 5)
	l.NoteOffset("a", 3)
	l.NoteOffset("a", 37)

	if got := l.MaxOffset("a"); got != 37 {
		t.Errorf("MaxOffset(a) = %d, want 37", got)
	}
	if got := l.MaxOffset("b"); got != 0 {
		t.Errorf("MaxOffset(b) = %d, want 0 for untouched expression", got)
	}
}

func TestCommitLog_Rows(t *testing.T) {
	l := New("g1")
	l.Ensure("b", series.ConsecutiveIndexed, 5)
	l.Ensure("a", series.ConsecutiveIndexed, 5)
	l.CommitBatch(0, []Staged{
		{ExprID: "a", Value: domain.Num(1)},
		{ExprID: "b", Value: domain.NA()},
	})

	rows := l.Rows("key1")
	if len(rows) != 2 {
		t.Fatalf("Rows() len = %d, want 2", len(rows))
	}
	if rows[0].ExprID != "a" || rows[1].ExprID != "b" {
		t.Errorf("Rows() not ordered by expression: %+v", rows)
	}
	if !rows[1].IsNA {
		t.Error("NA sample should round-trip through SeriesRow.IsNA")
	}
	if rows[0].RunKey != "key1" {
		t.Errorf("RunKey = %q, want key1", rows[0].RunKey)
	}
}

func TestCommitLog_SealPanicsOnWrite(t *testing.T) {
	l := New("g1")
	l.Ensure("a", series.ConsecutiveIndexed, 5)
	l.Seal()

	defer func() {
		if recover() == nil {
			t.Error("CommitBatch on sealed log should panic")
		}
	}()
	l.CommitBatch(0, []Staged{{ExprID: "a", Value: domain.Num(1)}})
}

func TestCache_LookupStoreInvalidate(t *testing.T) {
	c := NewCache(2)

	if _, ok := c.Lookup("k1"); ok {
		t.Error("Lookup on empty cache should miss")
	}

	l1 := New("g1")
	c.Store("k1", l1)
	if !l1.Sealed() {
		t.Error("Store should seal the log")
	}

	got, ok := c.Lookup("k1")
	if !ok || got != l1 {
		t.Error("Lookup should return the stored log")
	}

	c.Invalidate("k1")
	if _, ok := c.Lookup("k1"); ok {
		t.Error("Lookup after Invalidate should miss")
	}

	// Attached reader keeps its reference after invalidation.
	if got != l1 {
		t.Error("invalidation must not mutate an attached log")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := NewCache(2)
	c.Store("k1", New("g1"))
	c.Store("k2", New("g1"))

	// Touch k1 so k2 becomes least recently used.
	c.Lookup("k1")
	c.Store("k3", New("g1"))

	if _, ok := c.Lookup("k2"); ok {
		t.Error("k2 should have been evicted")
	}
	if _, ok := c.Lookup("k1"); !ok {
		t.Error("k1 should survive eviction")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}
