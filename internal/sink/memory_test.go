package sink

import (
	"context"
	"testing"

	"barlab/internal/domain"
	"barlab/internal/storage/memory"
)

func TestMemory_ProvisionalReplaced(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for seq := 1; seq <= 3; seq++ {
		points := []domain.ProvisionalPoint{
			{ExprID: "e", TimePointIndex: 7, UpdateSeq: seq, Value: domain.Num(float64(seq))},
		}
		if err := m.OnProvisional(ctx, 7, seq, points, nil); err != nil {
			t.Fatalf("OnProvisional failed: %v", err)
		}
	}

	batch, ok := m.Provisional(7)
	if !ok || batch.UpdateSeq != 3 || batch.Points[0].Value.Float != 3 {
		t.Errorf("batch = %+v, want only the latest revision", batch)
	}
}

func TestMemory_CommitDropsProvisional(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.OnProvisional(ctx, 7, 1, nil, nil); err != nil {
		t.Fatalf("OnProvisional failed: %v", err)
	}
	points := []domain.CommittedPoint{{ExprID: "e", TimePointIndex: 7, Value: domain.Num(9)}}
	if err := m.OnCommit(ctx, 7, points, nil); err != nil {
		t.Fatalf("OnCommit failed: %v", err)
	}

	if _, open := m.Provisional(7); open {
		t.Error("provisional state must drop on commit")
	}
	commits := m.Commits()
	if len(commits) != 1 || commits[0].Points[0].Value.Float != 9 {
		t.Errorf("commits = %+v, want the single committed batch", commits)
	}
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	multi := Multi{a, b}
	ctx := context.Background()

	points := []domain.CommittedPoint{{ExprID: "e", TimePointIndex: 0, Value: domain.Num(1)}}
	if err := multi.OnCommit(ctx, 0, points, nil); err != nil {
		t.Fatalf("OnCommit failed: %v", err)
	}

	if len(a.Commits()) != 1 || len(b.Commits()) != 1 {
		t.Error("both sinks must receive the commit")
	}
}

func TestStore_PersistsCommitsOnly(t *testing.T) {
	series := memory.NewSeriesStore()
	s := NewStore(series, "k1")
	ctx := context.Background()

	if err := s.OnProvisional(ctx, 0, 1, []domain.ProvisionalPoint{{ExprID: "e"}}, nil); err != nil {
		t.Fatalf("OnProvisional failed: %v", err)
	}
	committed := []domain.CommittedPoint{
		{ExprID: "e", TimePointIndex: 0, Value: domain.Num(1.5)},
		{ExprID: "f", TimePointIndex: 0, Value: domain.NA()},
	}
	if err := s.OnCommit(ctx, 0, committed, nil); err != nil {
		t.Fatalf("OnCommit failed: %v", err)
	}

	rows, err := series.GetByRunKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetByRunKey failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].ExprID != "e" || rows[0].Value != 1.5 || !rows[1].IsNA {
		t.Errorf("rows = %+v, want e=1.5 and f=NA", rows)
	}
}

func TestStore_RedeliveryIsIdempotent(t *testing.T) {
	series := memory.NewSeriesStore()
	s := NewStore(series, "k1")
	ctx := context.Background()

	committed := []domain.CommittedPoint{{ExprID: "e", TimePointIndex: 3, Value: domain.Num(1)}}
	if err := s.OnCommit(ctx, 3, committed, nil); err != nil {
		t.Fatalf("first OnCommit failed: %v", err)
	}
	// A replay restart re-delivers the same commit.
	if err := s.OnCommit(ctx, 3, committed, nil); err != nil {
		t.Fatalf("re-delivered OnCommit must succeed: %v", err)
	}

	rows, _ := series.GetByRunKey(ctx, "k1")
	if len(rows) != 1 {
		t.Errorf("Expected 1 row after re-delivery, got %d", len(rows))
	}
}
