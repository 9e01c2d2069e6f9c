package clickhouse_test

import (
	"context"
	"errors"
	"testing"

	"barlab/internal/domain"
	"barlab/internal/storage"
	chstore "barlab/internal/storage/clickhouse"
)

func TestSeriesStore_Clickhouse(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewSeriesStore(conn)
	ctx := context.Background()

	rows := []*domain.SeriesRow{
		{RunKey: "k1", ExprID: "sma", TimePointIndex: 0, Value: 1.5},
		{RunKey: "k1", ExprID: "sma", TimePointIndex: 1, IsNA: true},
		{RunKey: "k1", ExprID: "close", TimePointIndex: 0, Value: 100},
	}
	if err := store.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	t.Run("GetByRunKey", func(t *testing.T) {
		result, err := store.GetByRunKey(ctx, "k1")
		if err != nil {
			t.Fatalf("GetByRunKey failed: %v", err)
		}
		if len(result) != 3 {
			t.Fatalf("Expected 3 rows, got %d", len(result))
		}
		if result[0].ExprID != "close" || result[0].Value != 100 {
			t.Errorf("Unexpected first row: %+v", result[0])
		}
	})

	t.Run("GetByExpr", func(t *testing.T) {
		result, err := store.GetByExpr(ctx, "k1", "sma")
		if err != nil {
			t.Fatalf("GetByExpr failed: %v", err)
		}
		if len(result) != 2 || !result[1].IsNA {
			t.Errorf("Expected 2 sma rows with NA second, got %+v", result)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := store.InsertBulk(ctx, []*domain.SeriesRow{
			{RunKey: "k1", ExprID: "sma", TimePointIndex: 0, Value: 7},
		})
		if !errors.Is(err, storage.ErrDuplicateKey) {
			t.Errorf("Expected ErrDuplicateKey, got %v", err)
		}
	})

	t.Run("IntraBatchDuplicate", func(t *testing.T) {
		err := store.InsertBulk(ctx, []*domain.SeriesRow{
			{RunKey: "k9", ExprID: "x", TimePointIndex: 0, Value: 1},
			{RunKey: "k9", ExprID: "x", TimePointIndex: 0, Value: 2},
		})
		if !errors.Is(err, storage.ErrDuplicateKey) {
			t.Errorf("Expected ErrDuplicateKey, got %v", err)
		}
	})
}

func TestBarStore_Clickhouse(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := chstore.NewBarStore(conn)
	ctx := context.Background()

	points := []*domain.TimePoint{
		{Index: 0, IsFinalized: true, Bar: domain.Bar{TimestampMs: 0, Close: 100, Symbol: "BTC/USD"}},
		{Index: 1, IsFinalized: true, Bar: domain.Bar{TimestampMs: 60_000, Close: 101, Symbol: "BTC/USD"}},
	}
	if err := store.InsertBulk(ctx, "BTC/USD", "1m", points); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	t.Run("GetAll", func(t *testing.T) {
		result, err := store.GetAll(ctx, "BTC/USD", "1m")
		if err != nil {
			t.Fatalf("GetAll failed: %v", err)
		}
		if len(result) != 2 || result[1].Bar.Close != 101 {
			t.Errorf("Unexpected bars: %+v", result)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := store.InsertBulk(ctx, "BTC/USD", "1m", points[:1])
		if !errors.Is(err, storage.ErrDuplicateKey) {
			t.Errorf("Expected ErrDuplicateKey, got %v", err)
		}
	})

	t.Run("Provisional", func(t *testing.T) {
		err := store.InsertBulk(ctx, "BTC/USD", "1m", []*domain.TimePoint{{Index: 9}})
		if !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for provisional bar, got %v", err)
		}
	})
}
