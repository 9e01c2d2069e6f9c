package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"barlab/internal/domain"
	"barlab/internal/storage/memory"
)

func seededStores(t *testing.T) (*memory.RunStore, *memory.SeriesStore) {
	t.Helper()
	ctx := context.Background()

	runs := memory.NewRunStore()
	records := []*domain.RunRecord{
		{
			RunID: "run-001", RunKey: "k1", Symbol: "BTC/USD", Timeframe: "1m", GraphID: "g",
			Restarts: 1, CommittedPoints: 3, StartedMs: 1000, FinishedMs: 2000,
		},
		{
			RunID: "run-002", RunKey: "k1", Symbol: "BTC/USD", Timeframe: "1m", GraphID: "g",
			Attached: true, CommittedPoints: 3, StartedMs: 3000, FinishedMs: 3001,
		},
	}
	for _, r := range records {
		if err := runs.Insert(ctx, r); err != nil {
			t.Fatalf("seed run %s: %v", r.RunID, err)
		}
	}

	series := memory.NewSeriesStore()
	rows := []*domain.SeriesRow{
		{RunKey: "k1", ExprID: "close", TimePointIndex: 0, Value: 100},
		{RunKey: "k1", ExprID: "close", TimePointIndex: 1, Value: 101},
		{RunKey: "k1", ExprID: "close", TimePointIndex: 2, Value: 102},
		{RunKey: "k1", ExprID: "sma", TimePointIndex: 0, IsNA: true},
		{RunKey: "k1", ExprID: "sma", TimePointIndex: 1, Value: 101.5},
		{RunKey: "k1", ExprID: "sma", TimePointIndex: 2, Value: 102.5},
	}
	if err := series.InsertBulk(ctx, rows); err != nil {
		t.Fatalf("seed series: %v", err)
	}
	return runs, series
}

func testReport(t *testing.T) *Report {
	t.Helper()
	runs, series := seededStores(t)

	gen := NewGenerator(runs, series).WithClock(func() time.Time {
		return time.Unix(1700000000, 0).UTC()
	})
	report, err := gen.Generate(context.Background(), "k1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return report
}

func TestGenerator_Generate(t *testing.T) {
	report := testReport(t)

	if len(report.Executions) != 2 {
		t.Fatalf("Expected 2 executions, got %d", len(report.Executions))
	}
	if report.Executions[0].RunID != "run-001" || !report.Executions[1].Attached {
		t.Errorf("Executions = %+v, want run-001 computed then run-002 attached", report.Executions)
	}

	if len(report.ExprStats) != 2 {
		t.Fatalf("Expected 2 expression stats, got %d", len(report.ExprStats))
	}
	closeStat, smaStat := report.ExprStats[0], report.ExprStats[1]
	if closeStat.ExprID != "close" || closeStat.Samples != 3 || closeStat.Mean != 101 {
		t.Errorf("close stat = %+v", closeStat)
	}
	if smaStat.NACount != 1 || smaStat.Min != 101.5 || smaStat.Max != 102.5 || smaStat.Mean != 102 {
		t.Errorf("sma stat = %+v, NA entries must not skew the aggregates", smaStat)
	}
	if smaStat.FirstIndex != 0 || smaStat.LastIndex != 2 {
		t.Errorf("sma bounds = [%d,%d], want [0,2]", smaStat.FirstIndex, smaStat.LastIndex)
	}
}

func TestRenderMarkdown_Golden(t *testing.T) {
	report := testReport(t)

	g := goldie.New(t)
	g.Assert(t, "run_report", []byte(RenderMarkdown(report)))
}

func TestRenderCSV(t *testing.T) {
	report := testReport(t)

	out := RenderCSV(report.ExprStats)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], "close,3,0,0,2,") {
		t.Errorf("close row = %q", lines[1])
	}
}

func TestExprStats_AllNA(t *testing.T) {
	stats := exprStats([]*domain.SeriesRow{
		{RunKey: "k", ExprID: "e", TimePointIndex: 0, IsNA: true},
		{RunKey: "k", ExprID: "e", TimePointIndex: 1, IsNA: true},
	})
	if len(stats) != 1 {
		t.Fatalf("Expected 1 stat, got %d", len(stats))
	}
	s := stats[0]
	if s.NACount != 2 || s.Min != 0 || s.Max != 0 || s.Mean != 0 {
		t.Errorf("all-NA stat = %+v, want zero aggregates", s)
	}
}
