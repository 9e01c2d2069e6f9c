package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"barlab/internal/domain"
	"barlab/internal/storage"
)

// Generator produces reports from stored runs and series.
type Generator struct {
	runStore    storage.RunStore
	seriesStore storage.SeriesStore
	now         func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(runStore storage.RunStore, seriesStore storage.SeriesStore) *Generator {
	return &Generator{
		runStore:    runStore,
		seriesStore: seriesStore,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces the report for one run configuration.
func (g *Generator) Generate(ctx context.Context, runKey string) (*Report, error) {
	records, err := g.runStore.GetByRunKey(ctx, runKey)
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}

	rows, err := g.seriesStore.GetByRunKey(ctx, runKey)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}

	return &Report{
		GeneratedAt: g.now(),
		RunKey:      runKey,
		Executions:  executionRows(records),
		ExprStats:   exprStats(rows),
	}, nil
}

func executionRows(records []*domain.RunRecord) []ExecutionRow {
	rows := make([]ExecutionRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, ExecutionRow{
			RunID:           r.RunID,
			Attached:        r.Attached,
			Restarts:        r.Restarts,
			CommittedPoints: r.CommittedPoints,
			StartedMs:       r.StartedMs,
			FinishedMs:      r.FinishedMs,
		})
	}
	return rows
}

// exprStats folds series rows into one stat row per expression. Input
// rows arrive ordered by expression then index, which yields the
// first/last index bounds directly.
func exprStats(rows []*domain.SeriesRow) []ExprStatRow {
	byExpr := make(map[string]*ExprStatRow)
	sums := make(map[string]float64)

	for _, r := range rows {
		stat, ok := byExpr[r.ExprID]
		if !ok {
			stat = &ExprStatRow{ExprID: r.ExprID, FirstIndex: r.TimePointIndex}
			byExpr[r.ExprID] = stat
		}
		stat.Samples++
		stat.LastIndex = r.TimePointIndex

		if r.IsNA {
			stat.NACount++
			continue
		}
		valued := stat.Samples - stat.NACount
		if valued == 1 || r.Value < stat.Min {
			stat.Min = r.Value
		}
		if valued == 1 || r.Value > stat.Max {
			stat.Max = r.Value
		}
		sums[r.ExprID] += r.Value
	}

	stats := make([]ExprStatRow, 0, len(byExpr))
	for id, stat := range byExpr {
		if valued := stat.Samples - stat.NACount; valued > 0 {
			stat.Mean = sums[id] / float64(valued)
		}
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ExprID < stats[j].ExprID })
	return stats
}
