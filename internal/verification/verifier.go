// Package verification re-executes runs and checks that the committed
// output matches what was persisted earlier. Evaluation is
// deterministic, so any divergence means the stored data and the
// current script disagree.
package verification

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"barlab/internal/confighash"
	"barlab/internal/domain"
	"barlab/internal/engine"
	"barlab/internal/feed"
	"barlab/internal/script"
	"barlab/internal/sink"
	"barlab/internal/storage"
)

// FloatTolerance is the tolerance for float64 value comparisons.
const FloatTolerance = 1e-9

// Divergence is one mismatched committed sample.
type Divergence struct {
	ExprID         string
	TimePointIndex int64
	Stored         *domain.SeriesRow // nil when only the replay has the sample
	Replayed       *domain.SeriesRow // nil when only the store has the sample
}

// Result summarizes one verification.
type Result struct {
	RunKey       string
	RowsCompared int
	MissingRows  int // persisted but absent from the replay
	ExtraRows    int // produced by the replay but never persisted
	Divergences  []Divergence
	Match        bool
}

// ReplayVerifier recomputes a run from scratch and diffs the result
// against the rows a series store holds for the same configuration.
type ReplayVerifier struct {
	graph  *script.Graph
	series storage.SeriesStore
	logger *log.Logger
}

// NewReplayVerifier creates a verifier for graph backed by series.
func NewReplayVerifier(graph *script.Graph, series storage.SeriesStore, logger *log.Logger) *ReplayVerifier {
	if logger == nil {
		logger = log.Default()
	}
	return &ReplayVerifier{graph: graph, series: series, logger: logger}
}

// Verify replays cfg against f without a cache, so every point is
// freshly computed, and compares the replay's commits to the persisted
// rows. Commits are captured as they happen: history buffers retain
// only each expression's capacity-bounded tail, which is not enough to
// check a full run.
func (v *ReplayVerifier) Verify(ctx context.Context, cfg domain.RunConfig, f feed.Feed) (*Result, error) {
	col := newCollector(confighash.Key(cfg))
	runner := engine.NewRunner(engine.RunnerOptions{
		Graph:  v.graph,
		Sink:   col,
		Logger: v.logger,
	})

	handle, err := runner.Run(ctx, cfg, f)
	if err != nil {
		return nil, fmt.Errorf("replay run: %w", err)
	}

	stored, err := v.series.GetByRunKey(ctx, handle.Key)
	if err != nil {
		return nil, fmt.Errorf("load stored series for %s: %w", handle.Short, err)
	}

	res := CompareRows(stored, col.rows())
	res.RunKey = handle.Key

	if res.Match {
		v.logger.Printf("verify %s: %d rows match", handle.Short, res.RowsCompared)
	} else {
		v.logger.Printf("verify %s: %d divergences (%d missing, %d extra)",
			handle.Short, len(res.Divergences), res.MissingRows, res.ExtraRows)
	}
	return res, nil
}

// collector is a sink retaining every committed row of the replay.
// Keyed by (expression, index) so a replay restart's re-delivery
// overwrites instead of accumulating; evaluation is deterministic, so
// re-delivered rows are identical.
type collector struct {
	runKey string
	byKey  map[rowKey]domain.SeriesRow
}

type rowKey struct {
	exprID string
	index  int64
}

var _ sink.Sink = (*collector)(nil)

func newCollector(runKey string) *collector {
	return &collector{runKey: runKey, byKey: make(map[rowKey]domain.SeriesRow)}
}

// OnProvisional drops the batch: only committed output is verifiable.
func (c *collector) OnProvisional(context.Context, int64, int, []domain.ProvisionalPoint, []domain.Effect) error {
	return nil
}

// OnCommit retains one row per committed point.
func (c *collector) OnCommit(_ context.Context, _ int64, points []domain.CommittedPoint, _ []domain.Effect) error {
	for _, p := range points {
		k := rowKey{string(p.ExprID), p.TimePointIndex}
		c.byKey[k] = domain.SeriesRow{
			RunKey:         c.runKey,
			ExprID:         string(p.ExprID),
			TimePointIndex: p.TimePointIndex,
			Value:          p.Value.Float,
			IsNA:           p.Value.IsNA(),
		}
	}
	return nil
}

// rows returns the collected commits ordered by expression then index.
func (c *collector) rows() []domain.SeriesRow {
	out := make([]domain.SeriesRow, 0, len(c.byKey))
	for _, r := range c.byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExprID != out[j].ExprID {
			return out[i].ExprID < out[j].ExprID
		}
		return out[i].TimePointIndex < out[j].TimePointIndex
	})
	return out
}

// CompareRows diffs persisted rows against replayed ones. Values
// compare within FloatTolerance; NA only equals NA.
func CompareRows(stored []*domain.SeriesRow, replayed []domain.SeriesRow) *Result {
	replayedByKey := make(map[rowKey]*domain.SeriesRow, len(replayed))
	for i := range replayed {
		r := &replayed[i]
		replayedByKey[rowKey{r.ExprID, r.TimePointIndex}] = r
	}

	res := &Result{}
	if len(stored) > 0 {
		res.RunKey = stored[0].RunKey
	}

	seen := make(map[rowKey]struct{}, len(stored))
	for _, s := range stored {
		k := rowKey{s.ExprID, s.TimePointIndex}
		seen[k] = struct{}{}

		r, ok := replayedByKey[k]
		if !ok {
			res.MissingRows++
			res.Divergences = append(res.Divergences, Divergence{
				ExprID: s.ExprID, TimePointIndex: s.TimePointIndex, Stored: s,
			})
			continue
		}
		res.RowsCompared++
		if !rowsEqual(s, r) {
			res.Divergences = append(res.Divergences, Divergence{
				ExprID: s.ExprID, TimePointIndex: s.TimePointIndex, Stored: s, Replayed: r,
			})
		}
	}

	for i := range replayed {
		r := &replayed[i]
		if _, ok := seen[rowKey{r.ExprID, r.TimePointIndex}]; !ok {
			res.ExtraRows++
			res.Divergences = append(res.Divergences, Divergence{
				ExprID: r.ExprID, TimePointIndex: r.TimePointIndex, Replayed: r,
			})
		}
	}

	res.Match = len(res.Divergences) == 0
	return res
}

func rowsEqual(a, b *domain.SeriesRow) bool {
	if a.IsNA || b.IsNA {
		return a.IsNA == b.IsNA
	}
	return math.Abs(a.Value-b.Value) <= FloatTolerance
}
