// Package feed supplies ordered TimePoint sequences to the engine: a
// historical prefix of finalized points, then a live tail of
// provisional revisions and finalizations.
package feed

import (
	"context"

	"barlab/internal/domain"
)

// Feed is the engine's input protocol. Index is monotonically
// non-decreasing across Historical and Updates; a provisional index may
// be delivered multiple times with increasing UpdateSeq before one
// final delivery flips IsFinalized.
type Feed interface {
	// Historical returns the finalized points available at run start,
	// ordered by index.
	Historical(ctx context.Context) ([]*domain.TimePoint, error)

	// Updates streams subsequent deliveries. The channel closes when the
	// feed ends or ctx is cancelled; there is no deadline on how long a
	// provisional point may stay open.
	Updates(ctx context.Context) (<-chan *domain.TimePoint, error)
}
