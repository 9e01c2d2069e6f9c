package script

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownGraph is returned when a run names a graph nobody registered.
var ErrUnknownGraph = errors.New("unknown graph")

// GraphFunc builds a graph from run parameters.
type GraphFunc func(params map[string]float64) (*Graph, error)

var (
	catalogMu sync.RWMutex
	catalog   = make(map[string]GraphFunc)
)

// RegisterGraph makes a graph constructor selectable by ID in run
// configurations. Later registrations replace earlier ones.
func RegisterGraph(id string, fn GraphFunc) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[id] = fn
}

// BuildGraph constructs the registered graph for id with params.
func BuildGraph(id string, params map[string]float64) (*Graph, error) {
	catalogMu.RLock()
	fn, ok := catalog[id]
	catalogMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGraph, id)
	}
	return fn(params)
}

// GraphIDs returns all registered graph IDs, sorted.
func GraphIDs() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()

	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
