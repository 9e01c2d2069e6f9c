package domain

import (
	"fmt"
	"sort"
	"strings"
)

// RunConfig is the full tuple of inputs that determines computed
// values for one execution run. Two runs with equal RunConfigs against
// the same feed must produce byte-identical committed histories, which
// is why the canonical encoding below is used as the cache key input.
type RunConfig struct {
	Symbol            string             // requested data context
	Timeframe         string             // bar interval, e.g. "1m", "1d"
	GraphID           string             // identity of the precompiled expression graph
	Params            map[string]float64 // script parameter values
	CalibrationPrefix int                // finalized points used by buffer calibration
	DebugTooling      bool               // debug-tooling toggles participate in the key
}

// Canonical returns a deterministic string encoding of the config.
// Params are emitted in sorted key order so that map iteration order
// never leaks into the cache key.
func (c RunConfig) Canonical() string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%s|%s|%d|%t", c.Symbol, c.Timeframe, c.GraphID, c.CalibrationPrefix, c.DebugTooling)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%g", k, c.Params[k])
	}
	return sb.String()
}
