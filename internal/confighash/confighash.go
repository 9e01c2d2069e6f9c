package confighash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mr-tron/base58"

	"barlab/internal/domain"
)

// Key computes a deterministic cache key for a run configuration using
// SHA256 over the config's canonical encoding.
// Returns hex-encoded hash (64 characters).
func Key(cfg domain.RunConfig) string {
	hash := sha256.Sum256([]byte(cfg.Canonical()))
	return hex.EncodeToString(hash[:])
}

// Short computes a compact base58 digest of the first 8 hash bytes,
// used to tag log lines and metric labels for a run.
func Short(cfg domain.RunConfig) string {
	hash := sha256.Sum256([]byte(cfg.Canonical()))
	return base58.Encode(hash[:8])
}
