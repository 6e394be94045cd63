package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeCellID computes a deterministic cell identifier using SHA256.
// Formula: SHA256(run_id|group|period)
// Returns hex-encoded hash (64 characters). The same cell of the same
// run always maps to one storage key.
func ComputeCellID(runID string, group, period int) string {
	data := fmt.Sprintf("%s|%d|%d", runID, group, period)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
