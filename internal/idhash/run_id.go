package idhash

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"

	"panel-did-lab/internal/domain"
)

// runIDLength is the number of base58 characters kept after the prefix.
const runIDLength = 12

// ComputeRunID computes a deterministic run_id using SHA256.
// Formula: SHA256(config_fingerprint\n unit|period|group|outcome|covariates...)
// with rows in canonical (unit, period) order, so the ID is independent of
// input ordering. Returns "run_" followed by the first 12 characters of the
// base58-encoded hash.
func ComputeRunID(rows []domain.Observation, cfgFingerprint string) string {
	sorted := make([]domain.Observation, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].UnitID != sorted[j].UnitID {
			return sorted[i].UnitID < sorted[j].UnitID
		}
		return sorted[i].Period < sorted[j].Period
	})

	var b strings.Builder
	b.WriteString(cfgFingerprint)
	b.WriteByte('\n')
	for _, row := range sorted {
		fmt.Fprintf(&b, "%s|%d|%d|%g", row.UnitID, row.Period, row.Group, row.Outcome)
		for _, x := range row.Covariates {
			fmt.Fprintf(&b, "|%g", x)
		}
		b.WriteByte('\n')
	}

	hash := sha256.Sum256([]byte(b.String()))
	return "run_" + base58.Encode(hash[:])[:runIDLength]
}
