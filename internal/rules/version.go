package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// PackVersion derives a stable fingerprint for a rule set from the sorted
// versioned ids. Any rule change or version bump yields a new fingerprint,
// which keys cached verdicts.
func PackVersion(ruleset []Rule) string {
	ids := make([]string, 0, len(ruleset))
	for _, r := range ruleset {
		ids = append(ids, r.VersionedID())
	}
	sort.Strings(ids)

	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:8])
}
