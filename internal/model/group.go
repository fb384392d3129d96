package model

import (
	"sort"
	"strings"
)

// GroupKeySeparator joins participant numbers in a group key.
const GroupKeySeparator = "-"

// GroupParticipants returns the sorted, de-duplicated participant set of a
// group message: the sender plus every CC'd number. Blank entries are dropped.
func GroupParticipants(sender string, cc []string) []string {
	seen := make(map[string]struct{}, len(cc)+1)
	out := make([]string, 0, len(cc)+1)
	for _, n := range append([]string{sender}, cc...) {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// GroupKey derives the stable key of a participant set. It is invariant
// under permutation and duplication of its inputs.
func GroupKey(numbers ...string) string {
	if len(numbers) == 0 {
		return ""
	}
	return strings.Join(GroupParticipants(numbers[0], numbers[1:]), GroupKeySeparator)
}

// IsGroupKey reports whether id looks like a group key rather than a row id.
func IsGroupKey(id string) bool {
	return strings.Contains(id, "+") && strings.Contains(id, GroupKeySeparator)
}
