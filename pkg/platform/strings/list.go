// Package strings provides helpers for list-valued configuration strings.
package strings

import (
	"strings"
)

// SplitList splits raw on sep, trims every element and drops empty and
// repeated entries. The first occurrence wins, so order is preserved.
//
// Example:
//
//	SplitList(" kafka-1:9092, kafka-2:9092,,kafka-1:9092", ",")
//	// Returns: []string{"kafka-1:9092", "kafka-2:9092"}
func SplitList(raw, sep string) []string {
	return splitList(raw, sep, false)
}

// SplitListLower is like SplitList but lowercases each element, which makes
// deduplication case-insensitive.
func SplitListLower(raw, sep string) []string {
	return splitList(raw, sep, true)
}

func splitList(raw, sep string, lower bool) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, sep)
	seen := make(map[string]struct{}, len(parts))
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if lower {
			p = strings.ToLower(p)
		}
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}
