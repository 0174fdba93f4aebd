// Package locate finds literal substrings inside text.
//
// Needles are opaque strings, never patterns. All offsets are byte offsets
// into the haystack and matching is case-sensitive.
package locate

import "strings"

// FindAll returns the start offsets of every non-overlapping occurrence of
// needle in haystack, in ascending order. An empty needle yields nil.
func FindAll(haystack, needle string) []int {
	if needle == "" {
		return nil
	}

	var offsets []int
	from := 0
	for {
		idx := strings.Index(haystack[from:], needle)
		if idx < 0 {
			return offsets
		}
		offsets = append(offsets, from+idx)
		from += idx + len(needle)
	}
}

// IndexOf returns the offset of the first occurrence of needle at or after
// from, or -1. A negative from is treated as zero.
func IndexOf(haystack, needle string, from int) int {
	if needle == "" {
		return -1
	}
	if from < 0 {
		from = 0
	}
	if from > len(haystack) {
		return -1
	}

	idx := strings.Index(haystack[from:], needle)
	if idx < 0 {
		return -1
	}
	return from + idx
}

// Contains reports whether needle occurs in haystack. An empty needle is
// never contained.
func Contains(haystack, needle string) bool {
	return IndexOf(haystack, needle, 0) >= 0
}

// ReplaceFirst replaces the first occurrence of old with replacement. It
// returns the offset where the replacement was written, or -1 when old does
// not occur (haystack is then returned unchanged).
func ReplaceFirst(haystack, old, replacement string) (string, int) {
	idx := IndexOf(haystack, old, 0)
	if idx < 0 {
		return haystack, -1
	}
	return haystack[:idx] + replacement + haystack[idx+len(old):], idx
}
