package utils

import "sort"

func Max(left, right int) int {
	if left < right {
		return right
	}
	return left
}

// Diff splits two name lists into names only in a, names in both, and names only in b.
func Diff(a, b []string) (left, shared, right []string) {
	aset := map[string]bool{}
	for _, item := range a {
		aset[item] = true
	}
	for _, item := range b {
		if _, ok := aset[item]; ok {
			shared = append(shared, item)
			delete(aset, item)
		} else {
			right = append(right, item)
		}
	}
	for item := range aset {
		left = append(left, item)
	}
	sort.Strings(left)
	return
}

func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
