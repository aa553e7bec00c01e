// Package maps holds the generic map helpers used across the module.
package maps

import (
	"cmp"
	"sort"
)

// FromKeys returns the set of elements of l.
func FromKeys[L ~[]K, K comparable](l L) map[K]struct{} {
	set := make(map[K]struct{}, len(l))
	for _, k := range l {
		set[k] = struct{}{}
	}
	return set
}

func Keys[M ~map[K]V, K comparable, V any](m M) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[M ~map[K]V, K cmp.Ordered, V any](m M) []K {
	keys := Keys(m)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
