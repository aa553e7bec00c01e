// Package slices holds the generic slice helpers used across the module.
package slices

// Map applies f to every element of l.
func Map[L ~[]X, X, Y any](l L, f func(X) Y) []Y {
	res := make([]Y, len(l))
	for i, x := range l {
		res[i] = f(x)
	}
	return res
}

func Contains[L ~[]E, E comparable](l L, x E) bool {
	for _, y := range l {
		if y == x {
			return true
		}
	}
	return false
}

// Subset reports whether every element of sub occurs in l.
func Subset[L ~[]E, E comparable](sub, l L) bool {
	for _, x := range sub {
		if !Contains(l, x) {
			return false
		}
	}
	return true
}
