// Package vectorclock implements the causal-ordering primitives shared by
// the sync handlers: compare, merge, and increment over device→counter maps.
package vectorclock

import "sort"

// Clock is a mapping from device ID to a monotonically increasing counter.
// The zero value is the empty clock.
type Clock map[string]int64

// Ordering is the result of comparing two clocks.
type Ordering int

const (
	Identical Ordering = iota
	Before              // a happened-before b
	After               // b happened-before a
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Identical:
		return "identical"
	case Before:
		return "a_before_b"
	case After:
		return "b_before_a"
	default:
		return "concurrent"
	}
}

// Compare returns the causal relationship of a to b. It is total: exactly
// one of Identical, Before, After, Concurrent is returned.
func Compare(a, b Clock) Ordering {
	aLeqB, bLeqA := true, true
	for _, k := range unionKeys(a, b) {
		av, bv := a[k], b[k]
		if av > bv {
			aLeqB = false
		}
		if bv > av {
			bLeqA = false
		}
	}

	switch {
	case aLeqB && bLeqA:
		return Identical
	case aLeqB:
		return Before
	case bLeqA:
		return After
	default:
		return Concurrent
	}
}

// Merge returns the pointwise maximum of a and b over the union of their
// keys. The result is a fresh clock; neither input is mutated.
func Merge(a, b Clock) Clock {
	out := make(Clock, len(a)+len(b))
	for _, k := range unionKeys(a, b) {
		av, bv := a[k], b[k]
		if av > bv {
			out[k] = av
		} else {
			out[k] = bv
		}
	}
	return out
}

// MergeAll folds Merge over a slice of clocks, returning the empty clock
// for an empty slice.
func MergeAll(clocks []Clock) Clock {
	out := Clock{}
	for _, c := range clocks {
		out = Merge(out, c)
	}
	return out
}

// Increment returns a copy of c with device's counter incremented by one,
// creating the entry if absent. c is not mutated.
func Increment(c Clock, device string) Clock {
	out := make(Clock, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[device]++
	return out
}

// Equal reports whether a and b have identical entries (zero-valued
// entries are treated as absent, matching the map semantics used by
// Compare and Merge).
func Equal(a, b Clock) bool {
	return Compare(a, b) == Identical && sameKeys(a, b)
}

func sameKeys(a, b Clock) bool {
	for k, v := range a {
		if v != 0 {
			if b[k] != v {
				return false
			}
		}
	}
	for k, v := range b {
		if v != 0 {
			if a[k] != v {
				return false
			}
		}
	}
	return true
}

func unionKeys(a, b Clock) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
