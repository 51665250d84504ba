// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dsort sorts a slice of keys while applying the identical
// sequence of exchanges to a second slice, keeping the two aligned.
// The connection tables use it to order presynaptic sources by global
// id while permuting the matching synapse storage in step.
package dsort

import "cmp"

// use insertion sort for smaller ranges
const insertionSortCutoff = 10

func exchange[T any](vec []T, i, j int) {
	vec[i], vec[j] = vec[j], vec[i]
}

// median3 returns the index of the median of three elements.
func median3[K cmp.Ordered](vec []K, i, j, k int) int {
	if vec[i] < vec[j] {
		switch {
		case vec[j] < vec[k]:
			return j
		case vec[i] < vec[k]:
			return k
		default:
			return i
		}
	}
	switch {
	case vec[k] < vec[j]:
		return j
	case vec[k] < vec[i]:
		return k
	default:
		return i
	}
}

// InsertionSort sorts keys[lo:hi+1] and applies the same exchanges to
// perm. Adapted from Sedgewick & Wayne (2011), Algorithms 4th edition.
func InsertionSort[K cmp.Ordered, V any](keys []K, perm []V, lo, hi int) {
	for i := lo + 1; i < hi+1; i++ {
		for j := i; j > lo && keys[j] < keys[j-1]; j-- {
			exchange(keys, j, j-1)
			exchange(perm, j, j-1)
		}
	}
}

// Quicksort3Way recursively sorts keys[lo:hi+1] with Dijkstra 3-way
// partitioning and a median-of-3 pivot, applying the same exchanges to
// perm. Equal keys keep contiguous runs without quadratic blowup, which
// matters because source tables contain long runs of one global id.
func Quicksort3Way[K cmp.Ordered, V any](keys []K, perm []V, lo, hi int) {
	if lo >= hi {
		return
	}

	n := hi - lo + 1
	if n <= insertionSortCutoff {
		InsertionSort(keys, perm, lo, hi)
		return
	}

	m := median3(keys, lo, lo+n/2, hi)

	// in case of many equal entries, use the first entry with this
	// value (useful for already sorted arrays)
	mVal := keys[m]
	for m > 0 && keys[m-1] == mVal {
		m--
	}

	// move pivot to the front
	exchange(keys, m, lo)
	exchange(perm, m, lo)

	lt := lo
	i := lo + 1
	gt := hi
	v := keys[lt] // pivot

	// adjust position of i and lt (useful for sorted arrays)
	for keys[i] < v {
		i++
	}
	exchange(keys, lo, i-1)
	exchange(perm, lo, i-1)
	lt = i - 1

	// adjust position of gt (useful for sorted arrays)
	for keys[gt] > v {
		gt--
	}

	for i <= gt {
		switch {
		case keys[i] < v:
			exchange(keys, lt, i)
			exchange(perm, lt, i)
			lt++
			i++
		case keys[i] > v:
			exchange(keys, i, gt)
			exchange(perm, i, gt)
			gt--
		default:
			i++
		}
	}

	if lt > 0 {
		Quicksort3Way(keys, perm, lo, lt-1)
	}
	Quicksort3Way(keys, perm, gt+1, hi)
}

// Sort sorts keys and applies the identical exchanges to perm.
// Both slices must have the same length.
func Sort[K cmp.Ordered, V any](keys []K, perm []V) {
	if len(keys) != len(perm) {
		panic("dsort: keys and perm have different lengths")
	}
	if len(keys) < 2 {
		return
	}
	Quicksort3Way(keys, perm, 0, len(keys)-1)
}
