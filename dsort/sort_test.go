// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dsort

import (
	"math/rand"
	"sort"
	"testing"
)

func TestSortSmall(t *testing.T) {
	keys := []uint64{5, 3, 8, 1, 3}
	perm := []int{0, 1, 2, 3, 4}
	Sort(keys, perm)
	wantKeys := []uint64{1, 3, 3, 5, 8}
	for i := range wantKeys {
		if keys[i] != wantKeys[i] {
			t.Fatalf("keys[%d] = %d, want %d", i, keys[i], wantKeys[i])
		}
	}
	// perm must carry the original index of each key
	orig := []uint64{5, 3, 8, 1, 3}
	for i := range keys {
		if orig[perm[i]] != keys[i] {
			t.Errorf("perm[%d] = %d does not map back to key %d", i, perm[i], keys[i])
		}
	}
}

func TestSortEmptyAndSingle(t *testing.T) {
	Sort([]uint64{}, []int{})
	keys := []uint64{7}
	perm := []int{0}
	Sort(keys, perm)
	if keys[0] != 7 || perm[0] != 0 {
		t.Errorf("single-element sort modified slices: %v %v", keys, perm)
	}
}

func TestSortMismatchedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on mismatched lengths")
		}
	}()
	Sort([]uint64{1, 2}, []int{0})
}

// TestSortRandom checks against the stdlib sort on random data with
// many duplicate keys, the shape source tables actually have.
func TestSortRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 20; iter++ {
		n := 1 + rng.Intn(2000)
		keys := make([]uint64, n)
		perm := make([]int, n)
		span := max(n/4*3, 1)
		for i := range keys {
			keys[i] = uint64(rng.Intn(span))
			perm[i] = i
		}
		orig := append([]uint64(nil), keys...)

		want := append([]uint64(nil), keys...)
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

		Sort(keys, perm)
		for i := range keys {
			if keys[i] != want[i] {
				t.Fatalf("iter %d: keys[%d] = %d, want %d", iter, i, keys[i], want[i])
			}
			if orig[perm[i]] != keys[i] {
				t.Fatalf("iter %d: perm[%d] broken", iter, i)
			}
		}
		// perm must remain a permutation
		seen := make([]bool, n)
		for _, p := range perm {
			if seen[p] {
				t.Fatalf("iter %d: duplicate perm entry %d", iter, p)
			}
			seen[p] = true
		}
	}
}

func TestSortSorted(t *testing.T) {
	n := 500
	keys := make([]uint64, n)
	perm := make([]int, n)
	for i := range keys {
		keys[i] = uint64(i)
		perm[i] = i
	}
	Sort(keys, perm)
	for i := range keys {
		if keys[i] != uint64(i) || perm[i] != i {
			t.Fatalf("sorted input disturbed at %d: %d %d", i, keys[i], perm[i])
		}
	}
}
