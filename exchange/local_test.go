// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package exchange

import (
	"sync"
	"testing"
)

func TestLocalAllToAll(t *testing.T) {
	const n = 4
	const section = 3
	grp := NewLocalGroup(n)
	comms := grp.Comms()

	recvs := make([][]uint64, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			send := make([]uint64, n*section)
			recv := make([]uint64, n*section)
			for to := 0; to < n; to++ {
				for k := 0; k < section; k++ {
					send[to*section+k] = uint64(r*100 + to*10 + k)
				}
			}
			if err := comms[r].AllToAll(send, recv, section); err != nil {
				t.Errorf("rank %d: %v", r, err)
				return
			}
			recvs[r] = recv
		}(r)
	}
	wg.Wait()

	for r := 0; r < n; r++ {
		for from := 0; from < n; from++ {
			for k := 0; k < section; k++ {
				want := uint64(from*100 + r*10 + k)
				got := recvs[r][from*section+k]
				if got != want {
					t.Errorf("rank %d section %d word %d: got %d want %d", r, from, k, got, want)
				}
			}
		}
	}
}

func TestLocalAllToAllRepeatedRounds(t *testing.T) {
	const n = 3
	const section = 2
	const rounds = 50
	grp := NewLocalGroup(n)
	comms := grp.Comms()

	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			send := make([]uint64, n*section)
			recv := make([]uint64, n*section)
			for round := 0; round < rounds; round++ {
				for to := 0; to < n; to++ {
					for k := 0; k < section; k++ {
						send[to*section+k] = uint64(round*1000 + r*100 + to*10 + k)
					}
				}
				if err := comms[r].AllToAll(send, recv, section); err != nil {
					t.Errorf("rank %d round %d: %v", r, round, err)
					return
				}
				for from := 0; from < n; from++ {
					for k := 0; k < section; k++ {
						want := uint64(round*1000 + from*100 + r*10 + k)
						if recv[from*section+k] != want {
							t.Errorf("rank %d round %d from %d word %d: got %d want %d",
								r, round, from, k, recv[from*section+k], want)
							return
						}
					}
				}
			}
		}(r)
	}
	wg.Wait()
}

func TestLocalAllReduceMaxInt(t *testing.T) {
	const n = 4
	grp := NewLocalGroup(n)
	comms := grp.Comms()

	vals := []int{7, 42, -3, 19}
	results := make([]int, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			mx, err := comms[r].AllReduceMaxInt(vals[r])
			if err != nil {
				t.Errorf("rank %d: %v", r, err)
				return
			}
			results[r] = mx
		}(r)
	}
	wg.Wait()

	for r := 0; r < n; r++ {
		if results[r] != 42 {
			t.Errorf("rank %d: got %d want 42", r, results[r])
		}
	}
}

func TestLocalAllToAllBadLength(t *testing.T) {
	grp := NewLocalGroup(1)
	comm := grp.Comms()[0]
	send := make([]uint64, 2)
	recv := make([]uint64, 3)
	if err := comm.AllToAll(send, recv, 3); err == nil {
		t.Error("expected length mismatch error")
	}
}
