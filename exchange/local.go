// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package exchange

import (
	"fmt"
	"sync"
)

// LocalGroup runs a fixed number of ranks inside one process, one
// goroutine per rank. Each collective call blocks until every rank of
// the group has entered it, then all ranks leave with their results.
// The barrier is a generation-counted sync.Cond so the group can run
// any number of consecutive rounds.
type LocalGroup struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int

	// per-round state, valid between first enter and last leave
	entered int
	left    int
	gen     uint64

	sends     [][]uint64
	recvs     [][]uint64
	section   int
	reduceIn  []int
	reduceOut int
}

// NewLocalGroup creates a group of n ranks. Use Comm to obtain the
// endpoint for each rank; each endpoint must be driven by its own
// goroutine.
func NewLocalGroup(n int) *LocalGroup {
	if n < 1 {
		panic("exchange: LocalGroup needs at least one rank")
	}
	g := &LocalGroup{
		n:        n,
		sends:    make([][]uint64, n),
		recvs:    make([][]uint64, n),
		reduceIn: make([]int, n),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Comm returns the endpoint for the given rank.
func (g *LocalGroup) Comm(rank int) Comm {
	if rank < 0 || rank >= g.n {
		panic(fmt.Sprintf("exchange: rank %d out of range [0,%d)", rank, g.n))
	}
	return &localComm{group: g, rank: rank}
}

// Comms returns all endpoints, indexed by rank.
func (g *LocalGroup) Comms() []Comm {
	cs := make([]Comm, g.n)
	for r := 0; r < g.n; r++ {
		cs[r] = g.Comm(r)
	}
	return cs
}

type localComm struct {
	group *LocalGroup
	rank  int
}

func (c *localComm) Rank() int     { return c.rank }
func (c *localComm) NumRanks() int { return c.group.n }

// round joins the current collective round, blocking until all n ranks
// have entered. The last rank in runs fn once with the lock held, then
// wakes everyone; each rank then runs collect (still locked) to read
// its share of the result. The leave-side accounting keeps consecutive
// rounds from overlapping.
func (g *LocalGroup) round(deposit, fn, collect func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// wait until the previous round has fully drained
	for g.left != 0 && g.left < g.n {
		g.cond.Wait()
	}
	if g.left == g.n {
		g.left = 0
	}

	deposit()
	g.entered++
	gen := g.gen
	if g.entered == g.n {
		fn()
		g.entered = 0
		g.gen++
		g.cond.Broadcast()
	} else {
		for gen == g.gen {
			g.cond.Wait()
		}
	}
	if collect != nil {
		collect()
	}
	g.left++
	if g.left == g.n {
		g.cond.Broadcast()
	}
}

func (c *localComm) AllToAll(send, recv []uint64, section int) error {
	g := c.group
	want := g.n * section
	if len(send) != want || len(recv) != want {
		return fmt.Errorf("exchange: all-to-all buffers must hold %d words, got send=%d recv=%d",
			want, len(send), len(recv))
	}
	g.round(func() {
		g.sends[c.rank] = send
		g.recvs[c.rank] = recv
		g.section = section
	}, func() {
		s := g.section
		for dst := 0; dst < g.n; dst++ {
			for src := 0; src < g.n; src++ {
				copy(g.recvs[dst][src*s:(src+1)*s], g.sends[src][dst*s:(dst+1)*s])
			}
		}
		for r := range g.sends {
			g.sends[r] = nil
			g.recvs[r] = nil
		}
	}, nil)
	return nil
}

func (c *localComm) AllReduceMaxInt(v int) (int, error) {
	g := c.group
	var m int
	g.round(func() {
		g.reduceIn[c.rank] = v
	}, func() {
		mx := g.reduceIn[0]
		for _, x := range g.reduceIn[1:] {
			if x > mx {
				mx = x
			}
		}
		g.reduceOut = mx
	}, func() {
		m = g.reduceOut
	})
	return m, nil
}
