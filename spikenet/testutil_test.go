// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"testing"

	"github.com/emsim/spikenet/exchange"
)

// testNode collects delivered events.
type testNode struct {
	gid    uint64
	events []SpikeEvent
}

func (n *testNode) HandleSpike(ev *SpikeEvent) {
	n.events = append(n.events, *ev)
}

// testWorld is an in-process multi-rank setup: one manager, registry
// and node set per rank, joined by a LocalGroup exchange.
type testWorld struct {
	ranks   int
	threads int
	total   int
	mgrs    []*ConnectionManager
	regs    []*ModuloRegistry
	nodes   map[uint64]*testNode // local node per gid, across all ranks
	comms   []exchange.Comm
}

func newTestWorld(t *testing.T, ranks, threads, total int, mutate func(ctx *RunContext)) *testWorld {
	t.Helper()
	w := &testWorld{
		ranks:   ranks,
		threads: threads,
		total:   total,
		nodes:   make(map[uint64]*testNode),
	}
	grp := exchange.NewLocalGroup(ranks)
	w.comms = grp.Comms()
	for r := 0; r < ranks; r++ {
		reg := NewModuloRegistry(r, ranks, threads, total)
		for gid := uint64(0); gid < uint64(total); gid++ {
			if reg.IsLocal(gid) {
				n := &testNode{gid: gid}
				reg.SetNode(gid, n)
				w.nodes[gid] = n
			}
		}
		ctx := &RunContext{
			Rank:       r,
			NumRanks:   ranks,
			NumThreads: threads,
			Resolution: 0.1,
			MinDelay:   4,
			MaxDelay:   16,
			Nodes:      reg,
		}
		if mutate != nil {
			mutate(ctx)
		}
		if err := ctx.Validate(); err != nil {
			t.Fatalf("context: %v", err)
		}
		models := NewModelTable()
		models.RegisterBuiltins()
		w.regs = append(w.regs, reg)
		w.mgrs = append(w.mgrs, NewConnectionManager(ctx, models))
	}
	return w
}

// connectAll issues the same Connect on every rank, the way a script
// drives a distributed build.
func (w *testWorld) connectAll(t *testing.T, sgid, tgid uint64, model string, weight float32, delay int) {
	t.Helper()
	for _, m := range w.mgrs {
		if err := m.Connect(sgid, tgid, model, weight, delay, true); err != nil {
			t.Fatalf("connect %d->%d: %v", sgid, tgid, err)
		}
	}
}

// handshake runs CommunicateTargets on all ranks concurrently.
func (w *testWorld) handshake(t *testing.T) {
	t.Helper()
	errs := make(chan error, w.ranks)
	for r := 0; r < w.ranks; r++ {
		go func(r int) {
			errs <- w.mgrs[r].CommunicateTargets(w.comms[r])
		}(r)
	}
	for r := 0; r < w.ranks; r++ {
		if err := <-errs; err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}
}

// gather runs GatherSpikes on all ranks concurrently.
func (w *testWorld) gather(t *testing.T, origin float32) []SliceReport {
	t.Helper()
	reps := make([]SliceReport, w.ranks)
	errs := make(chan error, w.ranks)
	for r := 0; r < w.ranks; r++ {
		go func(r int) {
			rep, err := w.mgrs[r].GatherSpikes(w.comms[r], origin)
			reps[r] = rep
			errs <- err
		}(r)
	}
	for r := 0; r < w.ranks; r++ {
		if err := <-errs; err != nil {
			t.Fatalf("gather: %v", err)
		}
	}
	return reps
}

// totalTargets counts target entries across all ranks and threads.
func (w *testWorld) totalTargets() int {
	n := 0
	for r := 0; r < w.ranks; r++ {
		for tid := 0; tid < w.threads; tid++ {
			n += w.mgrs[r].TargetTable().NumTargets(tid)
		}
	}
	return n
}
