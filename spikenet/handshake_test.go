// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"fmt"
	"testing"
)

// buildAllToAll connects every node to every node, including self
// loops, issuing the identical script on all ranks.
func buildAllToAll(t *testing.T, w *testWorld, delay int) {
	t.Helper()
	for s := uint64(0); s < uint64(w.total); s++ {
		for d := uint64(0); d < uint64(w.total); d++ {
			w.connectAll(t, s, d, "static", 1, delay)
		}
	}
}

// worldTargetKeys collects the connection address of every target
// entry across all ranks, keyed by the owning source node's gid.
func worldTargetKeys(w *testWorld) map[uint64][]string {
	keys := make(map[uint64][]string)
	for r := 0; r < w.ranks; r++ {
		tt := w.mgrs[r].TargetTable()
		for tid := 0; tid < w.threads; tid++ {
			lid := 0
			for {
				ts := tt.Targets(tid, lid)
				if ts == nil && w.regs[r].GIDAt(r, tid, lid) >= uint64(w.total) {
					break
				}
				gid := w.regs[r].GIDAt(r, tid, lid)
				for _, tgt := range ts {
					k := fmt.Sprintf("%d/%d/%d/%d", tgt.Rank(), tgt.Tid(), tgt.SynIndex(), tgt.Lcid())
					keys[gid] = append(keys[gid], k)
				}
				lid++
			}
		}
	}
	return keys
}

func TestHandshakeAllToAllFourNodesPerRank(t *testing.T) {
	w := newTestWorld(t, 2, 2, 8, func(ctx *RunContext) {
		ctx.ChunkSizeTargetData = 2
		ctx.KeepSourceTable = true
	})
	buildAllToAll(t, w, 4)

	// every (rank, thread) hosts two nodes, so each source's entries
	// in a connection slice form runs of two
	for r := 0; r < 2; r++ {
		n := 0
		for tid := 0; tid < 2; tid++ {
			n += w.mgrs[r].SourceTable().Entries(tid)
		}
		if n != 32 {
			t.Fatalf("rank %d holds %d source entries, want 32", r, n)
		}
	}

	w.handshake(t)

	// one target per same-source run: 8 sources x one run per
	// hosting (rank, thread) pair
	if got := w.totalTargets(); got != 32 {
		t.Fatalf("world holds %d targets after handshake, want 32", got)
	}
	keys := worldTargetKeys(w)
	for gid := uint64(0); gid < 8; gid++ {
		ks := keys[gid]
		if len(ks) != 4 {
			t.Errorf("source %d announced %d runs, want 4", gid, len(ks))
		}
		seen := map[string]bool{}
		for _, k := range ks {
			if seen[k] {
				t.Errorf("source %d received duplicate address %s", gid, k)
			}
			seen[k] = true
		}
	}

	// with KeepSourceTable the scan state must be rewound, not
	// dropped
	for r := 0; r < 2; r++ {
		if w.mgrs[r].SourceTable().IsCleared() {
			t.Errorf("rank %d source table cleared despite KeepSourceTable", r)
		}
		if !w.mgrs[r].HandshakeDone() {
			t.Errorf("rank %d does not report the handshake done", r)
		}
	}
}

func TestHandshakeChunkInvariance(t *testing.T) {
	run := func(chunk int) map[uint64][]string {
		w := newTestWorld(t, 2, 2, 8, func(ctx *RunContext) {
			ctx.ChunkSizeTargetData = chunk
			ctx.KeepSourceTable = true
		})
		buildAllToAll(t, w, 4)
		w.handshake(t)
		return worldTargetKeys(w)
	}

	// chunk 0 lets the ranks derive a section that fits everything
	// in one round; chunk 1 forces the maximum number of rounds
	big := run(0)
	small := run(1)
	if len(small) != len(big) {
		t.Fatalf("chunk 1 announced %d sources, chunk 0 announced %d", len(small), len(big))
	}
	for gid, want := range big {
		got := small[gid]
		if len(got) != len(want) {
			t.Fatalf("source %d: chunk 1 announced %d runs, chunk 0 %d", gid, len(got), len(want))
		}
		wantSet := map[string]bool{}
		for _, k := range want {
			wantSet[k] = true
		}
		for _, k := range got {
			if !wantSet[k] {
				t.Errorf("source %d: address %s only present with chunk 1", gid, k)
			}
		}
	}
}

func TestHandshakeDropsSourceTableByDefault(t *testing.T) {
	w := newTestWorld(t, 2, 1, 4, nil)
	w.connectAll(t, 0, 1, "static", 1, 4)
	w.connectAll(t, 1, 2, "static", 1, 4)
	w.handshake(t)
	for r := 0; r < 2; r++ {
		if !w.mgrs[r].SourceTable().IsCleared() {
			t.Errorf("rank %d kept the source table", r)
		}
	}
	if got := w.totalTargets(); got != 2 {
		t.Fatalf("world holds %d targets, want 2", got)
	}
}

func TestHandshakeSkipsDisconnected(t *testing.T) {
	w := newTestWorld(t, 2, 1, 4, func(ctx *RunContext) {
		ctx.KeepSourceTable = true
	})
	w.connectAll(t, 0, 1, "static", 1, 4)
	w.connectAll(t, 0, 3, "static", 1, 4)
	for _, m := range w.mgrs {
		found, err := m.Disconnect(0, 3, "static")
		if err != nil {
			t.Fatalf("disconnect: %v", err)
		}
		// only the rank hosting node 3 holds the connection
		_ = found
	}
	w.handshake(t)
	if got := w.totalTargets(); got != 1 {
		t.Fatalf("world holds %d targets, want 1", got)
	}
	keys := worldTargetKeys(w)
	if len(keys[0]) != 1 {
		t.Fatalf("source 0 announced %d runs, want 1", len(keys[0]))
	}
}

func TestConnectAfterHandshakeRestructures(t *testing.T) {
	w := newTestWorld(t, 2, 1, 4, func(ctx *RunContext) {
		ctx.KeepSourceTable = true
	})
	w.connectAll(t, 0, 1, "static", 1, 4)
	w.handshake(t)
	if got := w.totalTargets(); got != 1 {
		t.Fatalf("world holds %d targets, want 1", got)
	}
	// a late connect invalidates the exchanged addresses on the rank
	// that stores it; the next collective handshake rebuilds all
	// ranks in full
	w.connectAll(t, 2, 3, "static", 1, 4)
	host := w.regs[0].RankOf(3)
	if w.mgrs[host].HandshakeDone() {
		t.Fatalf("rank %d still reports the handshake done after a late connect", host)
	}
	w.handshake(t)
	if got := w.totalTargets(); got != 2 {
		t.Fatalf("world holds %d targets after rebuild, want 2", got)
	}
}
