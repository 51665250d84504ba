// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"testing"

	"github.com/emsim/spikenet/exchange"
)

func TestGatherDeliversAcrossRanks(t *testing.T) {
	w := newTestWorld(t, 2, 2, 8, func(ctx *RunContext) {
		ctx.KeepSourceTable = true
	})
	// nodes 0 and 4 live on rank 0, nodes 1 and 5 on rank 1, all on
	// thread 0; the three connections share one slice on rank 1 and
	// the two from node 0 form a run
	w.connectAll(t, 0, 1, "static", 1.5, 4)
	w.connectAll(t, 0, 5, "static", 2.5, 5)
	w.connectAll(t, 4, 1, "static", 3.0, 6)
	w.handshake(t)

	w.mgrs[0].RecordSpike(0, 1)
	w.mgrs[0].RecordSpike(4, 3)
	const origin = float32(20)
	reps := w.gather(t, origin)

	routed, delivered := 0, 0
	for _, rep := range reps {
		routed += rep.Routed
		delivered += rep.Delivered
	}
	// one record per same-source run on the wire, one event per
	// live connection at the far end
	if routed != 2 || delivered != 3 {
		t.Fatalf("routed %d delivered %d, want 2 and 3", routed, delivered)
	}

	n1 := w.nodes[1]
	if len(n1.events) != 2 {
		t.Fatalf("node 1 received %d events, want 2", len(n1.events))
	}
	want0 := SpikeEvent{SourceGID: 0, Weight: 1.5, Delay: 4, Lag: 1, Time: origin + float32(1)*0.1}
	want1 := SpikeEvent{SourceGID: 4, Weight: 3.0, Delay: 6, Lag: 3, Time: origin + float32(3)*0.1}
	if n1.events[0] != want0 || n1.events[1] != want1 {
		t.Errorf("node 1 events %+v, want [%+v %+v]", n1.events, want0, want1)
	}

	n5 := w.nodes[5]
	if len(n5.events) != 1 {
		t.Fatalf("node 5 received %d events, want 1", len(n5.events))
	}
	if want := (SpikeEvent{SourceGID: 0, Weight: 2.5, Delay: 5, Lag: 1, Time: origin + float32(1)*0.1}); n5.events[0] != want {
		t.Errorf("node 5 event %+v, want %+v", n5.events[0], want)
	}
	if len(w.nodes[2].events)+len(w.nodes[3].events) != 0 {
		t.Error("silent sources produced deliveries")
	}
}

func TestKeepSourceTableDeliveryAfterDisconnect(t *testing.T) {
	w := newTestWorld(t, 2, 1, 8, func(ctx *RunContext) {
		ctx.KeepSourceTable = true
	})
	// both targets live on rank 1, so its source table carries a
	// two-entry run for node 0; disabling the first entry must leave
	// the survivor addressable at its original index after the
	// handshake
	w.connectAll(t, 0, 1, "static", 1.5, 4)
	w.connectAll(t, 0, 3, "static", 2.5, 4)

	found := 0
	for _, m := range w.mgrs {
		ok, err := m.Disconnect(0, 1, "static")
		if err != nil {
			t.Fatalf("disconnect: %v", err)
		}
		if ok {
			found++
		}
	}
	if found != 1 {
		t.Fatalf("disconnect matched on %d ranks, want 1", found)
	}

	w.handshake(t)
	w.mgrs[0].RecordSpike(0, 1)
	const origin = float32(10)
	reps := w.gather(t, origin)

	routed, delivered := 0, 0
	for _, rep := range reps {
		routed += rep.Routed
		delivered += rep.Delivered
	}
	if routed != 1 || delivered != 1 {
		t.Fatalf("routed %d delivered %d, want 1 and 1", routed, delivered)
	}
	if len(w.nodes[1].events) != 0 {
		t.Errorf("disconnected node 1 received %+v", w.nodes[1].events)
	}
	n3 := w.nodes[3]
	if len(n3.events) != 1 {
		t.Fatalf("node 3 received %d events, want 1", len(n3.events))
	}
	if want := (SpikeEvent{SourceGID: 0, Weight: 2.5, Delay: 4, Lag: 1, Time: origin + float32(1)*0.1}); n3.events[0] != want {
		t.Errorf("node 3 event %+v, want %+v", n3.events[0], want)
	}
}

func TestGatherWithoutSpikesStaysCollective(t *testing.T) {
	w := newTestWorld(t, 2, 1, 4, nil)
	w.connectAll(t, 0, 1, "static", 1, 4)
	w.handshake(t)
	reps := w.gather(t, 0)
	for r, rep := range reps {
		if rep.Routed != 0 || rep.Delivered != 0 {
			t.Errorf("rank %d: %+v on an empty slice", r, rep)
		}
		if rep.Rounds != 1 {
			t.Errorf("rank %d took %d rounds for an empty slice", r, rep.Rounds)
		}
	}
}

func TestGatherBoundedBufferMatchesUnbounded(t *testing.T) {
	run := func(chunk int) (map[uint64]int, int) {
		w := newTestWorld(t, 2, 1, 4, func(ctx *RunContext) {
			ctx.ChunkSizeSpikeData = chunk
		})
		for s := uint64(0); s < 4; s++ {
			for d := uint64(0); d < 4; d++ {
				w.connectAll(t, s, d, "static", 1, 4)
			}
		}
		w.handshake(t)
		for gid := uint64(0); gid < 4; gid++ {
			m := w.mgrs[w.regs[0].RankOf(gid)]
			m.RecordSpike(gid, 0)
			m.RecordSpike(gid, 2)
		}
		reps := w.gather(t, 0)
		counts := make(map[uint64]int)
		for gid, n := range w.nodes {
			counts[gid] = len(n.events)
		}
		rounds := 0
		for _, rep := range reps {
			if rep.Rounds > rounds {
				rounds = rep.Rounds
			}
		}
		return counts, rounds
	}

	big, bigRounds := run(0)
	small, smallRounds := run(1)
	if bigRounds != 1 {
		t.Fatalf("default sections took %d rounds, want 1", bigRounds)
	}
	if smallRounds < 2 {
		t.Fatalf("single-record sections finished in %d rounds, want several", smallRounds)
	}
	for gid := uint64(0); gid < 4; gid++ {
		if big[gid] != 8 {
			t.Errorf("node %d received %d events, want 8", gid, big[gid])
		}
		if small[gid] != big[gid] {
			t.Errorf("node %d: %d events with bounded sections, %d unbounded", gid, small[gid], big[gid])
		}
	}
}

func TestGatherRepeatedSlices(t *testing.T) {
	w := newTestWorld(t, 2, 1, 4, nil)
	w.connectAll(t, 0, 1, "static", 1, 4)
	w.handshake(t)
	for slice := 0; slice < 3; slice++ {
		w.mgrs[0].RecordSpike(0, slice)
		w.gather(t, float32(slice)*0.4)
	}
	evs := w.nodes[1].events
	if len(evs) != 3 {
		t.Fatalf("node 1 received %d events over 3 slices, want 3", len(evs))
	}
	for slice, ev := range evs {
		if ev.Lag != slice {
			t.Errorf("slice %d delivered lag %d", slice, ev.Lag)
		}
	}
}

func TestSTDPPotentiatesOverSlices(t *testing.T) {
	w := newTestWorld(t, 1, 1, 2, func(ctx *RunContext) {
		ctx.KeepSourceTable = true
	})
	w.connectAll(t, 0, 1, "stdp", 1, 4)
	w.handshake(t)

	weight := func() float32 {
		cs, err := w.mgrs[0].Connections(0, 1, -1)
		if err != nil || len(cs) != 1 {
			t.Fatalf("connections: %v %v", cs, err)
		}
		return cs[0].Weight
	}
	w0 := weight()
	var last float32
	for slice := 0; slice < 4; slice++ {
		w.mgrs[0].RecordSpike(0, 0)
		w.gather(t, float32(slice)*0.4)
		wNow := weight()
		if slice > 0 && wNow <= last {
			t.Fatalf("slice %d: weight %v did not potentiate past %v", slice, wNow, last)
		}
		last = wNow
	}
	if last <= w0 {
		t.Fatalf("weight %v never moved from %v", last, w0)
	}
	evs := w.nodes[1].events
	for i := 1; i < len(evs); i++ {
		if evs[i].Weight <= evs[i-1].Weight {
			t.Errorf("delivered weights not increasing: %v then %v", evs[i-1].Weight, evs[i].Weight)
		}
	}
}

func TestGatherBeforeHandshakePanics(t *testing.T) {
	w := newTestWorld(t, 1, 1, 2, nil)
	w.connectAll(t, 0, 1, "static", 1, 4)
	comm := exchange.NewLocalGroup(1).Comms()[0]
	defer func() {
		if recover() == nil {
			t.Fatal("spike exchange before the handshake must panic")
		}
	}()
	w.mgrs[0].GatherSpikes(comm, 0)
}
