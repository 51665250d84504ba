// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"fmt"
	"unsafe"
)

// spikeRec is one recorded spike: which local node fired and at which
// slot of the slice.
type spikeRec struct {
	lid int32
	lag int32
}

// spikePos is a resumable forward cursor over one thread's spike
// register: spike index, target index within the spiking node's list.
type spikePos struct {
	idx int
	ti  int
}

// TargetTable holds, per local node, the addresses of all connections
// it feeds anywhere in the world, as delivered by the handshake. It
// also keeps the per-slice spike registers and the gather cursors
// that turn recorded spikes into outgoing SpikeData.
//
// Everything is partitioned by the owning thread: thread tid records
// spikes of its own nodes, scans its own register, and marks its own
// nodes' targets, so the gather runs without locks. A target counts
// as processed for the current pass when its raw bit equals the
// node's processed flag; once a spike's targets are fully gathered
// the node flag flips, resetting all its targets at once without
// touching their words.
type TargetTable struct {
	ctx *RunContext

	targets [][][]Target // [tid][lid][]
	flags   [][]bool     // [tid][lid] processed-means-this-bit

	spikes [][]spikeRec // [tid] register, cleared per slice

	// per-thread gather state
	current []spikePos
	saved   []spikePos
	lastPos []spikePos // position of the last emitted target, for reject
}

func NewTargetTable(ctx *RunContext) *TargetTable {
	nt := ctx.NumThreads
	tt := &TargetTable{ctx: ctx}
	tt.targets = make([][][]Target, nt)
	tt.flags = make([][]bool, nt)
	tt.spikes = make([][]spikeRec, nt)
	tt.current = make([]spikePos, nt)
	tt.saved = make([]spikePos, nt)
	tt.lastPos = make([]spikePos, nt)
	return tt
}

func (tt *TargetTable) grow(tid, lid int) {
	for len(tt.targets[tid]) <= lid {
		tt.targets[tid] = append(tt.targets[tid], nil)
		tt.flags[tid] = append(tt.flags[tid], true)
	}
}

// Prepare sizes the node slots up front from the registry, so the
// handshake distribution threads never reallocate the outer arrays.
func (tt *TargetTable) Prepare() {
	n := tt.ctx.Nodes.MaxLocalNodes()
	for t := range tt.targets {
		tt.grow(t, n-1)
	}
}

// AddTarget records that local node (tid, lid) feeds the connection
// at tgt. Thread tid distributes its own nodes' received handshake
// records, tolerating arrival in any order across rounds and ranks.
func (tt *TargetTable) AddTarget(tid, lid int, tgt Target) {
	tt.grow(tid, lid)
	// store with the bit meaning unprocessed for this node
	tgt.SetProcessedBit(!tt.flags[tid][lid])
	tt.targets[tid][lid] = append(tt.targets[tid][lid], tgt)
}

// Targets returns the target list of a local node, for inspection.
func (tt *TargetTable) Targets(tid, lid int) []Target {
	if lid >= len(tt.targets[tid]) {
		return nil
	}
	return tt.targets[tid][lid]
}

// NumTargets counts all targets on thread tid.
func (tt *TargetTable) NumTargets(tid int) int {
	n := 0
	for _, ts := range tt.targets[tid] {
		n += len(ts)
	}
	return n
}

// Clear drops thread tid's target lists, keeping the node slots.
func (tt *TargetTable) Clear(tid int) {
	for lid := range tt.targets[tid] {
		tt.targets[tid][lid] = nil
		tt.flags[tid][lid] = true
	}
}

// MemBytes is the heap footprint of the target lists.
func (tt *TargetTable) MemBytes() uintptr {
	var n uintptr
	for _, tn := range tt.targets {
		for _, ts := range tn {
			n += uintptr(cap(ts)) * unsafe.Sizeof(Target(0))
		}
	}
	return n
}

// RecordSpike enters a spike of local node (tid, lid) at slice slot
// lag into thread tid's register.
func (tt *TargetTable) RecordSpike(tid, lid, lag int) {
	if lag < 0 || lag >= tt.ctx.MinDelay {
		panic(fmt.Sprintf("spikenet: spike lag %d outside slice of %d", lag, tt.ctx.MinDelay))
	}
	tt.grow(tid, lid)
	tt.spikes[tid] = append(tt.spikes[tid], spikeRec{lid: int32(lid), lag: int32(lag)})
}

// SpikeCount is the number of spikes recorded on tid this slice.
func (tt *TargetTable) SpikeCount(tid int) int { return len(tt.spikes[tid]) }

// ResetGather rewinds thread tid's cursor to the start of its
// register for a fresh slice.
func (tt *TargetTable) ResetGather(tid int) {
	tt.current[tid] = spikePos{}
	tt.saved[tid] = spikePos{}
}

// SaveGatherPoint checkpoints thread tid's cursor between rounds.
func (tt *TargetTable) SaveGatherPoint(tid int) { tt.saved[tid] = tt.current[tid] }

// RestoreGatherPoint rewinds thread tid's cursor to its checkpoint.
func (tt *TargetTable) RestoreGatherPoint(tid int) { tt.current[tid] = tt.saved[tid] }

// NextSpikeData advances thread tid's cursor to the next unprocessed
// target of a recorded spike, marks it processed and returns its
// delivery word plus destination rank. When a spike's targets are
// exhausted the node's processed flag flips before the cursor moves
// on, so a node spiking at several slots of one slice emits its full
// target set per spike. Returns ok=false when the register is
// exhausted.
func (tt *TargetTable) NextSpikeData(tid int) (sd SpikeData, destRank int, ok bool) {
	pos := &tt.current[tid]
	reg := tt.spikes[tid]
	for {
		if pos.idx >= len(reg) {
			return sd, 0, false
		}
		rec := reg[pos.idx]
		tlist := tt.targets[tid][rec.lid]
		if pos.ti >= len(tlist) {
			// spike fully gathered; reset its targets in one flip
			tt.flags[tid][rec.lid] = !tt.flags[tid][rec.lid]
			pos.idx++
			pos.ti = 0
			continue
		}
		tgt := tlist[pos.ti]
		if tgt.ProcessedBit() == tt.flags[tid][rec.lid] {
			pos.ti++
			continue
		}
		tlist[pos.ti].SetProcessedBit(tt.flags[tid][rec.lid])
		sd = NewSpikeData(tgt.Tid(), tgt.SynIndex(), tgt.Lcid(), int(rec.lag))
		tt.lastPos[tid] = *pos
		pos.ti++
		return sd, tgt.Rank(), true
	}
}

// RejectLastSpikeData undoes the last NextSpikeData on thread tid:
// the cursor steps back onto the target and its processed mark is
// flipped back, so the next call re-emits the identical word. Must
// only follow a successful NextSpikeData.
func (tt *TargetTable) RejectLastSpikeData(tid int) {
	pos := tt.lastPos[tid]
	rec := tt.spikes[tid][pos.idx]
	tt.targets[tid][rec.lid][pos.ti].SetProcessedBit(!tt.flags[tid][rec.lid])
	tt.current[tid] = pos
}

// FinishSlice clears the registers and rewinds the cursors once all
// threads have gathered the slice. Processed flags were already
// flipped back per spike during the gather.
func (tt *TargetTable) FinishSlice() {
	for t := range tt.spikes {
		tt.spikes[t] = tt.spikes[t][:0]
		tt.current[t] = spikePos{}
		tt.saved[t] = spikePos{}
	}
}
