// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import "fmt"

// Target is one entry of the target table: the full address of a
// connection on the rank that hosts it, packed into one word.
//
// Layout (low to high): lcid[0:25) syn[25:31) rank[31:51) tid[51:61)
// processed=bit 61. Bits 62,63 are unused so a Target can be stored in
// the low word of a TargetData without clipping.
type Target uint64

const (
	targetLcidShift = 0
	targetSynShift  = LcidBits
	targetRankShift = LcidBits + SynBits
	targetTidShift  = LcidBits + SynBits + RankBits

	targetLcidMask = uint64(MaxConnsPerType-1) << targetLcidShift
	targetSynMask  = uint64(MaxSynTypes-1) << targetSynShift
	targetRankMask = uint64(MaxRanks-1) << targetRankShift
	targetTidMask  = uint64(MaxThreads-1) << targetTidShift

	targetProc = uint64(1) << (targetTidShift + TidBits)
)

// compile-time check that the packed fields plus the processed bit fit
// below the marker bits
var _ [64 - (LcidBits + SynBits + RankBits + TidBits + 1 + MarkerBits)]struct{}

// NewTarget packs a connection address. The processed bit starts 0.
func NewTarget(rank, tid, synIndex, lcid int) Target {
	if rank < 0 || rank >= MaxRanks {
		panic(fmt.Sprintf("spikenet: target rank %d out of range", rank))
	}
	if tid < 0 || tid >= MaxThreads {
		panic(fmt.Sprintf("spikenet: target thread %d out of range", tid))
	}
	if synIndex < 0 || synIndex >= MaxSynTypes {
		panic(fmt.Sprintf("spikenet: target syn index %d out of range", synIndex))
	}
	if lcid < 0 || lcid >= MaxConnsPerType {
		panic(fmt.Sprintf("spikenet: target lcid %d out of range", lcid))
	}
	return Target(uint64(lcid)<<targetLcidShift |
		uint64(synIndex)<<targetSynShift |
		uint64(rank)<<targetRankShift |
		uint64(tid)<<targetTidShift)
}

func (t Target) Rank() int     { return int((uint64(t) & targetRankMask) >> targetRankShift) }
func (t Target) Tid() int      { return int((uint64(t) & targetTidMask) >> targetTidShift) }
func (t Target) SynIndex() int { return int((uint64(t) & targetSynMask) >> targetSynShift) }
func (t Target) Lcid() int     { return int((uint64(t) & targetLcidMask) >> targetLcidShift) }

// ProcessedBit is the raw processed flag. Whether the target counts as
// processed in the current pass depends on the per-node flag the
// TargetTable keeps; see TargetTable.
func (t Target) ProcessedBit() bool { return uint64(t)&targetProc != 0 }

func (t *Target) SetProcessedBit(on bool) {
	if on {
		*t |= Target(targetProc)
	} else {
		*t &^= Target(targetProc)
	}
}

// FlipProcessedBit toggles the processed flag in place.
func (t *Target) FlipProcessedBit() { *t ^= Target(targetProc) }

func (t Target) String() string {
	return fmt.Sprintf("Target(rank=%d tid=%d syn=%d lcid=%d proc=%v)",
		t.Rank(), t.Tid(), t.SynIndex(), t.Lcid(), t.ProcessedBit())
}
