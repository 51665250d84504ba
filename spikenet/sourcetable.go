// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// SourceTable records, per local connection, the global ID of its
// source node, aligned with the connection forest: entry
// (tid, synIndex, lcid) describes the connection at the same address.
// During the handshake every worker thread scans the whole table in
// decreasing position order through its own resumable cursor, emitting
// one TargetData per entry whose source lives on a rank assigned to
// that worker.
//
// Scan cursors mark entries processed through atomic word accesses:
// each entry is claimed by exactly one worker (the one owning its
// destination rank), so writes never collide, but other workers read
// the same words while skipping.
type SourceTable struct {
	ctx *RunContext

	sources [][][]Source // [tid][synIndex][lcid]
	synIDs  [][]int      // [tid][synIndex] -> model ID

	// MarkSubsequent records on the connection store whether entry
	// lcid shares its source with lcid-1, so delivery can walk a
	// whole same-source run from one announced chain start. Wired
	// by the ConnectionManager.
	MarkSubsequent func(tid, synIndex, lcid int, on bool)

	// per-worker scan state
	current []SourcePos
	saved   []SourcePos

	// entry counts snapshot, valid for the duration of a scan;
	// refreshed by RestoreEntryPoint
	sizeCache [][]int

	cleared bool
}

func NewSourceTable(ctx *RunContext) *SourceTable {
	st := &SourceTable{ctx: ctx}
	nt := ctx.NumThreads
	st.sources = make([][][]Source, nt)
	st.synIDs = make([][]int, nt)
	st.current = make([]SourcePos, nt)
	st.saved = make([]SourcePos, nt)
	for t := 0; t < nt; t++ {
		st.current[t] = invalidSourcePos()
		st.saved[t] = invalidSourcePos()
	}
	return st
}

// Reserve ensures thread tid has a source slice for synapse model
// synID and returns its synapse type index, growing capacity to hold
// count entries. Idempotent; the index is append-order, matching the
// thread's HetConnector children.
func (st *SourceTable) Reserve(tid, synID, count int) int {
	for si, id := range st.synIDs[tid] {
		if id == synID {
			if count > cap(st.sources[tid][si]) {
				grown := make([]Source, len(st.sources[tid][si]), count)
				copy(grown, st.sources[tid][si])
				st.sources[tid][si] = grown
			}
			return si
		}
	}
	if len(st.synIDs[tid]) >= MaxSynTypes {
		panic(fmt.Sprintf("spikenet: more than %d synapse types on thread %d", MaxSynTypes, tid))
	}
	st.synIDs[tid] = append(st.synIDs[tid], synID)
	st.sources[tid] = append(st.sources[tid], make([]Source, 0, count))
	return len(st.synIDs[tid]) - 1
}

// AddSource appends a source entry for a new connection and returns
// its lcid.
func (st *SourceTable) AddSource(tid, synIndex int, src Source) int {
	st.cleared = false
	st.sources[tid][synIndex] = append(st.sources[tid][synIndex], src)
	return len(st.sources[tid][synIndex]) - 1
}

// Source returns the entry at an address.
func (st *SourceTable) Source(tid, synIndex, lcid int) Source {
	return st.sources[tid][synIndex][lcid]
}

// DisableSource marks an entry disabled; the scan and Clean treat it
// as gone.
func (st *SourceTable) DisableSource(tid, synIndex, lcid int) {
	st.sources[tid][synIndex][lcid].Disable()
}

// FindSource returns the lcid of the first non-disabled entry for gid
// in (tid, synIndex), or -1.
func (st *SourceTable) FindSource(tid, synIndex int, gid uint64) int {
	for lcid, s := range st.sources[tid][synIndex] {
		if s.GID() == gid && !s.IsDisabled() {
			return lcid
		}
	}
	return -1
}

// NumSynTypes is the number of reserved synapse slices on tid.
func (st *SourceTable) NumSynTypes(tid int) int { return len(st.synIDs[tid]) }

// SynID returns the model ID behind synapse type index si on tid.
func (st *SourceTable) SynID(tid, si int) int { return st.synIDs[tid][si] }

// Entries counts the entries on thread tid.
func (st *SourceTable) Entries(tid int) int {
	n := 0
	for _, s := range st.sources[tid] {
		n += len(s)
	}
	return n
}

// MaxEntries returns the largest per-thread entry count, the number
// that bounds how many handshake rounds this rank needs.
func (st *SourceTable) MaxEntries() int {
	mx := 0
	for t := range st.sources {
		if n := st.Entries(t); n > mx {
			mx = n
		}
	}
	return mx
}

// MemBytes is the heap footprint of the table.
func (st *SourceTable) MemBytes() uintptr {
	var n uintptr
	for _, ts := range st.sources {
		for _, s := range ts {
			n += uintptr(cap(s)) * unsafe.Sizeof(Source(0))
		}
	}
	return n
}

func (st *SourceTable) sizes() [][]int {
	sz := make([][]int, len(st.sources))
	for t, ts := range st.sources {
		sz[t] = make([]int, len(ts))
		for si, s := range ts {
			sz[t][si] = len(s)
		}
	}
	return sz
}

// maximalPosition is the position of the table's last entry, where
// the descending scan starts, or invalid for an empty table.
func (st *SourceTable) maximalPosition() SourcePos {
	for t := len(st.sources) - 1; t >= 0; t-- {
		for si := len(st.sources[t]) - 1; si >= 0; si-- {
			if n := len(st.sources[t][si]); n > 0 {
				return SourcePos{Tid: t, SynIndex: si, Lcid: n - 1}
			}
		}
	}
	return invalidSourcePos()
}

// ResetEntryPoint rewinds worker tid's saved cursor to the last entry
// of the table, the start of a fresh scan.
func (st *SourceTable) ResetEntryPoint(tid int) {
	st.saved[tid] = st.maximalPosition()
}

// PrepareScan snapshots the entry counts the scan cursors navigate
// by. Call single-threaded before starting workers and again after
// any Clean; the snapshot keeps the workers off the live slice
// headers.
func (st *SourceTable) PrepareScan() {
	st.sizeCache = st.sizes()
}

// SaveEntryPoint checkpoints worker tid's cursor; the next
// RestoreEntryPoint resumes from here.
func (st *SourceTable) SaveEntryPoint(tid int) {
	st.current[tid].normalize(st.sizeCache)
	st.saved[tid] = st.current[tid]
}

// RestoreEntryPoint rewinds worker tid's cursor to its checkpoint.
func (st *SourceTable) RestoreEntryPoint(tid int) {
	st.current[tid] = st.saved[tid]
}

func loadSource(p *Source) Source {
	return Source(atomic.LoadUint64((*uint64)(unsafe.Pointer(p))))
}

func storeSource(p *Source, v Source) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(p)), uint64(v))
}

// NextTargetData advances worker tid's cursor and returns the next
// handshake record whose destination rank falls in
// [rankStart, rankEnd), plus that rank. Entries are visited in
// descending position order; each is marked processed and has its
// same-source-as-predecessor flag recorded on the connection store.
// Only one record is emitted per run of same-source entries, at the
// lowest live position, since delivery walks the whole run from its
// announced start. Returns ok=false when the worker's scan is
// exhausted.
func (st *SourceTable) NextTargetData(tid, rankStart, rankEnd int) (td TargetData, destRank int, ok bool) {
	pos := &st.current[tid]
	for {
		pos.normalize(st.sizeCache)
		if pos.IsInvalid() {
			return td, 0, false
		}
		slice := st.sources[pos.Tid][pos.SynIndex]
		sp := &slice[pos.Lcid]
		src := loadSource(sp)
		if src.IsProcessed() {
			pos.Lcid--
			continue
		}
		gid := src.GID()
		rank := st.ctx.Nodes.RankOf(gid)
		if rank < rankStart || rank >= rankEnd {
			pos.Lcid--
			continue
		}
		sub := pos.Lcid > 0 && loadSource(&slice[pos.Lcid-1]).GID() == gid
		if st.MarkSubsequent != nil {
			st.MarkSubsequent(pos.Tid, pos.SynIndex, pos.Lcid, sub)
		}
		if src.IsDisabled() {
			pos.Lcid--
			continue
		}
		src.SetProcessed(true)
		storeSource(sp, src)
		// suppress unless this is the lowest live entry of its
		// same-source run; the announced chain start covers the
		// rest
		suppressed := false
		for j := pos.Lcid - 1; j >= 0; j-- {
			e := loadSource(&slice[j])
			if e.GID() != gid {
				break
			}
			if !e.IsDisabled() {
				suppressed = true
				break
			}
		}
		if suppressed {
			pos.Lcid--
			continue
		}
		td = NewTargetData(
			st.ctx.Nodes.LocalID(gid),
			st.ctx.Nodes.ThreadOf(gid),
			src.IsPrimary(),
			NewTarget(st.ctx.Rank, pos.Tid, pos.SynIndex, pos.Lcid),
		)
		pos.Lcid--
		return td, rank, true
	}
}

// RejectLastTargetData undoes the last NextTargetData on worker tid:
// the cursor steps back onto the entry and its processed bit is
// cleared, so the next call re-emits the identical record. Must only
// follow a successful NextTargetData.
func (st *SourceTable) RejectLastTargetData(tid int) {
	pos := &st.current[tid]
	pos.Lcid++
	sp := &st.sources[pos.Tid][pos.SynIndex][pos.Lcid]
	src := loadSource(sp)
	src.SetProcessed(false)
	storeSource(sp, src)
}

// ResetProcessedFlags clears the processed bits on thread tid's
// entries. Runs between handshakes, never concurrently with a scan.
func (st *SourceTable) ResetProcessedFlags(tid int) {
	for si := range st.sources[tid] {
		for i := range st.sources[tid][si] {
			st.sources[tid][si][i].SetProcessed(false)
		}
	}
}

// FindMaximalPosition returns the scan watermark: the largest saved
// cursor position across workers. Every entry strictly greater has
// been visited by all workers.
func (st *SourceTable) FindMaximalPosition() SourcePos {
	mx := invalidSourcePos()
	for t := range st.saved {
		if mx.Less(st.saved[t]) {
			mx = st.saved[t]
		}
	}
	return mx
}

// Clean reclaims memory on thread tid in the already-visited region
// strictly above the watermark: disabled entries are dropped always,
// live ones too unless the table is being kept for inspection.
// Entries at or below the watermark are never touched, so resumed
// scans see an unchanged table. Backing arrays are reallocated only
// when the erased count reaches the configured threshold, keeping
// small erasures churn-free.
func (st *SourceTable) Clean(tid int) {
	wm := st.FindMaximalPosition()
	erased := 0
	for si := len(st.sources[tid]) - 1; si >= 0; si-- {
		s := st.sources[tid][si]
		// first index strictly above the watermark in this slice
		from := 0
		if tid < wm.Tid || (tid == wm.Tid && si < wm.SynIndex) {
			continue // entirely at or below
		}
		if tid == wm.Tid && si == wm.SynIndex {
			from = wm.Lcid + 1
		}
		if from >= len(s) {
			continue
		}
		if !st.ctx.KeepSourceTable {
			erased += len(s) - from
			st.sources[tid][si] = s[:from]
			continue
		}
		kept := s[:from]
		for _, e := range s[from:] {
			if !e.IsDisabled() {
				kept = append(kept, e)
			}
		}
		erased += len(s) - len(kept)
		st.sources[tid][si] = kept
	}
	if erased >= st.ctx.MinCompactionErase && erased > 0 {
		for si, s := range st.sources[tid] {
			if len(s) < cap(s) {
				st.sources[tid][si] = append([]Source(nil), s...)
			}
		}
	}
}

// Clear drops the whole table. Called after the handshake when the
// table is not being kept.
func (st *SourceTable) Clear() {
	for t := range st.sources {
		for si := range st.sources[t] {
			st.sources[t][si] = nil
		}
	}
	st.cleared = true
}

// IsCleared reports whether Clear ran since the last connection was
// added.
func (st *SourceTable) IsCleared() bool { return st.cleared }
