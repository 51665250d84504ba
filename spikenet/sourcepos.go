// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import "fmt"

// SourcePos is a resumable cursor into the three-level source table:
// (thread, synapse type index, local connection index). The handshake
// scan walks it in strictly decreasing order, so "greater" positions
// are always visited before "smaller" ones.
type SourcePos struct {
	Tid      int // thread, or -1 when exhausted
	SynIndex int
	Lcid     int
}

// invalidSourcePos sits below every real position; a cursor wound back
// to it has finished its scan.
func invalidSourcePos() SourcePos {
	return SourcePos{Tid: -1, SynIndex: -1, Lcid: -1}
}

// IsInvalid reports whether the cursor has scanned past the start of
// the table.
func (p SourcePos) IsInvalid() bool { return p.Tid < 0 }

// Less orders positions lexicographically by (Tid, SynIndex, Lcid).
func (p SourcePos) Less(q SourcePos) bool {
	if p.Tid != q.Tid {
		return p.Tid < q.Tid
	}
	if p.SynIndex != q.SynIndex {
		return p.SynIndex < q.SynIndex
	}
	return p.Lcid < q.Lcid
}

// normalize resolves a cursor whose Lcid was stepped below zero onto
// the previous real entry, wrapping across synapse types and threads.
// sizes[tid][si] is the number of entries for synapse type si on
// thread tid. A cursor that wraps past (0,0,0) becomes invalid, the
// normal end of a scan.
func (p *SourcePos) normalize(sizes [][]int) {
	if p.IsInvalid() {
		return
	}
	for p.Lcid < 0 {
		p.SynIndex--
		for p.SynIndex < 0 {
			p.Tid--
			if p.Tid < 0 {
				*p = invalidSourcePos()
				return
			}
			p.SynIndex = len(sizes[p.Tid]) - 1
		}
		p.Lcid = sizes[p.Tid][p.SynIndex] - 1
	}
}

func (p SourcePos) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.Tid, p.SynIndex, p.Lcid)
}
