// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import "fmt"

// HetConnector groups the per-model connectors of one thread's
// connection forest. The synapse type index carried in Target and
// SpikeData words is the child's position here, so a child is never
// removed once added.
type HetConnector struct {
	children []ConnBase
	bySynID  map[int]int // synID -> child index
}

func NewHetConnector() *HetConnector {
	return &HetConnector{bySynID: make(map[int]int)}
}

// AddChild registers a connector for a new synapse model and returns
// its synapse type index. Panics when the model already has a child
// or the index space is exhausted.
func (h *HetConnector) AddChild(c ConnBase) int {
	if _, ok := h.bySynID[c.SynID()]; ok {
		panic(fmt.Sprintf("spikenet: synapse model %d already has a connector", c.SynID()))
	}
	if len(h.children) >= MaxSynTypes {
		panic(fmt.Sprintf("spikenet: more than %d synapse types on one thread", MaxSynTypes))
	}
	h.children = append(h.children, c)
	h.bySynID[c.SynID()] = len(h.children) - 1
	return len(h.children) - 1
}

// ChildFor returns the synapse type index for synID, or -1.
func (h *HetConnector) ChildFor(synID int) int {
	if i, ok := h.bySynID[synID]; ok {
		return i
	}
	return -1
}

// Child returns the connector at synapse type index si.
func (h *HetConnector) Child(si int) ConnBase { return h.children[si] }

// NumChildren is the number of registered synapse types.
func (h *HetConnector) NumChildren() int { return len(h.children) }

// Send dispatches a delivery chain to the addressed child.
func (h *HetConnector) Send(tid, si, lcid int, ev *SpikeEvent, nodes NodeRegistry) int {
	return h.children[si].Send(tid, lcid, ev, nodes)
}

// MemBytes sums the children's connection storage.
func (h *HetConnector) MemBytes() uintptr {
	var n uintptr
	for _, c := range h.children {
		n += c.MemBytes()
	}
	return n
}
