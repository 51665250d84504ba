// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"fmt"
	"unsafe"
)

// ConnBase is the behavior the routing core needs from a homogeneous
// connector, independent of its concrete connection type. Connections
// are addressed by lcid, their index within the connector; entries
// from the same source node are contiguous and chained through the
// source-subsequent flag.
type ConnBase interface {
	// SynID is the registered synapse model ID.
	SynID() int
	// Len is the number of connections, valid lcids are [0, Len).
	Len() int
	// Add appends a connection and returns its lcid.
	Add(targetLid int, weight float32, delay int) int

	// Send delivers the chain starting at lcid: the addressed
	// connection and every subsequent one flagged as sharing its
	// source. Disabled entries are skipped. Returns the number of
	// spikes delivered.
	Send(tid, lcid int, ev *SpikeEvent, nodes NodeRegistry) int

	// SetSourceSubsequent flags lcid as having the same source as
	// lcid-1, so a chain entered above it keeps going.
	SetSourceSubsequent(lcid int, on bool)
	SourceSubsequent(lcid int) bool

	// Disable removes lcid from delivery without moving entries.
	Disable(lcid int)
	IsDisabled(lcid int) bool

	Weight(lcid int) float32
	SetWeight(lcid int, w float32)
	Delay(lcid int) int
	TargetLid(lcid int) int

	// Permute reorders connections so position i holds the entry
	// previously at perm[i]. Flags move with their entries; the
	// caller recomputes subsequent flags afterwards.
	Permute(perm []int)

	// TriggerWeightUpdate forwards a modulatory event batch to all
	// connections when this connector's model references the given
	// volume transmitter; no-op otherwise.
	TriggerWeightUpdate(vtGID uint64, events []SpikeEvent)

	// MemBytes is the heap footprint of the connection storage.
	MemBytes() uintptr
}

const (
	connFlagDisabled   = 1 << 0
	connFlagSubsequent = 1 << 1
)

// Connector stores connections of one synapse model contiguously by
// value. C is the concrete connection struct; PC constrains its
// pointer to implement Connection.
type Connector[C any, PC interface {
	*C
	Connection
}] struct {
	synID int
	props *CommonProps
	conns []C
	flags []uint8

	// time of the previous spike sent through this connector, for
	// models integrating over inter-spike intervals
	tLastSpike float32
}

// NewConnector creates an empty connector for the given model.
func NewConnector[C any, PC interface {
	*C
	Connection
}](synID int, props *CommonProps) *Connector[C, PC] {
	if props == nil {
		props = &CommonProps{}
	}
	return &Connector[C, PC]{synID: synID, props: props}
}

func (cn *Connector[C, PC]) SynID() int { return cn.synID }
func (cn *Connector[C, PC]) Len() int   { return len(cn.conns) }

func (cn *Connector[C, PC]) Add(targetLid int, weight float32, delay int) int {
	var c C
	PC(&c).Build(targetLid, weight, delay)
	cn.conns = append(cn.conns, c)
	cn.flags = append(cn.flags, 0)
	return len(cn.conns) - 1
}

func (cn *Connector[C, PC]) Send(tid, lcid int, ev *SpikeEvent, nodes NodeRegistry) int {
	sent := 0
	last := cn.tLastSpike
	for i := lcid; i < len(cn.conns); i++ {
		if i > lcid && cn.flags[i]&connFlagSubsequent == 0 {
			break
		}
		if cn.flags[i]&connFlagDisabled != 0 {
			continue
		}
		pc := PC(&cn.conns[i])
		tgt := nodes.Node(tid, pc.TargetLid())
		if tgt == nil {
			panic(fmt.Sprintf("spikenet: no node at thread %d lid %d", tid, pc.TargetLid()))
		}
		pc.Send(ev, tgt, cn.props, last)
		sent++
	}
	if sent > 0 {
		cn.tLastSpike = ev.Time
	}
	return sent
}

func (cn *Connector[C, PC]) SetSourceSubsequent(lcid int, on bool) {
	if on {
		cn.flags[lcid] |= connFlagSubsequent
	} else {
		cn.flags[lcid] &^= connFlagSubsequent
	}
}

func (cn *Connector[C, PC]) SourceSubsequent(lcid int) bool {
	return cn.flags[lcid]&connFlagSubsequent != 0
}

func (cn *Connector[C, PC]) Disable(lcid int)         { cn.flags[lcid] |= connFlagDisabled }
func (cn *Connector[C, PC]) IsDisabled(lcid int) bool { return cn.flags[lcid]&connFlagDisabled != 0 }

func (cn *Connector[C, PC]) Weight(lcid int) float32 { return PC(&cn.conns[lcid]).Weight() }
func (cn *Connector[C, PC]) SetWeight(lcid int, w float32) {
	PC(&cn.conns[lcid]).SetWeight(w)
}
func (cn *Connector[C, PC]) Delay(lcid int) int     { return PC(&cn.conns[lcid]).Delay() }
func (cn *Connector[C, PC]) TargetLid(lcid int) int { return PC(&cn.conns[lcid]).TargetLid() }

func (cn *Connector[C, PC]) Permute(perm []int) {
	if len(perm) != len(cn.conns) {
		panic(fmt.Sprintf("spikenet: permutation length %d != %d connections", len(perm), len(cn.conns)))
	}
	nc := make([]C, len(cn.conns))
	nf := make([]uint8, len(cn.flags))
	for i, p := range perm {
		nc[i] = cn.conns[p]
		nf[i] = cn.flags[p]
	}
	cn.conns = nc
	cn.flags = nf
}

func (cn *Connector[C, PC]) TriggerWeightUpdate(vtGID uint64, events []SpikeEvent) {
	if vtGID == 0 || cn.props.VtGID != vtGID {
		return
	}
	for i := range cn.conns {
		if cn.flags[i]&connFlagDisabled != 0 {
			continue
		}
		if mc, ok := any(PC(&cn.conns[i])).(ModulatedConnection); ok {
			mc.TriggerWeightUpdate(events, cn.props)
		}
	}
}

func (cn *Connector[C, PC]) MemBytes() uintptr {
	var c C
	return uintptr(cap(cn.conns))*unsafe.Sizeof(c) + uintptr(cap(cn.flags))
}
