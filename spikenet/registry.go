// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import "fmt"

// SpikeEvent is what a connection hands its target node once a spike
// becomes due. Weight and Delay come from the connection state at
// delivery time.
type SpikeEvent struct {
	SourceGID uint64
	Weight    float32
	Delay     int     // steps
	Lag       int     // slot within the current slice
	Time      float32 // spike time in ms, slice origin plus lag
}

// Node is the behavioral surface the routing core needs from a model
// neuron: accept a due spike. All model dynamics live outside this
// package.
type Node interface {
	HandleSpike(ev *SpikeEvent)
}

// NodeRegistry maps between global node IDs and their (rank, thread,
// local ID) placement, and resolves local nodes for delivery. The
// mapping must be identical on every rank.
type NodeRegistry interface {
	// NumNodes is the total node count across all ranks.
	NumNodes() int
	// RankOf, ThreadOf and LocalID decompose a global ID.
	RankOf(gid uint64) int
	ThreadOf(gid uint64) int
	LocalID(gid uint64) int
	// IsLocal reports whether gid is hosted on this rank.
	IsLocal(gid uint64) bool
	// GIDAt recomposes a global ID from a placement.
	GIDAt(rank, tid, lid int) uint64
	// Node returns the local node at (tid, lid), or nil when the
	// slot is empty on this rank.
	Node(tid, lid int) Node
	// MaxLocalNodes is an upper bound on lid+1 across the local
	// threads, used to size per-node flag arrays.
	MaxLocalNodes() int
}

// ModuloRegistry distributes nodes round-robin over virtual processes:
// gid n lives on vp = n mod (ranks*threads), with rank = vp mod ranks
// and thread = vp div ranks. Every rank holds the same arithmetic, so
// no placement table needs to be exchanged.
type ModuloRegistry struct {
	rank    int
	ranks   int
	threads int
	total   int
	nodes   [][]Node // [tid][lid], local nodes only
}

// NewModuloRegistry creates the placement arithmetic for this rank of
// a world with total nodes overall. Local nodes are attached
// afterwards with SetNode.
func NewModuloRegistry(rank, ranks, threads, total int) *ModuloRegistry {
	if ranks < 1 || threads < 1 {
		panic("spikenet: registry needs at least one rank and one thread")
	}
	if rank < 0 || rank >= ranks {
		panic(fmt.Sprintf("spikenet: registry rank %d out of range [0,%d)", rank, ranks))
	}
	r := &ModuloRegistry{rank: rank, ranks: ranks, threads: threads, total: total}
	r.nodes = make([][]Node, threads)
	return r
}

func (r *ModuloRegistry) vps() int { return r.ranks * r.threads }

func (r *ModuloRegistry) NumNodes() int { return r.total }

func (r *ModuloRegistry) RankOf(gid uint64) int {
	return int(gid % uint64(r.vps()) % uint64(r.ranks))
}

func (r *ModuloRegistry) ThreadOf(gid uint64) int {
	return int(gid % uint64(r.vps()) / uint64(r.ranks))
}

func (r *ModuloRegistry) LocalID(gid uint64) int {
	return int(gid / uint64(r.vps()))
}

func (r *ModuloRegistry) IsLocal(gid uint64) bool {
	return r.RankOf(gid) == r.rank
}

func (r *ModuloRegistry) GIDAt(rank, tid, lid int) uint64 {
	vp := uint64(tid)*uint64(r.ranks) + uint64(rank)
	return uint64(lid)*uint64(r.vps()) + vp
}

func (r *ModuloRegistry) Node(tid, lid int) Node {
	tn := r.nodes[tid]
	if lid < 0 || lid >= len(tn) {
		return nil
	}
	return tn[lid]
}

func (r *ModuloRegistry) MaxLocalNodes() int {
	mx := 0
	for _, tn := range r.nodes {
		if len(tn) > mx {
			mx = len(tn)
		}
	}
	return mx
}

// SetNode attaches the local node hosting gid. Panics when gid is not
// local to this rank.
func (r *ModuloRegistry) SetNode(gid uint64, n Node) {
	if !r.IsLocal(gid) {
		panic(fmt.Sprintf("spikenet: gid %d is not local to rank %d", gid, r.rank))
	}
	tid := r.ThreadOf(gid)
	lid := r.LocalID(gid)
	for len(r.nodes[tid]) <= lid {
		r.nodes[tid] = append(r.nodes[tid], nil)
	}
	r.nodes[tid][lid] = n
}
