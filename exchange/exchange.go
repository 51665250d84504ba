// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package exchange is the collective communication boundary of the
// routing core. The core only ever needs two operations: a fixed-size
// all-to-all exchange of 64-bit word sections, and a max-reduction used
// to agree on buffer sizing before a handshake begins.
//
// Comm is an interface so the boundary can be swapped without touching
// the routing logic: LocalGroup runs any number of ranks inside one
// process (used by tests and single-machine runs), and MPIComm maps the
// same contract onto MPI.
package exchange

// Comm is one rank's endpoint into the collective layer. All methods
// are blocking and collective: every rank in the group must call them
// in the same order. Failures are fatal for the run; there are no
// partial-failure semantics at this layer.
type Comm interface {
	// Rank returns this process' rank in [0, NumRanks).
	Rank() int

	// NumRanks returns the number of ranks in the group.
	NumRanks() int

	// AllToAll exchanges fixed-size sections of 64-bit words.
	// send and recv must both hold NumRanks()*section words.
	// Section r of send is delivered to rank r; on return, section r
	// of recv holds the section rank r addressed to this rank.
	AllToAll(send, recv []uint64, section int) error

	// AllReduceMaxInt returns the maximum of v over all ranks.
	AllReduceMaxInt(v int) (int, error)
}
