// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package exchange

import (
	"fmt"

	"github.com/emer/empi/v2/mpi"
)

// MPIComm maps the Comm contract onto MPI through the empi wrappers.
// Build with the empi "mpi" build tag and run under mpirun to get real
// multi-process exchange; without the tag empi degrades to a
// single-process no-op world, which still satisfies the contract for
// one rank.
//
// The all-to-all is realized as pairwise typed send/recv over the world
// communicator, one peer offset at a time, with a parity ordering that
// breaks the send-first cycle.
type MPIComm struct {
	comm *mpi.Comm
	tag  int
}

// NewMPIComm initializes MPI (if needed) and returns the endpoint for
// this process' world rank. Call mpi.Finalize at process exit.
func NewMPIComm() (*MPIComm, error) {
	mpi.Init()
	comm, err := mpi.NewComm(nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: mpi init: %w", err)
	}
	return &MPIComm{comm: comm, tag: 137}, nil
}

func (c *MPIComm) Rank() int     { return mpi.WorldRank() }
func (c *MPIComm) NumRanks() int { return mpi.WorldSize() }

func (c *MPIComm) AllToAll(send, recv []uint64, section int) error {
	n := c.NumRanks()
	rank := c.Rank()
	if len(send) != n*section || len(recv) != n*section {
		return fmt.Errorf("exchange: all-to-all buffers must hold %d words, got send=%d recv=%d",
			n*section, len(send), len(recv))
	}

	// self-section is a local copy
	copy(recv[rank*section:(rank+1)*section], send[rank*section:(rank+1)*section])

	for offset := 1; offset < n; offset++ {
		to := (rank + offset) % n
		from := (rank - offset + n) % n
		out := send[to*section : (to+1)*section]
		in := recv[from*section : (from+1)*section]
		if rank%2 == 0 {
			if err := c.comm.SendU64(to, c.tag, out); err != nil {
				return fmt.Errorf("exchange: send to rank %d: %w", to, err)
			}
			if err := c.comm.RecvU64(from, c.tag, in); err != nil {
				return fmt.Errorf("exchange: recv from rank %d: %w", from, err)
			}
		} else {
			if err := c.comm.RecvU64(from, c.tag, in); err != nil {
				return fmt.Errorf("exchange: recv from rank %d: %w", from, err)
			}
			if err := c.comm.SendU64(to, c.tag, out); err != nil {
				return fmt.Errorf("exchange: send to rank %d: %w", to, err)
			}
		}
	}
	return nil
}

func (c *MPIComm) AllReduceMaxInt(v int) (int, error) {
	orig := []int{v}
	dest := []int{0}
	if err := c.comm.AllReduceInt(mpi.OpMax, dest, orig); err != nil {
		return 0, fmt.Errorf("exchange: allreduce max: %w", err)
	}
	return dest[0], nil
}
