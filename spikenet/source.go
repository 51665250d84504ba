// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import "fmt"

// Bit widths of the packed wire records. All records are single 64-bit
// words (TargetData is two) so the exchange buffers are flat []uint64.
const (
	TidBits    = 10 // thread index
	RankBits   = 20 // rank index
	SynBits    = 6  // synapse type index within a heterogeneous connector
	LcidBits   = 25 // local connection index within one connector
	LagBits    = 6  // delivery slot within one slice
	MarkerBits = 2  // out-of-band exchange marker

	MaxThreads = 1 << TidBits
	MaxRanks   = 1 << RankBits
	MaxSynTypes = 1 << SynBits
	MaxConnsPerType = 1 << LcidBits
	MaxLag     = 1 << LagBits
)

// Source is one entry of the source table: the global ID of the
// sending node for one local connection, plus the bookkeeping bits the
// handshake scan needs. The zero value is an invalid (gid 0, primary)
// entry; connections are only appended through SourceTable.AddSource.
type Source uint64

const (
	sourceGidBits  = 61
	sourceGidMask  = (uint64(1) << sourceGidBits) - 1
	sourcePrimary  = uint64(1) << 61
	sourceProc     = uint64(1) << 62
	sourceDisabled = uint64(1) << 63
)

// MaxGID is the largest representable global node ID.
const MaxGID = sourceGidMask

// NewSource packs a source entry for the given global node ID.
// Primary marks entries whose events travel on the spike exchange;
// secondary event streams keep their own buffers.
func NewSource(gid uint64, primary bool) Source {
	if gid > MaxGID {
		panic(fmt.Sprintf("spikenet: source gid %d exceeds %d bits", gid, sourceGidBits))
	}
	s := Source(gid)
	if primary {
		s |= Source(sourcePrimary)
	}
	return s
}

func (s Source) GID() uint64 { return uint64(s) & sourceGidMask }

func (s Source) IsPrimary() bool  { return uint64(s)&sourcePrimary != 0 }
func (s Source) IsProcessed() bool { return uint64(s)&sourceProc != 0 }
func (s Source) IsDisabled() bool { return uint64(s)&sourceDisabled != 0 }

func (s *Source) SetProcessed(on bool) {
	if on {
		*s |= Source(sourceProc)
	} else {
		*s &^= Source(sourceProc)
	}
}

// Disable marks the entry as disabled; disabled entries are skipped by
// the handshake scan and reclaimed by Clean.
func (s *Source) Disable() { *s |= Source(sourceDisabled) }

func (s Source) String() string {
	return fmt.Sprintf("Source(gid=%d primary=%v processed=%v disabled=%v)",
		s.GID(), s.IsPrimary(), s.IsProcessed(), s.IsDisabled())
}
