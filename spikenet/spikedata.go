// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import "fmt"

// Marker is the 2-bit out-of-band state carried in the top bits of
// every exchanged word. Buffer sections use it to signal per-rank
// progress without a second message.
type Marker uint64

const (
	// MarkerValid tags a word holding real payload.
	MarkerValid Marker = 0
	// MarkerEnd tags the first unused slot of a section: reading
	// stops here, but the sender has more data for later rounds.
	MarkerEnd Marker = 1
	// MarkerComplete is MarkerEnd plus the promise that the sender
	// has nothing left for any destination.
	MarkerComplete Marker = 2
	// MarkerInvalid tags a word that was never written.
	MarkerInvalid Marker = 3
)

const (
	markerShift = 64 - MarkerBits
	markerMask  = uint64(3) << markerShift
)

func (m Marker) String() string {
	switch m {
	case MarkerValid:
		return "valid"
	case MarkerEnd:
		return "end"
	case MarkerComplete:
		return "complete"
	default:
		return "invalid"
	}
}

// SpikeData addresses one target connection for spike delivery: the
// word a sender puts on the wire per (spiking node, remote target).
//
// Layout: lcid[0:25) syn[25:31) tid[31:41) lag[41:47) marker[62:64).
type SpikeData uint64

const (
	spikeLcidShift = 0
	spikeSynShift  = LcidBits
	spikeTidShift  = LcidBits + SynBits
	spikeLagShift  = LcidBits + SynBits + TidBits

	spikeLcidMask = uint64(MaxConnsPerType-1) << spikeLcidShift
	spikeSynMask  = uint64(MaxSynTypes-1) << spikeSynShift
	spikeTidMask  = uint64(MaxThreads-1) << spikeTidShift
	spikeLagMask  = uint64(MaxLag-1) << spikeLagShift
)

var _ [markerShift - (LcidBits + SynBits + TidBits + LagBits)]struct{}

// NewSpikeData packs a delivery address with MarkerValid. Lag is the
// slot within the current slice at which the spike becomes due.
func NewSpikeData(tid, synIndex, lcid, lag int) SpikeData {
	if tid < 0 || tid >= MaxThreads {
		panic(fmt.Sprintf("spikenet: spike thread %d out of range", tid))
	}
	if synIndex < 0 || synIndex >= MaxSynTypes {
		panic(fmt.Sprintf("spikenet: spike syn index %d out of range", synIndex))
	}
	if lcid < 0 || lcid >= MaxConnsPerType {
		panic(fmt.Sprintf("spikenet: spike lcid %d out of range", lcid))
	}
	if lag < 0 || lag >= MaxLag {
		panic(fmt.Sprintf("spikenet: spike lag %d out of range", lag))
	}
	return SpikeData(uint64(lcid)<<spikeLcidShift |
		uint64(synIndex)<<spikeSynShift |
		uint64(tid)<<spikeTidShift |
		uint64(lag)<<spikeLagShift)
}

// SpikeMarker returns a payload-free word carrying only the marker.
func SpikeMarker(m Marker) SpikeData {
	return SpikeData(uint64(m) << markerShift)
}

func (d SpikeData) Tid() int      { return int((uint64(d) & spikeTidMask) >> spikeTidShift) }
func (d SpikeData) SynIndex() int { return int((uint64(d) & spikeSynMask) >> spikeSynShift) }
func (d SpikeData) Lcid() int     { return int((uint64(d) & spikeLcidMask) >> spikeLcidShift) }
func (d SpikeData) Lag() int      { return int((uint64(d) & spikeLagMask) >> spikeLagShift) }

func (d SpikeData) Marker() Marker { return Marker(uint64(d) >> markerShift) }

func (d *SpikeData) SetMarker(m Marker) {
	*d = SpikeData(uint64(*d)&^markerMask | uint64(m)<<markerShift)
}

func (d SpikeData) String() string {
	return fmt.Sprintf("SpikeData(tid=%d syn=%d lcid=%d lag=%d marker=%s)",
		d.Tid(), d.SynIndex(), d.Lcid(), d.Lag(), d.Marker())
}

// TargetData is the two-word handshake record: who the source is on
// the sending rank, and where the connection lives on the target rank.
// Word 0 carries sourceLid[0:32) sourceTid[32:42) primary=bit 42 and
// the marker; word 1 carries the Target bits with the processed flag
// cleared.
type TargetData [2]uint64

const (
	tdataLidBits  = 32
	tdataLidMask  = (uint64(1) << tdataLidBits) - 1
	tdataTidShift = tdataLidBits
	tdataTidMask  = uint64(MaxThreads-1) << tdataTidShift
	tdataPrimary  = uint64(1) << (tdataLidBits + TidBits)
)

// NewTargetData packs a handshake record with MarkerValid. The source
// address is local to the sending rank; tgt carries the receiving
// rank's address of the connection.
func NewTargetData(sourceLid, sourceTid int, primary bool, tgt Target) TargetData {
	if sourceLid < 0 || uint64(sourceLid) > tdataLidMask {
		panic(fmt.Sprintf("spikenet: target-data source lid %d out of range", sourceLid))
	}
	if sourceTid < 0 || sourceTid >= MaxThreads {
		panic(fmt.Sprintf("spikenet: target-data source thread %d out of range", sourceTid))
	}
	w0 := uint64(sourceLid) | uint64(sourceTid)<<tdataTidShift
	if primary {
		w0 |= tdataPrimary
	}
	var td TargetData
	td[0] = w0
	td[1] = uint64(tgt) &^ targetProc
	return td
}

// TargetDataMarker returns a payload-free record carrying only the
// marker in word 0.
func TargetDataMarker(m Marker) TargetData {
	var td TargetData
	td[0] = uint64(m) << markerShift
	return td
}

func (td TargetData) SourceLid() int  { return int(td[0] & tdataLidMask) }
func (td TargetData) SourceTid() int  { return int((td[0] & tdataTidMask) >> tdataTidShift) }
func (td TargetData) IsPrimary() bool { return td[0]&tdataPrimary != 0 }
func (td TargetData) Target() Target  { return Target(td[1]) }

func (td TargetData) Marker() Marker { return Marker(td[0] >> markerShift) }

func (td *TargetData) SetMarker(m Marker) {
	td[0] = td[0]&^markerMask | uint64(m)<<markerShift
}

func (td TargetData) String() string {
	return fmt.Sprintf("TargetData(srcLid=%d srcTid=%d primary=%v marker=%s tgt=%s)",
		td.SourceLid(), td.SourceTid(), td.IsPrimary(), td.Marker(), td.Target())
}
