// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/emsim/spikenet/exchange"
	"github.com/emsim/spikenet/telemetry"
)

// SliceReport summarizes one slice's spike exchange.
type SliceReport struct {
	Rounds    int
	Routed    int // spike records put on the wire
	Delivered int // events handed to local nodes
}

// GatherSpikes exchanges the spikes recorded during the closing slice
// and delivers the incoming ones to their target connections. Every
// rank must call it at each slice boundary, spikes or not, since the
// exchange is collective. sliceOrigin is the simulation time of the
// slice's first step, used to stamp delivered events.
//
// Outgoing buffer sections are subdivided per worker thread, so each
// worker streams its own spike register into its own subsections and
// no slot has two writers. Like the handshake, rounds repeat while any
// rank still holds undelivered spikes, with all-or-none completion
// markers keeping every rank's view of who is done identical.
func (cm *ConnectionManager) GatherSpikes(comm exchange.Comm, sliceOrigin float32) (SliceReport, error) {
	if !cm.handshakeDone {
		panic("spikenet: spike exchange before the handshake completed")
	}
	ctx := cm.ctx
	nt := ctx.NumThreads
	nr := ctx.NumRanks
	sub := ctx.ChunkSizeSpikeData
	sectionWords := sub * nt
	sendBuf := make([]uint64, nr*sectionWords)
	recvBuf := make([]uint64, nr*sectionWords)

	for t := 0; t < nt; t++ {
		cm.tgt.ResetGather(t)
	}

	sendersDone := make([]bool, nr)
	workerDone := make([]bool, nt)
	fillIdx := make([][]int, nt)
	for t := range fillIdx {
		fillIdx[t] = make([]int, nr)
	}
	routed := 0
	delivered := 0
	rounds := 0

	allDone := func() bool {
		for _, d := range sendersDone {
			if !d {
				return false
			}
		}
		return true
	}

	for !allDone() {
		rounds++

		// fill phase: each worker streams its own register
		var wg sync.WaitGroup
		routedPer := make([]int, nt)
		for t := 0; t < nt; t++ {
			wg.Add(1)
			go func(tid int) {
				defer wg.Done()
				cm.tgt.RestoreGatherPoint(tid)
				fi := fillIdx[tid]
				for r := range fi {
					fi[r] = 0
				}
				workerDone[tid] = false
				for {
					sd, rank, ok := cm.tgt.NextSpikeData(tid)
					if !ok {
						workerDone[tid] = true
						break
					}
					if fi[rank] == sub {
						cm.tgt.RejectLastSpikeData(tid)
						break
					}
					sendBuf[rank*sectionWords+tid*sub+fi[rank]] = uint64(sd)
					fi[rank]++
					routedPer[tid]++
				}
				cm.tgt.SaveGatherPoint(tid)
			}(t)
		}
		wg.Wait()
		for _, n := range routedPer {
			routed += n
		}

		// marker pass, all subsections or none announce completion
		selfDone := true
		for _, d := range workerDone {
			selfDone = selfDone && d
		}
		canAnnounce := selfDone
		for t := 0; t < nt; t++ {
			for r := 0; r < nr; r++ {
				if fillIdx[t][r] == sub {
					canAnnounce = false
				}
			}
		}
		marker := MarkerEnd
		if canAnnounce {
			marker = MarkerComplete
		}
		for t := 0; t < nt; t++ {
			for r := 0; r < nr; r++ {
				if n := fillIdx[t][r]; n < sub {
					sendBuf[r*sectionWords+t*sub+n] = uint64(SpikeMarker(marker))
				}
			}
		}

		if err := comm.AllToAll(sendBuf, recvBuf, sectionWords); err != nil {
			return SliceReport{}, fmt.Errorf("spikenet: spike exchange: %w", err)
		}
		telemetry.ExchangeRounds.WithLabelValues("spikes").Inc()
		telemetry.ExchangeWords.WithLabelValues("spikes").Add(float64(len(sendBuf)))

		// delivery phase: each worker takes the records addressed
		// to its own connectors
		deliveredPer := make([]int, nt)
		for t := 0; t < nt; t++ {
			wg.Add(1)
			go func(tid int) {
				defer wg.Done()
				deliveredPer[tid] = cm.deliverReceived(tid, recvBuf, sub, sectionWords, sliceOrigin)
			}(t)
		}
		wg.Wait()
		for _, n := range deliveredPer {
			delivered += n
		}

		// completion scan; a completing rank marks every subsection
		for from := 0; from < nr; from++ {
			for t := 0; t < nt; t++ {
				base := from*sectionWords + t*sub
				for i := 0; i < sub; i++ {
					sd := SpikeData(recvBuf[base+i])
					if m := sd.Marker(); m != MarkerValid {
						if m == MarkerComplete {
							sendersDone[from] = true
						}
						break
					}
				}
			}
		}
	}

	cm.tgt.FinishSlice()
	telemetry.SpikesRouted.Add(float64(routed))
	telemetry.SpikesDelivered.Add(float64(delivered))
	ctx.Logger.Debug("slice exchanged",
		zap.Int("rounds", rounds),
		zap.Int("routed", routed),
		zap.Int("delivered", delivered))
	return SliceReport{Rounds: rounds, Routed: routed, Delivered: delivered}, nil
}

// deliverReceived walks every sender's subsection of the receive
// buffer and delivers the records addressed to thread tid's
// connectors, chaining through same-source runs. Returns the number
// of events handed to nodes.
func (cm *ConnectionManager) deliverReceived(tid int, recvBuf []uint64, sub, sectionWords int, sliceOrigin float32) int {
	ctx := cm.ctx
	delivered := 0
	keepSrc := ctx.KeepSourceTable && !cm.src.IsCleared()
	for from := 0; from < len(recvBuf)/sectionWords; from++ {
		for st := 0; st < ctx.NumThreads; st++ {
			base := from*sectionWords + st*sub
			for i := 0; i < sub; i++ {
				sd := SpikeData(recvBuf[base+i])
				if sd.Marker() != MarkerValid {
					break
				}
				if sd.Tid() != tid {
					continue
				}
				ev := SpikeEvent{
					Lag:  sd.Lag(),
					Time: sliceOrigin + float32(sd.Lag())*ctx.Resolution,
				}
				if keepSrc {
					ev.SourceGID = cm.src.Source(tid, sd.SynIndex(), sd.Lcid()).GID()
				}
				delivered += cm.forest[tid].Send(tid, sd.SynIndex(), sd.Lcid(), &ev, ctx.Nodes)
			}
		}
	}
	return delivered
}
