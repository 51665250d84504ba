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

const targetDataWords = 2

// rankRange returns the half-open destination-rank range worker tid
// owns when nt workers split nr ranks.
func rankRange(tid, nt, nr int) (int, int) {
	return tid * nr / nt, (tid + 1) * nr / nt
}

// CommunicateTargets runs the source to target handshake: repeated
// bounded all-to-all rounds that convert every live source entry into
// a target entry on the rank owning the source, so that rank can later
// route its spikes here. The target table is rebuilt from scratch on
// every call, so a topology change on any rank only requires that all
// ranks call here again together. Collective: every rank must enter,
// deadlocks otherwise.
//
// Within a round every worker thread fills buffer sections for its own
// share of destination ranks, resuming its table scan exactly where
// the previous round stopped. A rank announces completion in all its
// sections or none, so every rank derives the same notion of who is
// done and the rounds terminate together.
func (cm *ConnectionManager) CommunicateTargets(comm exchange.Comm) error {
	ctx := cm.ctx
	if comm.NumRanks() != ctx.NumRanks || comm.Rank() != ctx.Rank {
		return &ConfigError{"comm", comm.Rank(), "exchange geometry does not match the run context"}
	}
	if cm.handshakeDone && cm.src.IsCleared() {
		return &ConfigError{"KeepSourceTable", false, "rerunning the handshake needs the source table"}
	}

	chunk := ctx.ChunkSizeTargetData
	if chunk == 0 {
		need, err := comm.AllReduceMaxInt(cm.src.MaxEntries())
		if err != nil {
			return fmt.Errorf("spikenet: sizing handshake buffers: %w", err)
		}
		chunk = need + 1 // spare slot for the marker
	}
	if chunk < 1 {
		chunk = 1
	}

	nt := ctx.NumThreads
	nr := ctx.NumRanks
	sectionWords := chunk * targetDataWords
	sendBuf := make([]uint64, nr*sectionWords)
	recvBuf := make([]uint64, nr*sectionWords)

	cm.tgt.Prepare()
	cm.src.PrepareScan()
	for t := 0; t < nt; t++ {
		cm.tgt.Clear(t)
		cm.src.ResetProcessedFlags(t)
		cm.src.ResetEntryPoint(t)
	}

	sendersDone := make([]bool, nr)
	fillIdx := make([]int, nr)
	workerDone := make([]bool, nt)
	added := 0
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
		for r := range fillIdx {
			fillIdx[r] = 0
		}

		// fill phase: each worker scans the table for its ranks
		var wg sync.WaitGroup
		for t := 0; t < nt; t++ {
			wg.Add(1)
			go func(tid int) {
				defer wg.Done()
				rs, re := rankRange(tid, nt, nr)
				cm.src.RestoreEntryPoint(tid)
				workerDone[tid] = false
				for {
					td, rank, ok := cm.src.NextTargetData(tid, rs, re)
					if !ok {
						workerDone[tid] = true
						break
					}
					if fillIdx[rank] == chunk {
						cm.src.RejectLastTargetData(tid)
						break
					}
					w := rank*sectionWords + fillIdx[rank]*targetDataWords
					sendBuf[w] = td[0]
					sendBuf[w+1] = td[1]
					fillIdx[rank]++
				}
				cm.src.SaveEntryPoint(tid)
			}(t)
		}
		wg.Wait()

		// marker pass: completion is announced in every section or
		// none, so all ranks agree on who is done
		selfDone := true
		for _, d := range workerDone {
			selfDone = selfDone && d
		}
		canAnnounce := selfDone
		for r := 0; r < nr; r++ {
			if fillIdx[r] == chunk {
				canAnnounce = false
			}
		}
		marker := MarkerEnd
		if canAnnounce {
			marker = MarkerComplete
		}
		for r := 0; r < nr; r++ {
			if fillIdx[r] < chunk {
				md := TargetDataMarker(marker)
				w := r*sectionWords + fillIdx[r]*targetDataWords
				sendBuf[w] = md[0]
				sendBuf[w+1] = md[1]
			}
		}

		if err := comm.AllToAll(sendBuf, recvBuf, sectionWords); err != nil {
			return fmt.Errorf("spikenet: handshake exchange: %w", err)
		}
		telemetry.ExchangeRounds.WithLabelValues("handshake").Inc()
		telemetry.ExchangeWords.WithLabelValues("handshake").Add(float64(len(sendBuf)))

		// distribute phase: each worker adopts the records of its
		// own nodes
		addedPer := make([]int, nt)
		for t := 0; t < nt; t++ {
			wg.Add(1)
			go func(tid int) {
				defer wg.Done()
				for from := 0; from < nr; from++ {
					base := from * sectionWords
					for i := 0; i < chunk; i++ {
						var td TargetData
						td[0] = recvBuf[base+i*targetDataWords]
						td[1] = recvBuf[base+i*targetDataWords+1]
						if td.Marker() != MarkerValid {
							break
						}
						if td.SourceTid() != tid {
							continue
						}
						cm.tgt.AddTarget(tid, td.SourceLid(), td.Target())
						addedPer[tid]++
					}
				}
			}(t)
		}
		wg.Wait()
		for _, a := range addedPer {
			added += a
		}

		// completion scan: the marker closing a section tells us
		// whether its sender has more rounds to go
		for from := 0; from < nr; from++ {
			base := from * sectionWords
			for i := 0; i < chunk; i++ {
				var td TargetData
				td[0] = recvBuf[base+i*targetDataWords]
				td[1] = recvBuf[base+i*targetDataWords+1]
				if m := td.Marker(); m != MarkerValid {
					if m == MarkerComplete {
						sendersDone[from] = true
					}
					break
				}
			}
		}

		// reclaim announced entries as we go, but only when the table
		// is dropped afterwards anyway: a kept table must stay aligned
		// with the connector indices the targets just received
		if !ctx.KeepSourceTable {
			for t := 0; t < nt; t++ {
				cm.src.Clean(t)
			}
			cm.src.PrepareScan()
		}

		ctx.Logger.Debug("handshake round",
			zap.Int("round", rounds),
			zap.Int("added", added),
			zap.Bool("self_done", canAnnounce))
	}

	if !ctx.KeepSourceTable {
		cm.src.Clear()
	} else {
		for t := 0; t < nt; t++ {
			cm.src.ResetProcessedFlags(t)
		}
	}
	var total float64
	for t := 0; t < nt; t++ {
		total += float64(cm.tgt.NumTargets(t))
	}
	telemetry.TargetEntries.Add(total)
	cm.handshakeDone = true
	ctx.Logger.Info("handshake complete",
		zap.Int("rounds", rounds),
		zap.Int("targets_added", added),
		zap.Int("chunk", chunk))
	return nil
}
