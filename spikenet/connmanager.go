// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/emsim/spikenet/dsort"
	"github.com/emsim/spikenet/telemetry"
)

// ConnectionManager owns the per-thread connection forests and both
// routing tables, orchestrates connection creation, the source to
// target handshake, and per-slice spike exchange.
type ConnectionManager struct {
	ctx    *RunContext
	models *ModelTable

	src    *SourceTable
	tgt    *TargetTable
	forest []*HetConnector // per thread

	handshakeDone bool
}

func NewConnectionManager(ctx *RunContext, models *ModelTable) *ConnectionManager {
	cm := &ConnectionManager{
		ctx:    ctx,
		models: models,
		src:    NewSourceTable(ctx),
		tgt:    NewTargetTable(ctx),
		forest: make([]*HetConnector, ctx.NumThreads),
	}
	for t := range cm.forest {
		cm.forest[t] = NewHetConnector()
	}
	cm.src.MarkSubsequent = func(tid, si, lcid int, on bool) {
		cm.forest[tid].Child(si).SetSourceSubsequent(lcid, on)
	}
	return cm
}

// SourceTable exposes the presynaptic table for inspection and tests.
func (cm *ConnectionManager) SourceTable() *SourceTable { return cm.src }

// TargetTable exposes the postsynaptic table for inspection and tests.
func (cm *ConnectionManager) TargetTable() *TargetTable { return cm.tgt }

// Connector returns thread tid's forest.
func (cm *ConnectionManager) Connector(tid int) *HetConnector { return cm.forest[tid] }

// HandshakeDone reports whether CommunicateTargets has run since the
// last topology change.
func (cm *ConnectionManager) HandshakeDone() bool { return cm.handshakeDone }

// Connect creates one connection from source gid sgid to target gid
// tgid with the named synapse model. Only the rank owning the target
// stores anything; other ranks return having done nothing, so callers
// issue the same Connect on every rank. Primary selects the spike
// exchange; secondary event streams keep their own buffers.
func (cm *ConnectionManager) Connect(sgid, tgid uint64, model string, weight float32, delay int, primary bool) error {
	m, ok := cm.models.ByName(model)
	if !ok {
		return &ConfigError{"model", model, "synapse model not registered"}
	}
	if sgid > MaxGID {
		return &ConfigError{"sgid", sgid, "global id out of range"}
	}
	if !cm.ctx.Nodes.IsLocal(tgid) {
		return nil
	}
	if err := cm.ctx.CheckDelay(delay); err != nil {
		return err
	}
	tid := cm.ctx.Nodes.ThreadOf(tgid)
	lid := cm.ctx.Nodes.LocalID(tgid)

	if cm.handshakeDone {
		cm.restructure()
	}

	si := cm.forest[tid].ChildFor(m.ID)
	if si < 0 {
		if cm.forest[tid].NumChildren() >= MaxSynTypes {
			return &ConfigError{"model", model, fmt.Sprintf("more than %d synapse types on one thread", MaxSynTypes)}
		}
		si = cm.forest[tid].AddChild(m.NewConnector(m))
		rsi := cm.src.Reserve(tid, m.ID, 0)
		if rsi != si {
			panic(fmt.Sprintf("spikenet: source table index %d diverged from connector index %d", rsi, si))
		}
	}
	conn := cm.forest[tid].Child(si)
	lcid := conn.Add(lid, weight, delay)
	slcid := cm.src.AddSource(tid, si, NewSource(sgid, primary))
	if lcid != slcid {
		panic(fmt.Sprintf("spikenet: connection lcid %d diverged from source lcid %d", lcid, slcid))
	}
	return nil
}

// Disconnect marks the connection from sgid to tgid under the given
// model disabled on both sides. The entry stays in place until a
// compaction pass; delivery skips it. Reports whether a matching live
// connection was found on this rank.
func (cm *ConnectionManager) Disconnect(sgid, tgid uint64, model string) (bool, error) {
	m, ok := cm.models.ByName(model)
	if !ok {
		return false, &ConfigError{"model", model, "synapse model not registered"}
	}
	if !cm.ctx.Nodes.IsLocal(tgid) {
		return false, nil
	}
	if cm.src.IsCleared() {
		return false, &ConfigError{"model", model, "source table was cleared, disconnection needs KeepSourceTable"}
	}
	tid := cm.ctx.Nodes.ThreadOf(tgid)
	lid := cm.ctx.Nodes.LocalID(tgid)
	si := cm.forest[tid].ChildFor(m.ID)
	if si < 0 {
		return false, nil
	}
	conn := cm.forest[tid].Child(si)
	for lcid := 0; lcid < conn.Len(); lcid++ {
		s := cm.src.Source(tid, si, lcid)
		if s.GID() != sgid || s.IsDisabled() || conn.TargetLid(lcid) != lid || conn.IsDisabled(lcid) {
			continue
		}
		conn.Disable(lcid)
		cm.src.DisableSource(tid, si, lcid)
		return true, nil
	}
	return false, nil
}

// SortConnections orders every (thread, synapse type) sequence by
// source gid, permuting connections and source entries in tandem so
// same-source runs become contiguous and the handshake announces one
// chain start per run. Disabled entries sort to the end of their
// sequence.
func (cm *ConnectionManager) SortConnections() {
	for tid := range cm.forest {
		for si := 0; si < cm.forest[tid].NumChildren(); si++ {
			s := cm.src.sources[tid][si]
			n := len(s)
			if n < 2 {
				continue
			}
			keys := make([]uint64, n)
			perm := make([]int, n)
			for i, e := range s {
				if e.IsDisabled() {
					keys[i] = ^uint64(0)
				} else {
					keys[i] = e.GID()
				}
				perm[i] = i
			}
			dsort.Sort(keys, perm)
			ns := make([]Source, n)
			for i, p := range perm {
				ns[i] = s[p]
			}
			cm.src.sources[tid][si] = ns
			cm.forest[tid].Child(si).Permute(perm)
		}
	}
}

// restructure drops the consumed target table so a fresh handshake
// can rebuild it after a topology change. The source table must still
// be around; topology changes after a non-keeping handshake are a
// contract violation.
func (cm *ConnectionManager) restructure() {
	if cm.src.IsCleared() {
		panic("spikenet: topology change after the source table was cleared")
	}
	for t := 0; t < cm.ctx.NumThreads; t++ {
		cm.tgt.Clear(t)
		cm.src.ResetProcessedFlags(t)
	}
	cm.handshakeDone = false
}

// NumConnections counts live connections on this rank, optionally
// restricted to one synapse model ID (pass -1 for all).
func (cm *ConnectionManager) NumConnections(synID int) int {
	n := 0
	for tid := range cm.forest {
		h := cm.forest[tid]
		for si := 0; si < h.NumChildren(); si++ {
			c := h.Child(si)
			if synID >= 0 && c.SynID() != synID {
				continue
			}
			for lcid := 0; lcid < c.Len(); lcid++ {
				if !c.IsDisabled(lcid) {
					n++
				}
			}
		}
	}
	return n
}

// ConnInfo describes one connection for introspection.
type ConnInfo struct {
	SourceGID uint64
	TargetGID uint64
	Thread    int
	SynID     int
	Lcid      int
	Weight    float32
	Delay     int
}

// Connections lists live connections in insertion order, filtered by
// source gid (pass 0 targetGID to match any target, -1 synID for any
// model). Linear in the forest size; meant for inspection, not hot
// paths. Requires the source table.
func (cm *ConnectionManager) Connections(sgid, tgid uint64, synID int) ([]ConnInfo, error) {
	if cm.src.IsCleared() {
		return nil, &ConfigError{"sgid", sgid, "source table was cleared, introspection needs KeepSourceTable"}
	}
	var out []ConnInfo
	for tid := range cm.forest {
		h := cm.forest[tid]
		for si := 0; si < h.NumChildren(); si++ {
			c := h.Child(si)
			if synID >= 0 && c.SynID() != synID {
				continue
			}
			for lcid := 0; lcid < c.Len(); lcid++ {
				if c.IsDisabled(lcid) {
					continue
				}
				s := cm.src.Source(tid, si, lcid)
				if s.IsDisabled() || s.GID() != sgid {
					continue
				}
				gt := cm.ctx.Nodes.GIDAt(cm.ctx.Rank, tid, c.TargetLid(lcid))
				if tgid != 0 && gt != tgid {
					continue
				}
				out = append(out, ConnInfo{
					SourceGID: s.GID(),
					TargetGID: gt,
					Thread:    tid,
					SynID:     c.SynID(),
					Lcid:      lcid,
					Weight:    c.Weight(lcid),
					Delay:     c.Delay(lcid),
				})
			}
		}
	}
	return out, nil
}

// TriggerWeightUpdate forwards a modulatory event batch to every
// connector whose model references the given volume transmitter.
func (cm *ConnectionManager) TriggerWeightUpdate(vtGID uint64, events []SpikeEvent) {
	for tid := range cm.forest {
		h := cm.forest[tid]
		for si := 0; si < h.NumChildren(); si++ {
			h.Child(si).TriggerWeightUpdate(vtGID, events)
		}
	}
}

// RecordSpike enters a spike of the local node owning gid at slice
// slot lag, queuing it for the next gather.
func (cm *ConnectionManager) RecordSpike(gid uint64, lag int) {
	if !cm.ctx.Nodes.IsLocal(gid) {
		panic(fmt.Sprintf("spikenet: spike of non-local gid %d", gid))
	}
	cm.tgt.RecordSpike(cm.ctx.Nodes.ThreadOf(gid), cm.ctx.Nodes.LocalID(gid), lag)
}

// SizeReport logs the memory footprint of the routing structures.
func (cm *ConnectionManager) SizeReport() {
	var forestBytes uintptr
	for _, h := range cm.forest {
		forestBytes += h.MemBytes()
	}
	srcBytes := cm.src.MemBytes()
	tgtBytes := cm.tgt.MemBytes()
	telemetry.TableBytes.WithLabelValues("sources").Set(float64(srcBytes))
	telemetry.TableBytes.WithLabelValues("targets").Set(float64(tgtBytes))
	telemetry.TableBytes.WithLabelValues("connections").Set(float64(forestBytes))
	cm.ctx.Logger.Info("routing table sizes",
		zap.String("sources", datasize.ByteSize(srcBytes).HumanReadable()),
		zap.String("targets", datasize.ByteSize(tgtBytes).HumanReadable()),
		zap.String("connections", datasize.ByteSize(forestBytes).HumanReadable()),
		zap.Int("live_connections", cm.NumConnections(-1)),
	)
}
