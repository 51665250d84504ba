// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import "cogentcore.org/core/mat32"

// CommonProps holds properties shared by every connection of one
// synapse model instance, looked up once per delivery instead of
// being replicated per connection.
type CommonProps struct {
	// VtGID is the global ID of a modulatory volume transmitter,
	// 0 when the model has none.
	VtGID uint64
	// WeightRecorderGID is the global ID of a weight recorder
	// attached to the model, 0 when none.
	WeightRecorderGID uint64
}

// Connection is one synapse instance inside a homogeneous connector.
// Implementations are plain structs; the connector stores them by
// value and hands out pointers, so all methods take pointer receivers.
type Connection interface {
	// Build initializes the connection toward the thread-local
	// node targetLid with the given weight and delay in steps.
	Build(targetLid int, weight float32, delay int)
	TargetLid() int
	Weight() float32
	SetWeight(w float32)
	Delay() int
	SetDelay(steps int)
	// Send delivers one presynaptic spike to target. tLastSpike is
	// the time of the previous spike through this connector, for
	// models that integrate over inter-spike intervals.
	Send(ev *SpikeEvent, target Node, cp *CommonProps, tLastSpike float32)
}

// ModulatedConnection is implemented by connection types whose
// weights respond to volume-transmitted modulatory events.
type ModulatedConnection interface {
	TriggerWeightUpdate(events []SpikeEvent, cp *CommonProps)
}

// StaticSyn is a fixed-weight connection: delivery copies weight and
// delay into the event and leaves no trace.
type StaticSyn struct {
	Tgt int32
	Wt  float32
	Del int32
}

func (sy *StaticSyn) Build(targetLid int, weight float32, delay int) {
	sy.Tgt = int32(targetLid)
	sy.Wt = weight
	sy.Del = int32(delay)
}

func (sy *StaticSyn) TargetLid() int      { return int(sy.Tgt) }
func (sy *StaticSyn) Weight() float32     { return sy.Wt }
func (sy *StaticSyn) SetWeight(w float32) { sy.Wt = w }
func (sy *StaticSyn) Delay() int          { return int(sy.Del) }
func (sy *StaticSyn) SetDelay(steps int)  { sy.Del = int32(steps) }

func (sy *StaticSyn) Send(ev *SpikeEvent, target Node, cp *CommonProps, tLastSpike float32) {
	ev.Weight = sy.Wt
	ev.Delay = int(sy.Del)
	target.HandleSpike(ev)
}

// STDPSyn is a spike-timing dependent plasticity connection with an
// exponential presynaptic trace. Each presynaptic spike decays the
// trace over the inter-spike interval, facilitates the weight toward
// WMax, and then bumps the trace.
type STDPSyn struct {
	Tgt int32
	Wt  float32
	Del int32

	TauPlus float32 // trace time constant, ms
	Lambda  float32 // potentiation step
	MuPlus  float32 // weight dependence exponent
	WMax    float32
	KPlus   float32 // presynaptic trace
}

// STDPDefaults are the model defaults applied by Build when the
// parameters are zero.
var STDPDefaults = STDPSyn{TauPlus: 20, Lambda: 0.01, MuPlus: 1, WMax: 100}

func (sy *STDPSyn) Build(targetLid int, weight float32, delay int) {
	if sy.TauPlus == 0 {
		*sy = STDPDefaults
	}
	sy.Tgt = int32(targetLid)
	sy.Wt = weight
	sy.Del = int32(delay)
}

func (sy *STDPSyn) TargetLid() int      { return int(sy.Tgt) }
func (sy *STDPSyn) Weight() float32     { return sy.Wt }
func (sy *STDPSyn) SetWeight(w float32) { sy.Wt = w }
func (sy *STDPSyn) Delay() int          { return int(sy.Del) }
func (sy *STDPSyn) SetDelay(steps int)  { sy.Del = int32(steps) }

func (sy *STDPSyn) Send(ev *SpikeEvent, target Node, cp *CommonProps, tLastSpike float32) {
	dt := ev.Time - tLastSpike
	if dt > 0 {
		sy.KPlus *= mat32.FastExp(-dt / sy.TauPlus)
	}
	if sy.WMax > 0 && sy.Wt < sy.WMax {
		norm := sy.Wt / sy.WMax
		sy.Wt += sy.Lambda * mat32.Pow(1-norm, sy.MuPlus) * sy.KPlus * sy.WMax
		if sy.Wt > sy.WMax {
			sy.Wt = sy.WMax
		}
	}
	sy.KPlus += 1
	ev.Weight = sy.Wt
	ev.Delay = int(sy.Del)
	target.HandleSpike(ev)
}

// TriggerWeightUpdate applies modulatory events: each event nudges
// the weight by Lambda times the event weight, clipped to [0, WMax].
func (sy *STDPSyn) TriggerWeightUpdate(events []SpikeEvent, cp *CommonProps) {
	for i := range events {
		sy.Wt += sy.Lambda * events[i].Weight
	}
	if sy.Wt < 0 {
		sy.Wt = 0
	}
	if sy.WMax > 0 && sy.Wt > sy.WMax {
		sy.Wt = sy.WMax
	}
}
