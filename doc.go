// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package spikenet is the overall repository for the spikenet distributed
spike-routing core: the presynaptic / postsynaptic connection
infrastructure of a large-scale spiking neural network simulator.

This top-level of the repository has no functional code -- everything is
organized into the following sub-packages:

* spikenet: the core routing machinery -- packed Source / Target /
SpikeData / TargetData records, the per-thread SourceTable and
TargetTable with their resumable cursors, homogeneous and heterogeneous
connectors holding the actual synapses, and the ConnectionManager that
drives the bounded multi-round source-to-target handshake and the
per-slice spike exchange.

* exchange: the collective communication boundary -- a small Comm
interface with an in-process multi-rank implementation for tests and
single-machine runs, and an MPI-backed implementation.

* telemetry: prometheus counters and gauges for rounds, routed spikes
and table sizes.

* dsort: tandem dual-slice sorting used to order connections by source
so that same-source runs can be detected and batched.

* examples: runnable programs; examples/ring runs a two-rank in-process
network end to end.
*/
package spikenet
