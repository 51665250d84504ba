// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"fmt"

	"go.uber.org/zap"
)

// ConfigError reports an invalid configuration value. It is returned
// (never panicked) so callers can surface it to whoever wrote the
// config.
type ConfigError struct {
	Field string
	Value any
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("spikenet: config %s = %v: %s", e.Field, e.Value, e.Msg)
}

// DelayError reports a connection delay outside the configured window.
type DelayError struct {
	Delay    int
	Min, Max int
}

func (e *DelayError) Error() string {
	return fmt.Sprintf("spikenet: delay %d steps outside [%d, %d]", e.Delay, e.Min, e.Max)
}

// RunContext carries the per-rank runtime configuration shared by all
// tables and managers: world geometry, timing grid, exchange sizing,
// and the ambient logger. It is immutable after Validate.
type RunContext struct {
	// Rank and NumRanks identify this process in the world.
	Rank     int
	NumRanks int

	// NumThreads is the number of worker threads on this rank.
	NumThreads int

	// Resolution is the simulation step in milliseconds, used only
	// for reporting; all internal timing is in steps.
	Resolution float32

	// MinDelay and MaxDelay bound connection delays in steps.
	// MinDelay is also the slice length: spikes are exchanged once
	// per MinDelay steps.
	MinDelay int
	MaxDelay int

	// ChunkSizeTargetData caps the per-destination section of the
	// handshake buffer, in records. 0 derives the size from the
	// largest local source table via an all-reduce.
	ChunkSizeTargetData int

	// ChunkSizeSpikeData is the per-destination section of the
	// spike buffer, in records. 0 picks a default.
	ChunkSizeSpikeData int

	// KeepSourceTable retains non-disabled source entries after the
	// handshake so connections can still be inspected by sender.
	KeepSourceTable bool

	// MinCompactionErase is the number of erased source entries a
	// Clean pass must reach before backing arrays are reallocated.
	// 0 picks a default.
	MinCompactionErase int

	// Nodes resolves global IDs to ranks, threads and local nodes.
	Nodes NodeRegistry

	// Logger receives structured progress and size reports. Nil
	// means zap.NewNop().
	Logger *zap.Logger
}

const (
	defaultChunkSpikeData     = 64
	defaultMinCompactionErase = 1024
)

// Validate checks the context and fills defaults. Must be called once
// before the context is handed to any table or manager.
func (c *RunContext) Validate() error {
	if c.NumRanks < 1 || c.NumRanks > MaxRanks {
		return &ConfigError{"NumRanks", c.NumRanks, fmt.Sprintf("must be in [1, %d]", MaxRanks)}
	}
	if c.Rank < 0 || c.Rank >= c.NumRanks {
		return &ConfigError{"Rank", c.Rank, "must be in [0, NumRanks)"}
	}
	if c.NumThreads < 1 || c.NumThreads > MaxThreads {
		return &ConfigError{"NumThreads", c.NumThreads, fmt.Sprintf("must be in [1, %d]", MaxThreads)}
	}
	if c.Resolution <= 0 {
		return &ConfigError{"Resolution", c.Resolution, "must be positive"}
	}
	if c.MinDelay < 1 {
		return &ConfigError{"MinDelay", c.MinDelay, "must be at least one step"}
	}
	if c.MaxDelay < c.MinDelay {
		return &ConfigError{"MaxDelay", c.MaxDelay, "must be at least MinDelay"}
	}
	if c.MinDelay > MaxLag {
		return &ConfigError{"MinDelay", c.MinDelay, fmt.Sprintf("slice length exceeds %d lag slots", MaxLag)}
	}
	if c.ChunkSizeTargetData < 0 {
		return &ConfigError{"ChunkSizeTargetData", c.ChunkSizeTargetData, "must not be negative"}
	}
	if c.ChunkSizeSpikeData < 0 {
		return &ConfigError{"ChunkSizeSpikeData", c.ChunkSizeSpikeData, "must not be negative"}
	}
	if c.ChunkSizeSpikeData == 0 {
		c.ChunkSizeSpikeData = defaultChunkSpikeData
	}
	if c.MinCompactionErase < 0 {
		return &ConfigError{"MinCompactionErase", c.MinCompactionErase, "must not be negative"}
	}
	if c.MinCompactionErase == 0 {
		c.MinCompactionErase = defaultMinCompactionErase
	}
	if c.Nodes == nil {
		return &ConfigError{"Nodes", nil, "node registry is required"}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// CheckDelay verifies one connection delay against the window.
func (c *RunContext) CheckDelay(delay int) error {
	if delay < c.MinDelay || delay > c.MaxDelay {
		return &DelayError{Delay: delay, Min: c.MinDelay, Max: c.MaxDelay}
	}
	return nil
}
