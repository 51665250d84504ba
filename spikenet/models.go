// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"fmt"
	"sort"
)

// SynModel is one registered synapse model: a name, its shared
// properties, and a factory producing a fresh connector for a thread.
type SynModel struct {
	ID    int
	Name  string
	Props *CommonProps
	// NewConnector builds an empty connector bound to this model.
	NewConnector func(m *SynModel) ConnBase
}

// ModelTable is the synapse model registry. Models are registered once
// at setup, before any connections exist; lookups during connection
// building are read-only.
type ModelTable struct {
	models []*SynModel
	byName map[string]int
}

func NewModelTable() *ModelTable {
	return &ModelTable{byName: make(map[string]int)}
}

// Register adds a model under name and returns its ID. Names are
// unique; re-registering is an error.
func (mt *ModelTable) Register(name string, props *CommonProps, newConn func(m *SynModel) ConnBase) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("spikenet: empty synapse model name")
	}
	if _, ok := mt.byName[name]; ok {
		return 0, fmt.Errorf("spikenet: synapse model %q already registered", name)
	}
	if props == nil {
		props = &CommonProps{}
	}
	m := &SynModel{ID: len(mt.models), Name: name, Props: props, NewConnector: newConn}
	mt.models = append(mt.models, m)
	mt.byName[name] = m.ID
	return m.ID, nil
}

// CopyModel registers a new model sharing the factory of an existing
// one but with its own property block, the way model variants are
// derived from builtins. The new model gets a copy of props so later
// edits stay local.
func (mt *ModelTable) CopyModel(from, to string, props *CommonProps) (int, error) {
	src, ok := mt.ByName(from)
	if !ok {
		return 0, fmt.Errorf("spikenet: synapse model %q not registered", from)
	}
	if props == nil {
		p := *src.Props
		props = &p
	}
	return mt.Register(to, props, src.NewConnector)
}

// ByName looks a model up by name.
func (mt *ModelTable) ByName(name string) (*SynModel, bool) {
	i, ok := mt.byName[name]
	if !ok {
		return nil, false
	}
	return mt.models[i], true
}

// Model returns the model with the given ID.
func (mt *ModelTable) Model(id int) *SynModel { return mt.models[id] }

// Len is the number of registered models.
func (mt *ModelTable) Len() int { return len(mt.models) }

// Names returns the registered model names, sorted.
func (mt *ModelTable) Names() []string {
	ns := make([]string, 0, len(mt.byName))
	for n := range mt.byName {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

// RegisterBuiltins registers the stock models: "static" and "stdp".
func (mt *ModelTable) RegisterBuiltins() {
	mt.Register("static", nil, func(m *SynModel) ConnBase {
		return NewConnector[StaticSyn](m.ID, m.Props)
	})
	mt.Register("stdp", nil, func(m *SynModel) ConnBase {
		return NewConnector[STDPSyn](m.ID, m.Props)
	})
}
