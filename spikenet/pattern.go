// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"github.com/emer/emergent/v2/prjn"
	"github.com/emer/etable/v2/etensor"
)

// ConnectPattern creates connections between two node populations
// following a connectivity pattern (full, one-to-one, circle, sparse
// random and friends). Every rank runs the same call; each stores
// only the connections whose target it owns, so the resulting
// topology is identical regardless of the rank layout.
func (cm *ConnectionManager) ConnectPattern(pat prjn.Pattern, sources, targets []uint64, model string, weight float32, delay int) error {
	var ssh, rsh etensor.Shape
	ssh.SetShape([]int{len(sources)}, nil, nil)
	rsh.SetShape([]int{len(targets)}, nil, nil)
	same := len(sources) == len(targets)
	if same {
		for i := range sources {
			if sources[i] != targets[i] {
				same = false
				break
			}
		}
	}
	_, _, cons := pat.Connect(&ssh, &rsh, same)
	cbits := cons.Values
	ns := len(sources)
	for ri := range targets {
		rbi := ri * ns
		for si := range sources {
			if !cbits.Index(rbi + si) {
				continue
			}
			if err := cm.Connect(sources[si], targets[ri], model, weight, delay, true); err != nil {
				return err
			}
		}
	}
	return nil
}
