// Copyright (c) 2024, The Spikenet Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spikenet

import (
	"github.com/emer/etable/v2/etable"
	"github.com/emer/etable/v2/etensor"
)

// StatsRecorder accumulates one row of exchange statistics per time
// slice into a table, for plotting or saving alongside simulation
// logs.
type StatsRecorder struct {
	Table *etable.Table
}

func NewStatsRecorder() *StatsRecorder {
	sr := &StatsRecorder{Table: &etable.Table{}}
	sch := etable.Schema{
		{Name: "Slice", Type: etensor.INT64, CellShape: nil, DimNames: nil},
		{Name: "Time", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "Rounds", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "Routed", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
		{Name: "Delivered", Type: etensor.FLOAT64, CellShape: nil, DimNames: nil},
	}
	sr.Table.SetFromSchema(sch, 0)
	return sr
}

// Record appends one slice's report.
func (sr *StatsRecorder) Record(slice int, origin float32, rep SliceReport) {
	row := sr.Table.Rows
	sr.Table.AddRows(1)
	sr.Table.SetCellFloat("Slice", row, float64(slice))
	sr.Table.SetCellFloat("Time", row, float64(origin))
	sr.Table.SetCellFloat("Rounds", row, float64(rep.Rounds))
	sr.Table.SetCellFloat("Routed", row, float64(rep.Routed))
	sr.Table.SetCellFloat("Delivered", row, float64(rep.Delivered))
}

// TotalDelivered sums the Delivered column.
func (sr *StatsRecorder) TotalDelivered() float64 {
	t := 0.0
	for row := 0; row < sr.Table.Rows; row++ {
		t += sr.Table.CellFloat("Delivered", row)
	}
	return t
}
