/*
compare.go Per-bus comparison of two steady-state solutions. Compare is pure:
it reads already-materialized inputs and allocates a result, nothing else, so
it is testable with hand-built solutions and needs no solver present.
*/

package compare

import (
	"math"

	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver"
)

// Thresholds configures violation flagging.
type Thresholds struct {
	PctDelta float64 `json:"PctDelta"`
}

// DefaultThresholds is the ANSI C84.1 service band, +/- 5 percent.
func DefaultThresholds() Thresholds {
	return Thresholds{PctDelta: 5.0}
}

// Row is the comparison for one bus. Lost marks a bus with no modified
// sample; Delta and Pct are zero for lost rows.
type Row struct {
	Bus       string        `json:"Bus"`
	Base      solver.Sample `json:"Base"`
	Mod       solver.Sample `json:"Mod"`
	Lost      bool          `json:"Lost"`
	Delta     float64       `json:"Delta"`
	Pct       float64       `json:"Pct"`
	Violation bool          `json:"Violation"`
}

// Result holds exactly one row per model bus, in model enumeration order, so
// repeated runs render byte-identical tables.
type Result struct {
	Thresholds Thresholds `json:"Thresholds"`
	Rows       []Row      `json:"Rows"`
}

// Violations counts the flagged rows.
func (r Result) Violations() int {
	count := 0
	for _, row := range r.Rows {
		if row.Violation {
			count++
		}
	}
	return count
}

// Compare evaluates the modified solution against the baseline. A bus absent
// from the modified solution is reported lost with the violation flag set; a
// baseline magnitude of exactly zero yields Pct 0 rather than a panic. An
// empty modified solution is valid input and produces an all-lost result.
func Compare(net *model.Network, base, mod solver.Solution, th Thresholds) Result {
	buses := net.Buses()
	rows := make([]Row, 0, len(buses))

	for _, bus := range buses {
		row := Row{Bus: bus.ID}
		row.Base, _ = base.Sample(bus.ID)

		modSample, ok := mod.Sample(bus.ID)
		if !ok {
			row.Lost = true
			row.Violation = true
			rows = append(rows, row)
			continue
		}

		row.Mod = modSample
		row.Delta = modSample.Mag - row.Base.Mag
		if row.Base.Mag != 0 {
			row.Pct = row.Delta / row.Base.Mag * 100
		}
		row.Violation = math.Abs(row.Pct) > th.PctDelta
		rows = append(rows, row)
	}

	return Result{Thresholds: th, Rows: rows}
}
