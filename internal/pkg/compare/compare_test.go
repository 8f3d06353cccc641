package compare

import (
	"testing"

	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver"
	"gotest.tools/v3/assert"
)

func testNetwork(t *testing.T) *model.Network {
	def := []byte(`{
		"Name": "test",
		"SourceBus": "a",
		"Buses": [
			{"ID": "a", "BaseKV": 12.47},
			{"ID": "b", "BaseKV": 12.47},
			{"ID": "c", "BaseKV": 12.47}
		],
		"Branches": [
			{"ID": "line1", "FromBus": "a", "ToBus": "b"},
			{"ID": "line2", "FromBus": "b", "ToBus": "c"}
		]}`)
	net, err := model.New(def)
	assert.NilError(t, err)
	return net
}

func solution(samples ...solver.Sample) solver.Solution {
	return solver.NewSolution(samples, 1)
}

func TestCompareAgainstSelf(t *testing.T) {
	net := testNetwork(t)
	s := solution(
		solver.Sample{Bus: "a", Mag: 1.00, Angle: 0.0},
		solver.Sample{Bus: "b", Mag: 0.98, Angle: -1.2},
		solver.Sample{Bus: "c", Mag: 0.97, Angle: -1.8},
	)

	res := Compare(net, s, s, DefaultThresholds())
	assert.Equal(t, len(res.Rows), 3)
	for _, row := range res.Rows {
		assert.Equal(t, row.Delta, 0.0)
		assert.Equal(t, row.Pct, 0.0)
		assert.Assert(t, !row.Lost)
		assert.Assert(t, !row.Violation)
	}
	assert.Equal(t, res.Violations(), 0)
}

func TestCompareRowOrder(t *testing.T) {
	net := testNetwork(t)
	// solver returns samples out of model order
	s := solution(
		solver.Sample{Bus: "c", Mag: 0.97},
		solver.Sample{Bus: "a", Mag: 1.00},
		solver.Sample{Bus: "b", Mag: 0.98},
	)

	res := Compare(net, s, s, DefaultThresholds())
	assert.Equal(t, res.Rows[0].Bus, "a")
	assert.Equal(t, res.Rows[1].Bus, "b")
	assert.Equal(t, res.Rows[2].Bus, "c")
}

func TestCompareLostBus(t *testing.T) {
	net := testNetwork(t)
	base := solution(
		solver.Sample{Bus: "a", Mag: 1.00},
		solver.Sample{Bus: "b", Mag: 0.98},
		solver.Sample{Bus: "c", Mag: 0.97},
	)
	mod := solution(
		solver.Sample{Bus: "a", Mag: 1.00},
		solver.Sample{Bus: "b", Mag: 0.98},
	)

	res := Compare(net, base, mod, DefaultThresholds())
	assert.Assert(t, !res.Rows[1].Lost)

	lost := res.Rows[2]
	assert.Assert(t, lost.Lost)
	assert.Assert(t, lost.Violation)
	assert.Equal(t, lost.Delta, 0.0)
	assert.Equal(t, lost.Pct, 0.0)
}

func TestCompareZeroBaselineMagnitude(t *testing.T) {
	net := testNetwork(t)
	base := solution(
		solver.Sample{Bus: "a", Mag: 0.0},
		solver.Sample{Bus: "b", Mag: 0.98},
		solver.Sample{Bus: "c", Mag: 0.97},
	)
	mod := solution(
		solver.Sample{Bus: "a", Mag: 0.95},
		solver.Sample{Bus: "b", Mag: 0.98},
		solver.Sample{Bus: "c", Mag: 0.97},
	)

	res := Compare(net, base, mod, DefaultThresholds())
	assert.Equal(t, res.Rows[0].Pct, 0.0, "zero baseline magnitude must not divide")
	assert.Equal(t, res.Rows[0].Delta, 0.95)
}

func TestCompareEmptyModifiedSolution(t *testing.T) {
	net := testNetwork(t)
	base := solution(
		solver.Sample{Bus: "a", Mag: 1.00},
		solver.Sample{Bus: "b", Mag: 0.98},
		solver.Sample{Bus: "c", Mag: 0.97},
	)

	res := Compare(net, base, solver.Solution{}, DefaultThresholds())
	assert.Equal(t, len(res.Rows), 3, "a failed modified solve still yields a full table")
	assert.Equal(t, res.Violations(), 3)
	for _, row := range res.Rows {
		assert.Assert(t, row.Lost)
	}
}

func TestCompareThresholdViolation(t *testing.T) {
	def := []byte(`{
		"SourceBus": "a",
		"Buses": [{"ID": "a", "BaseKV": 12.47}, {"ID": "b", "BaseKV": 12.47}]}`)
	net, err := model.New(def)
	assert.NilError(t, err)

	base := solution(
		solver.Sample{Bus: "a", Mag: 1.00},
		solver.Sample{Bus: "b", Mag: 0.98},
	)
	mod := solution(
		solver.Sample{Bus: "a", Mag: 0.95},
	)

	res := Compare(net, base, mod, Thresholds{PctDelta: 3.0})

	a := res.Rows[0]
	assert.Equal(t, a.Delta, 0.95-1.00)
	assert.Equal(t, a.Pct, (0.95-1.00)/1.00*100)
	assert.Assert(t, a.Violation, "a 5 percent sag exceeds a 3 percent threshold")

	b := res.Rows[1]
	assert.Assert(t, b.Lost)
	assert.Assert(t, b.Violation)
}

func TestCompareInsideThreshold(t *testing.T) {
	net := testNetwork(t)
	base := solution(
		solver.Sample{Bus: "a", Mag: 1.00},
		solver.Sample{Bus: "b", Mag: 1.00},
		solver.Sample{Bus: "c", Mag: 1.00},
	)
	mod := solution(
		solver.Sample{Bus: "a", Mag: 1.00},
		solver.Sample{Bus: "b", Mag: 0.99},
		solver.Sample{Bus: "c", Mag: 1.04},
	)

	res := Compare(net, base, mod, DefaultThresholds())
	assert.Equal(t, res.Violations(), 0, "changes inside the band must not flag")
}
