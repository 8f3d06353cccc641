package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/ohowland/cgc_scenario/internal/pkg/compare"
	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/scenario"
	"github.com/ohowland/cgc_scenario/internal/pkg/solver"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"
	"gotest.tools/v3/assert"
)

func trainingNetwork(t *testing.T) *model.Network {
	def := []byte(`{
		"Name": "test",
		"SourceBus": "a",
		"Buses": [{"ID": "a", "BaseKV": 12.47}, {"ID": "b", "BaseKV": 12.47}],
		"Loads": [{"ID": "l1", "Bus": "b", "KW": 100, "KVAR": 20}],
		"Generators": [{"ID": "g1", "Bus": "b", "KW": 25, "KVAR": 0}],
		"Branches": [{"ID": "line1", "FromBus": "a", "ToBus": "b", "R": 0.5, "X": 1.0}]}`)
	net, err := model.New(def)
	assert.NilError(t, err)
	return net
}

func TestTrainingExport(t *testing.T) {
	net := trainingNetwork(t)
	scale := 1.5

	converged := study.Report{
		Scenario: "heavier",
		Set: scenario.Set{Name: "heavier", Mutations: []scenario.Mutation{
			{Kind: scenario.LoadChange, Target: "l1", Scale: &scale},
		}},
		Result: compare.Result{Rows: []compare.Row{
			{Bus: "a", Mod: solver.Sample{Bus: "a", Mag: 1.0}},
			{Bus: "b", Mod: solver.Sample{Bus: "b", Mag: 0.97}},
		}},
	}
	failed := study.Report{
		Scenario: "diverging",
		Set:      scenario.Set{Name: "diverging"},
		SolveErr: &solver.DivergedError{Iterations: 1000, Detail: "islanded"},
		Result: compare.Result{Rows: []compare.Row{
			{Bus: "a", Lost: true, Violation: true},
			{Bus: "b", Lost: true, Violation: true},
		}},
	}

	var buf bytes.Buffer
	err := NewTraining(&buf).Export(net, []study.Report{converged, failed})
	assert.NilError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	assert.NilError(t, err)

	assert.Equal(t, len(records), 2, "non-converged reports must be skipped")

	header := records[0]
	assert.DeepEqual(t, header, []string{
		"load_l1_kw", "load_l1_kvar", "gen_g1_kw", "gen_g1_kvar", "bus_a_vpu", "bus_b_vpu",
	})

	row := records[1]
	assert.Equal(t, row[0], "150.000000")
	assert.Equal(t, row[1], "30.000000")
	assert.Equal(t, row[2], "25.000000")
	assert.Equal(t, row[4], "1.000000")
	assert.Equal(t, row[5], "0.970000")
}

func TestTrainingExportLostLabelBlank(t *testing.T) {
	net := trainingNetwork(t)

	report := study.Report{
		Scenario: "partial",
		Set:      scenario.Set{Name: "partial"},
		Result: compare.Result{Rows: []compare.Row{
			{Bus: "a", Mod: solver.Sample{Bus: "a", Mag: 1.0}},
			{Bus: "b", Lost: true, Violation: true},
		}},
	}

	var buf bytes.Buffer
	err := NewTraining(&buf).Export(net, []study.Report{report})
	assert.NilError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	assert.NilError(t, err)
	assert.Equal(t, records[1][5], "", "lost bus must render a blank label")
}

func TestTrainingExportBadSet(t *testing.T) {
	net := trainingNetwork(t)
	scale := 1.5

	report := study.Report{
		Scenario: "typo",
		Set: scenario.Set{Name: "typo", Mutations: []scenario.Mutation{
			{Kind: scenario.LoadChange, Target: "l9", Scale: &scale},
		}},
	}

	var buf bytes.Buffer
	err := NewTraining(&buf).Export(net, []study.Report{report})

	var unknown *scenario.UnknownTargetError
	assert.Assert(t, errors.As(err, &unknown))
}
