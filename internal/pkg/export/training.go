package export

import (
	"encoding/csv"
	"io"

	"github.com/ohowland/cgc_scenario/internal/pkg/model"
	"github.com/ohowland/cgc_scenario/internal/pkg/study"
)

// Training writes a wide feature/label table for machine learning sweeps:
// effective load and generator demand as features, per-bus voltage magnitude
// as labels, one row per converged scenario report.
type Training struct {
	w io.Writer
}

// NewTraining returns a training-data writer targeting w.
func NewTraining(w io.Writer) *Training {
	return &Training{w}
}

// Export writes the table. Reports whose modified solve failed are skipped;
// a lost bus renders a blank label.
func (t *Training) Export(net *model.Network, reports []study.Report) error {
	w := csv.NewWriter(t.w)

	header := make([]string, 0)
	for _, load := range net.Loads() {
		header = append(header, "load_"+load.ID+"_kw", "load_"+load.ID+"_kvar")
	}
	for _, gen := range net.Generators() {
		header = append(header, "gen_"+gen.ID+"_kw", "gen_"+gen.ID+"_kvar")
	}
	for _, bus := range net.Buses() {
		header = append(header, "bus_"+bus.ID+"_vpu")
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, report := range reports {
		if report.SolveErr != nil {
			continue
		}
		eff, err := report.Set.Apply(net)
		if err != nil {
			return err
		}

		record := make([]string, 0, len(header))
		for _, load := range eff.Loads() {
			record = append(record, formatFloat(load.EffectiveKW()), formatFloat(load.EffectiveKVAR()))
		}
		for _, gen := range eff.Generators() {
			record = append(record, formatFloat(gen.EffectiveKW()), formatFloat(gen.EffectiveKVAR()))
		}
		for _, row := range report.Result.Rows {
			if row.Lost {
				record = append(record, "")
				continue
			}
			record = append(record, formatFloat(row.Mod.Mag))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
