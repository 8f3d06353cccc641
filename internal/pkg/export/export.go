/*
export.go Thin adapters between a finished comparison and the outside world.
The core hands collaborators an ordered, read-only result; everything here is
serialization, no analysis.
*/

package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/ohowland/cgc_scenario/internal/pkg/compare"
)

// Exporter receives a finished comparison. Implementations choose the medium.
type Exporter interface {
	Export(res compare.Result) error
}

// CSV writes one row per bus in model order. Lost buses render blank
// modified columns.
type CSV struct {
	w io.Writer
}

// NewCSV returns a CSV exporter targeting w.
func NewCSV(w io.Writer) *CSV {
	return &CSV{w}
}

// Export writes the comparison table.
func (c *CSV) Export(res compare.Result) error {
	w := csv.NewWriter(c.w)

	header := []string{
		"bus_id",
		"baseline_magnitude",
		"baseline_angle",
		"modified_magnitude",
		"modified_angle",
		"delta",
		"pct_delta",
		"violation",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, row := range res.Rows {
		modMag, modAngle := "", ""
		if !row.Lost {
			modMag = formatFloat(row.Mod.Mag)
			modAngle = formatFloat(row.Mod.Angle)
		}
		record := []string{
			row.Bus,
			formatFloat(row.Base.Mag),
			formatFloat(row.Base.Angle),
			modMag,
			modAngle,
			formatFloat(row.Delta),
			formatFloat(row.Pct),
			strconv.FormatBool(row.Violation),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
